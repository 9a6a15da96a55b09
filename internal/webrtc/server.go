// Package webrtc runs producer sessions over WebRTC data channels. The viewer
// opens a data channel on its offer; the channel protocol selects the
// envelope format.
package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/people-counter/internal/logger"
	"github.com/dj-oyu/people-counter/internal/protocol"
)

// SessionServer runs one session on an opened data channel.
type SessionServer interface {
	Serve(ctx context.Context, conn protocol.Conn, codec protocol.Codec) error
}

// Client represents a connected WebRTC viewer
type Client struct {
	id       string
	peerConn *webrtc.PeerConnection
	conn     *dataChannelConn
	log      logger.Module
}

// Server manages WebRTC connections
type Server struct {
	ctx        context.Context
	sessions   SessionServer
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	nextID     atomic.Uint64
	log        logger.Module
}

// NewServer creates a new WebRTC server. Sessions started on it end when ctx
// is cancelled.
func NewServer(ctx context.Context, sessions SessionServer, stunServers []string, maxClients int) *Server {
	// Configure ICE servers
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	// If no STUN servers provided, use default
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		}
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	// Data channels only, no media codecs needed
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		ctx:      ctx,
		sessions: sessions,
		clients:  make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		log:        logger.For("WebRTC"),
	}
}

// HandleOffer handles a WebRTC offer and returns an answer. The offer must
// carry a data channel; a session starts on it once it opens.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	if n := s.GetClientCount(); n >= s.maxClients {
		return nil, fmt.Errorf("maximum clients reached (%d)", s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:       fmt.Sprintf("client-%d", s.nextID.Add(1)),
		peerConn: peerConn,
	}
	client.log = s.log.Sub(client.id)

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		client.log.Debug("Connection state: %s", state)
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.RemoveClient(client.id)
		}
	})

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.attach(client, dc)
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete
	client.log.Debug("ICE gathering complete")

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// attach starts a session on the first data channel the viewer opens.
func (s *Server) attach(client *Client, dc *webrtc.DataChannel) {
	s.clientsMu.Lock()
	if client.conn != nil {
		s.clientsMu.Unlock()
		client.log.Warn("Ignoring extra data channel %q", dc.Label())
		dc.Close()
		return
	}
	conn := newDataChannelConn(dc, func() { s.RemoveClient(client.id) })
	client.conn = conn
	s.clientsMu.Unlock()

	dc.SetBufferedAmountLowThreshold(lowBufferedAmount)
	dc.OnBufferedAmountLow(conn.bufferLow)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		kind := protocol.Binary
		if msg.IsString {
			kind = protocol.Text
		}
		if !conn.deliver(kind, msg.Data) {
			client.log.Debug("Dropped %d byte message", len(msg.Data))
		}
	})
	dc.OnClose(func() { conn.Close() })
	dc.OnOpen(func() {
		codec := protocol.CodecFor(dc.Protocol())
		client.log.Info("Data channel %q open (%s)", dc.Label(), codec.Name())
		go func() {
			if err := s.sessions.Serve(s.ctx, conn, codec); err != nil {
				client.log.Warn("Session ended early: %v", err)
			}
		}()
	})
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	delete(s.clients, clientID)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	if client.conn != nil {
		client.conn.Close()
	}
	client.peerConn.Close()
	client.log.Info("Disconnected")
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
