// Package capture provides the video sources a session reads frames from.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/dj-oyu/people-counter/pkg/types"
)

var (
	// ErrBusy is returned by Exclusive when the device is held by another session.
	ErrBusy = errors.New("capture source busy")
	// ErrUnsupported is returned when no opener handles the source.
	ErrUnsupported = errors.New("unsupported video source")
)

// Source yields decoded frames in order. Read returns io.EOF at end of stream.
type Source interface {
	Read() (image.Image, error)
	// FPS is the nominal frame rate; 0 when unknown.
	FPS() float64
	Close() error
}

// Opener opens a video source.
type Opener interface {
	Open(ctx context.Context, src types.VideoSource) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, src types.VideoSource) (Source, error)

func (f OpenerFunc) Open(ctx context.Context, src types.VideoSource) (Source, error) {
	return f(ctx, src)
}

// Router sends http(s) URLs to HTTP and everything else to Local.
type Router struct {
	HTTP  Opener
	Local Opener
}

func (r Router) Open(ctx context.Context, src types.VideoSource) (Source, error) {
	next := r.Local
	if isHTTP(src) {
		next = r.HTTP
	}
	if next == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, src)
	}
	return next.Open(ctx, src)
}

func isHTTP(src types.VideoSource) bool {
	if src.IsDevice {
		return false
	}
	p := strings.ToLower(src.Path)
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

// Exclusive wraps an opener so that a capture device is held by at most one
// source at a time. Paths and URLs are not restricted.
type Exclusive struct {
	next Opener

	mu   sync.Mutex
	held map[string]bool
}

// NewExclusive returns an Exclusive opener around next.
func NewExclusive(next Opener) *Exclusive {
	return &Exclusive{next: next, held: make(map[string]bool)}
}

func (e *Exclusive) Open(ctx context.Context, src types.VideoSource) (Source, error) {
	if !src.IsDevice {
		return e.next.Open(ctx, src)
	}

	key := src.Key()
	e.mu.Lock()
	if e.held[key] {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	e.held[key] = true
	e.mu.Unlock()

	s, err := e.next.Open(ctx, src)
	if err != nil {
		e.release(key)
		return nil, err
	}
	return &heldSource{Source: s, release: func() { e.release(key) }}, nil
}

// Held reports whether the source is currently open through e.
func (e *Exclusive) Held(src types.VideoSource) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held[src.Key()]
}

func (e *Exclusive) release(key string) {
	e.mu.Lock()
	delete(e.held, key)
	e.mu.Unlock()
}

type heldSource struct {
	Source
	once    sync.Once
	release func()
}

func (h *heldSource) Close() error {
	err := h.Source.Close()
	h.once.Do(h.release)
	return err
}
