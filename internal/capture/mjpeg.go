package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dj-oyu/people-counter/pkg/types"
)

// MJPEGOpener opens multipart/x-mixed-replace JPEG streams over HTTP.
type MJPEGOpener struct {
	Client *http.Client
}

func (o MJPEGOpener) Open(ctx context.Context, src types.VideoSource) (Source, error) {
	if src.IsDevice {
		return nil, fmt.Errorf("%w: %s is not a URL", ErrUnsupported, src)
	}
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Path, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open %s: %w", src.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open %s: status %d", src.Path, resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open %s: not an MJPEG stream (%q)", src.Path, resp.Header.Get("Content-Type"))
	}

	return &mjpegSource{
		body:   resp.Body,
		parts:  multipart.NewReader(resp.Body, params["boundary"]),
		cancel: cancel,
	}, nil
}

type mjpegSource struct {
	body   io.ReadCloser
	parts  *multipart.Reader
	cancel context.CancelFunc
}

func (s *mjpegSource) Read() (image.Image, error) {
	part, err := s.parts.NextPart()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("next part: %w", err)
	}
	defer part.Close()

	img, err := jpeg.Decode(part)
	if err != nil {
		return nil, fmt.Errorf("decode part: %w", err)
	}
	return img, nil
}

// FPS is unknown for pushed streams.
func (s *mjpegSource) FPS() float64 { return 0 }

func (s *mjpegSource) Close() error {
	s.cancel()
	return s.body.Close()
}
