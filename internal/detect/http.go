package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/people-counter/pkg/types"
)

// HTTPDetector posts each frame as a JPEG form file to an inference service
// and reads back {"detections": [{"x","y","width","height","class","confidence"}]}.
type HTTPDetector struct {
	URL     string
	Client  *http.Client
	Quality int
}

// NewHTTPDetector returns a detector for the inference endpoint at url.
func NewHTTPDetector(url string) *HTTPDetector {
	return &HTTPDetector{
		URL:     url,
		Client:  &http.Client{Timeout: 5 * time.Second},
		Quality: 80,
	}
}

type wireBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := jpeg.Encode(part, img, &jpeg.Options{Quality: d.Quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Detections []wireBox `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	dets := make([]Detection, 0, len(result.Detections))
	for _, b := range result.Detections {
		dets = append(dets, Detection{
			BBox:       types.BBox{X1: b.X, Y1: b.Y, X2: b.X + b.Width, Y2: b.Y + b.Height},
			Class:      b.Class,
			Confidence: b.Confidence,
		})
	}
	return dets, nil
}

// CheckHealth probes URL/health.
func (d *HTTPDetector) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(d.URL, "/")+"/health", nil)
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
