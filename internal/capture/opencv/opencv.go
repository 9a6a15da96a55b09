// Package opencv opens capture devices and video files through OpenCV.
package opencv

import (
	"context"
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/people-counter/internal/capture"
	"github.com/dj-oyu/people-counter/pkg/types"
)

// Opener implements capture.Opener for device indexes and file paths.
type Opener struct{}

func (Opener) Open(_ context.Context, src types.VideoSource) (capture.Source, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if src.IsDevice {
		vc, err = gocv.VideoCaptureDevice(src.Device)
	} else {
		vc, err = gocv.VideoCaptureFile(src.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open %s: capture not opened", src)
	}
	return &Source{vc: vc, mat: gocv.NewMat()}, nil
}

// Source reads frames from a gocv.VideoCapture.
type Source struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (s *Source) Read() (image.Image, error) {
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, io.EOF
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

func (s *Source) FPS() float64 {
	return s.vc.Get(gocv.VideoCaptureFPS)
}

func (s *Source) Close() error {
	s.mat.Close()
	return s.vc.Close()
}
