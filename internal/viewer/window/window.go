// Package window shows received frames in a native OpenCV window.
package window

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/people-counter/internal/viewer"
)

const keyEsc = 27

// Window is a viewer.Surface backed by gocv.
type Window struct {
	win *gocv.Window
}

// New opens a window with the given title.
func New(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Render shows the frame. Closing the window or pressing Esc or q returns
// viewer.ErrStop.
func (w *Window) Render(f viewer.Frame) error {
	mat, err := gocv.IMDecode(f.JPEG, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	defer mat.Close()

	w.win.IMShow(mat)
	key := w.win.WaitKey(1)
	if key == keyEsc || key == 'q' || !w.win.IsOpen() {
		return viewer.ErrStop
	}
	return nil
}

func (w *Window) Close() error {
	return w.win.Close()
}
