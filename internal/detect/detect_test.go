package detect

import (
	"context"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dj-oyu/people-counter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(x, y int) types.BBox {
	return types.BBox{X1: x, Y1: y, X2: x + 40, Y2: y + 80}
}

func person(x, y int) Detection {
	return Detection{BBox: box(x, y), Class: "person", Confidence: 0.9}
}

func ids(tracks []types.Track) []int {
	out := make([]int, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.ID)
	}
	return out
}

func TestTrackerStableIDs(t *testing.T) {
	tr := NewIoUTracker()
	for i := 0; i < 10; i++ {
		got := tr.Update([]Detection{person(100, 50+i*4), person(400, 300-i*4)})
		assert.Equal(t, []int{1, 2}, ids(got), "frame %d", i)
	}
}

func TestTrackerConfirmation(t *testing.T) {
	tr := NewIoUTracker()
	for _i := 0; _i < 5; _i++ {
		tr.Update([]Detection{person(100, 100)})
	}

	var seen [][]int
	for _i := 0; _i < 4; _i++ {
		seen = append(seen, ids(tr.Update([]Detection{person(100, 100), person(400, 100)})))
	}
	assert.Equal(t, [][]int{{1}, {1}, {1, 2}, {1, 2}}, seen)
}

func TestTrackerMaxAge(t *testing.T) {
	tr := NewIoUTracker()
	for _i := 0; _i < 4; _i++ {
		tr.Update([]Detection{person(100, 100)})
	}
	for _i := 0; _i < DefaultMaxAge; _i++ {
		assert.Empty(t, tr.Update(nil))
	}
	assert.Equal(t, 1, tr.Len())

	// one frame past MaxAge the track is gone, so the box starts a new id
	tr.Update(nil)
	assert.Equal(t, 0, tr.Len())
	for _i := 0; _i < DefaultMinHits-1; _i++ {
		assert.Empty(t, tr.Update([]Detection{person(100, 100)}))
	}
	assert.Equal(t, []int{2}, ids(tr.Update([]Detection{person(100, 100)})))
}

func TestTrackerUnmatchedHidden(t *testing.T) {
	tr := NewIoUTracker()
	for _i := 0; _i < 4; _i++ {
		tr.Update([]Detection{person(100, 100), person(400, 100)})
	}
	got := tr.Update([]Detection{person(100, 100)})
	assert.Equal(t, []int{1}, ids(got))
}

func TestTrackerLowOverlapStartsNewTrack(t *testing.T) {
	tr := NewIoUTracker()
	tr.Update([]Detection{person(100, 100)})
	got := tr.Update([]Detection{person(300, 100)})
	assert.Equal(t, []int{2}, ids(got))
	assert.Equal(t, 2, tr.Len())
}

func TestPipelineFilter(t *testing.T) {
	p := NewPipeline(Nop{})
	got := p.Filter([]Detection{
		{BBox: box(0, 0), Class: "person", Confidence: 0.9},
		{BBox: box(0, 0), Class: "person", Confidence: 0.5},
		{BBox: box(0, 0), Class: "dog", Confidence: 0.99},
		{BBox: box(0, 0), Confidence: 0.7},
	})
	require.Len(t, got, 2)
	assert.Equal(t, 0.9, got[0].Confidence)
	assert.Equal(t, 0.7, got[1].Confidence)
}

func TestPipelineDetectorError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPipeline(DetectorFunc(func(context.Context, image.Image) ([]Detection, error) {
		return nil, boom
	}))
	tracks, err := p.Process(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, tracks)
}

func TestHTTPDetector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		if _, err := jpeg.Decode(file); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections":[{"x":10,"y":20,"width":30,"height":60,"class":"person","confidence":0.8}]}`))
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL)
	dets, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 48)))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, types.BBox{X1: 10, Y1: 20, X2: 40, Y2: 80}, dets[0].BBox)
	assert.Equal(t, "person", dets[0].Class)
	assert.NoError(t, d.CheckHealth(context.Background()))
}

func TestHTTPDetectorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL)
	_, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	assert.Error(t, err)
	assert.Error(t, d.CheckHealth(context.Background()))
}
