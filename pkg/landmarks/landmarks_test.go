package landmarks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scentsafe/go-scentsafe/pkg/camera"
	"github.com/scentsafe/go-scentsafe/pkg/fatigue"
)

func eye(x, y, w float64) []fatigue.Point {
	return []fatigue.Point{
		{X: x - w/2, Y: y}, {X: x - w/6, Y: y - 2}, {X: x + w/6, Y: y - 2},
		{X: x + w/2, Y: y}, {X: x + w/6, Y: y + 2}, {X: x - w/6, Y: y + 2},
	}
}

func face(leftX, rightX float64) fatigue.Face {
	return fatigue.Face{
		LeftEye:  eye(leftX, 100, 10),
		RightEye: eye(rightX, 100, 10),
	}
}

// Already upright JPEG frames are passed through without decoding.
func jpegFrame() camera.Frame {
	return camera.Frame{
		Data:      []byte{0xff, 0xd8, 0xff, 0xd9},
		Format:    camera.FormatJPEG,
		Width:     4,
		Height:    4,
		Timestamp: time.UnixMilli(1_700_000_000_000),
	}
}

func TestSelectDriver(t *testing.T) {
	assert.Nil(t, SelectDriver(nil))

	single := []fatigue.Face{face(0, 10)}
	assert.Same(t, &single[0], SelectDriver(single))

	// The passenger in the back seat has a narrower eye span.
	faces := []fatigue.Face{face(100, 120), face(300, 380), face(50, 60)}
	got := SelectDriver(faces)
	require.NotNil(t, got)
	assert.Same(t, &faces[1], got)
}

func TestHTTPDetector_Detect(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/landmarks", r.URL.Path)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		assert.Equal(t, "1700000000000", r.Header.Get("X-Frame-Timestamp"))
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(detectResponse{Faces: []fatigue.Face{face(0, 5), face(200, 280)}})
	}))
	defer srv.Close()

	d, err := NewHTTPDetector(HTTPConfig{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	defer d.Close()

	got, err := d.Detect(context.Background(), jpegFrame())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 200.0-5, got.LeftEye[0].X)
	assert.Equal(t, jpegFrame().Data, gotBody)
}

func TestHTTPDetector_NoFace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"faces":[]}`))
	}))
	defer srv.Close()

	d, err := NewHTTPDetector(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	got, err := d.Detect(context.Background(), jpegFrame())
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestHTTPDetector_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, "bad image", false},
		{"overloaded", http.StatusTooManyRequests, "slow down", true},
		{"server error", http.StatusInternalServerError, "model crashed", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tc.body, tc.status)
			}))
			defer srv.Close()

			d, err := NewHTTPDetector(HTTPConfig{BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = d.Detect(context.Background(), jpegFrame())
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Equal(t, tc.body, apiErr.Message)
			assert.Equal(t, tc.retryable, apiErr.IsRetryable())
		})
	}
}

func TestHTTPDetector_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"faces":`))
	}))
	defer srv.Close()

	d, err := NewHTTPDetector(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), jpegFrame())
	assert.Error(t, err)
}

func TestHTTPDetector_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	d, err := NewHTTPDetector(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = d.Detect(ctx, jpegFrame())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPDetector_Closed(t *testing.T) {
	_, err := NewHTTPDetector(HTTPConfig{})
	assert.ErrorIs(t, err, ErrNoEndpoint)

	d, err := NewHTTPDetector(DefaultHTTPConfig())
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err = d.Detect(context.Background(), jpegFrame())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMock(t *testing.T) {
	f := face(0, 10)
	m := NewMock(&f)

	got, err := m.Detect(context.Background(), jpegFrame())
	require.NoError(t, err)
	assert.Same(t, &f, got)
	assert.Equal(t, 1, m.Calls())

	var empty Mock
	got, err = empty.Detect(context.Background(), jpegFrame())
	assert.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}
