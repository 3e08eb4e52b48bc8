package landmarks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/scentsafe/go-scentsafe/internal/httpc"
	"github.com/scentsafe/go-scentsafe/pkg/camera"
	"github.com/scentsafe/go-scentsafe/pkg/fatigue"
)

// DefaultTimeout bounds one sidecar round trip. Evaluation ticks are
// seconds apart, so a slow sidecar should fail the tick rather than stall it.
const DefaultTimeout = 1500 * time.Millisecond

// HTTPConfig configures the sidecar client.
type HTTPConfig struct {
	BaseURL     string        // e.g. http://127.0.0.1:8500
	Timeout     time.Duration // Per request
	JPEGQuality int           // Used when a frame must be re-encoded
	Logger      *slog.Logger
}

// DefaultHTTPConfig returns defaults for a sidecar on localhost.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL:     "http://127.0.0.1:8500",
		Timeout:     DefaultTimeout,
		JPEGQuality: 85,
	}
}

// HTTPDetector posts JPEG frames to a landmark sidecar.
//
// Request:  POST {BaseURL}/v1/landmarks, body image/jpeg.
// Response: {"faces": [Face, ...]}; an empty list means no face.
type HTTPDetector struct {
	baseURL string
	quality int
	http    *http.Client
	logger  *slog.Logger
	closed  atomic.Bool
}

// NewHTTPDetector creates a sidecar client.
func NewHTTPDetector(cfg HTTPConfig) (*HTTPDetector, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNoEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &HTTPDetector{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		quality: cfg.JPEGQuality,
		http:    httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "landmarks.http"),
	}, nil
}

type detectResponse struct {
	Faces []fatigue.Face `json:"faces"`
}

// Detect sends the frame to the sidecar and returns the driver's face.
func (d *HTTPDetector) Detect(ctx context.Context, frame camera.Frame) (*fatigue.Face, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	body, err := frame.ToJPEG(d.quality)
	if err != nil {
		return nil, fmt.Errorf("prepare frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/landmarks", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")
	if !frame.Timestamp.IsZero() {
		req.Header.Set("X-Frame-Timestamp", strconv.FormatInt(frame.Timestamp.UnixMilli(), 10))
	}

	start := time.Now()
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("landmark request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode landmarks: %w", err)
	}

	d.logger.Debug("landmarks received", "faces", len(out.Faces), "latency_ms", time.Since(start).Milliseconds())

	face := SelectDriver(out.Faces)
	if face == nil {
		return nil, nil
	}
	f := *face
	return &f, nil
}

// Close marks the detector closed and drops idle connections.
func (d *HTTPDetector) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.http.CloseIdleConnections()
	return nil
}
