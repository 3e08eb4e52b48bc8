package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrNotOpen is returned when reading from a capture that is not open.
var ErrNotOpen = errors.New("camera: capture not open")

// FrameSink receives captured frames. It must not block.
type FrameSink func(Frame)

// Capture reads frames from a local camera device with gocv.
// Open and Close make it usable as the session controller's camera resource.
type Capture struct {
	config Config
	logger *slog.Logger

	mu  sync.Mutex
	dev *gocv.VideoCapture
}

// NewCapture creates a capture for the configured device. The device is
// not touched until Open.
func NewCapture(config Config, logger *slog.Logger) (*Capture, error) {
	if errs := config.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera config: %v", errs)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{config: config, logger: logger.With("component", "camera")}, nil
}

// Open acquires the device and waits until it delivers a first frame or
// OpenTimeout/ctx expires.
func (c *Capture) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev != nil {
		return nil
	}

	dev, err := gocv.OpenVideoCapture(c.config.Device)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.config.Device, err)
	}
	dev.Set(gocv.VideoCaptureFrameWidth, float64(c.config.Width))
	dev.Set(gocv.VideoCaptureFrameHeight, float64(c.config.Height))
	dev.Set(gocv.VideoCaptureFPS, float64(c.config.Framerate))

	img := gocv.NewMat()
	defer img.Close()

	deadline := time.Now().Add(c.config.OpenTimeout)
	for !dev.Read(&img) || img.Empty() {
		if err := ctx.Err(); err != nil {
			dev.Close()
			return err
		}
		if time.Now().After(deadline) {
			dev.Close()
			return fmt.Errorf("camera %d: no frame within %v", c.config.Device, c.config.OpenTimeout)
		}
		time.Sleep(50 * time.Millisecond)
	}

	c.dev = dev
	c.logger.Info("camera opened", "device", c.config.Device, "width", img.Cols(), "height", img.Rows())
	return nil
}

// Close releases the device. Safe to call more than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev == nil {
		return nil
	}
	err := c.dev.Close()
	c.dev = nil
	c.logger.Info("camera closed", "device", c.config.Device)
	return err
}

// Read grabs one frame and encodes it as an upright JPEG.
func (c *Capture) Read() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev == nil {
		return Frame{}, ErrNotOpen
	}

	img := gocv.NewMat()
	defer img.Close()

	if !c.dev.Read(&img) || img.Empty() {
		return Frame{}, ErrEmptyFrame
	}

	data, err := encodeJPEG(img, c.config.Rotation, c.config.Quality)
	if err != nil {
		return Frame{}, err
	}

	w, h := img.Cols(), img.Rows()
	if c.config.Rotation == 90 || c.config.Rotation == 270 {
		w, h = h, w
	}

	return Frame{
		Data:      data,
		Format:    FormatJPEG,
		Width:     w,
		Height:    h,
		Timestamp: time.Now(),
	}, nil
}

// Run reads frames at the configured framerate and hands them to sink
// until ctx is cancelled or the device is closed.
func (c *Capture) Run(ctx context.Context, sink FrameSink) error {
	ticker := time.NewTicker(time.Second / time.Duration(c.config.Framerate))
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			frame, err := c.Read()
			if errors.Is(err, ErrNotOpen) {
				return err
			}
			if err != nil {
				misses++
				if misses == 10 {
					c.logger.Warn("camera delivering no frames", "misses", misses, "err", err)
				}
				continue
			}
			misses = 0
			sink(frame)
		}
	}
}
