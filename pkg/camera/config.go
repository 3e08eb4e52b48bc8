// Package camera provides the camera collaborator for a detection session:
// the Frame type handed to the session controller and a gocv-backed capture loop.
package camera

import "time"

// Config holds the capture configuration for the driver-facing camera.
type Config struct {
	// === Device ===
	Device int `json:"device"` // OpenCV device index

	// === Resolution ===
	Width     int `json:"width"`     // Frame width in pixels
	Height    int `json:"height"`    // Frame height in pixels
	Framerate int `json:"framerate"` // Target FPS
	Quality   int `json:"quality"`   // JPEG quality 1-100

	// Rotation applied to every captured frame (0, 90, 180, 270).
	// Phones and dash mounts often deliver sideways frames.
	Rotation int `json:"rotation"`

	// OpenTimeout bounds how long Open waits for the first frame.
	OpenTimeout time.Duration `json:"open_timeout"`
}

// Capture limits.
const (
	MinWidth     = 160
	MaxWidth     = 3840
	MinHeight    = 120
	MaxHeight    = 2160
	MaxFramerate = 120
)

// DefaultConfig returns 640x480 at 15 FPS, enough for landmark extraction
// at the evaluation rates used by the session controller.
func DefaultConfig() Config {
	return Config{
		Device:      0,
		Width:       640,
		Height:      480,
		Framerate:   15,
		Quality:     80,
		Rotation:    0,
		OpenTimeout: 5 * time.Second,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device < 0 {
		errors = append(errors, "device must not be negative")
	}
	if c.Width < MinWidth || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 3840")
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		errors = append(errors, "rotation must be 0, 90, 180 or 270")
	}
	if c.OpenTimeout <= 0 {
		errors = append(errors, "open_timeout must be positive")
	}

	return errors
}
