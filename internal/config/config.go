// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/scentsafe/go-scentsafe/pkg/camera"
	"github.com/scentsafe/go-scentsafe/pkg/diffuser"
	"github.com/scentsafe/go-scentsafe/pkg/fatigue"
	"github.com/scentsafe/go-scentsafe/pkg/session"
)

// Config is the process configuration.
type Config struct {
	HTTPPort    string
	LogLevel    string
	Environment string

	// Empty DBPath disables history.
	DBPath string

	LandmarkURL     string
	LandmarkTimeout time.Duration

	// Negative CameraDevice means frames only arrive through the API.
	CameraDevice int
	CameraPreset string

	// Empty DiffuserPort disables the actuator.
	DiffuserPort  string
	DiffuserBaud  int
	SprayDuration time.Duration
	SprayCooldown time.Duration

	FatiguePreset        string
	EvalInterval         time.Duration
	FrameThrottle        int
	MaxConsecutiveErrors int
}

// Load reads the given .env files (default ".env") if present, then the
// environment. Values already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	defaults := session.DefaultConfig()
	p := &parser{}
	cfg := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Environment: getEnv("GO_ENV", "development"),
		DBPath:      getEnv("DB_PATH", "scentsafe.db"),

		LandmarkURL:     getEnv("LANDMARK_URL", "http://127.0.0.1:8500"),
		LandmarkTimeout: p.duration("LANDMARK_TIMEOUT_MS", 1500*time.Millisecond, time.Millisecond),

		CameraDevice: p.int("CAMERA_DEVICE", -1),
		CameraPreset: getEnv("CAMERA_PRESET", camera.PresetDefault),

		DiffuserPort:  getEnv("DIFFUSER_PORT", ""),
		DiffuserBaud:  p.int("DIFFUSER_BAUD", 9600),
		SprayDuration: p.duration("SPRAY_DURATION_MS", diffuser.DefaultConfig().SprayDuration, time.Millisecond),
		SprayCooldown: p.duration("SPRAY_COOLDOWN_S", 30*time.Second, time.Second),

		FatiguePreset:        getEnv("FATIGUE_PRESET", "default"),
		EvalInterval:         p.duration("EVAL_INTERVAL_MS", defaults.EvaluationInterval, time.Millisecond),
		FrameThrottle:        p.int("FRAME_THROTTLE", defaults.FrameThrottle),
		MaxConsecutiveErrors: p.int("MAX_CONSECUTIVE_ERRORS", defaults.MaxConsecutiveErrors),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether GO_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HTTPAddr is the listen address.
func (c *Config) HTTPAddr() string {
	return ":" + c.HTTPPort
}

// Session builds the session configuration from the preset and overrides.
func (c *Config) Session() (session.Config, error) {
	f, err := fatigue.Preset(c.FatiguePreset)
	if err != nil {
		return session.Config{}, err
	}

	s := session.DefaultConfig()
	s.Fatigue = f
	s.EvaluationInterval = c.EvalInterval
	s.FrameThrottle = c.FrameThrottle
	s.MaxConsecutiveErrors = c.MaxConsecutiveErrors
	if c.LandmarkTimeout > 0 && c.LandmarkTimeout < s.DetectTimeout {
		s.DetectTimeout = c.LandmarkTimeout
	}
	return s, s.Validate()
}

// CameraEnabled reports whether a local camera device is configured.
func (c *Config) CameraEnabled() bool {
	return c.CameraDevice >= 0
}

// Camera returns the camera configuration for the preset and device.
func (c *Config) Camera() (camera.Config, error) {
	preset := camera.GetPreset(c.CameraPreset)
	if preset == nil {
		return camera.Config{}, fmt.Errorf("unknown camera preset %q", c.CameraPreset)
	}
	cfg := *preset
	cfg.Device = c.CameraDevice
	if errs := cfg.Validate(); len(errs) > 0 {
		return camera.Config{}, fmt.Errorf("camera config: %v", errs)
	}
	return cfg, nil
}

// Diffuser returns the actuator configuration.
func (c *Config) Diffuser() diffuser.Config {
	d := diffuser.DefaultConfig()
	d.Path = c.DiffuserPort
	d.Port.BaudRate = c.DiffuserBaud
	d.SprayDuration = c.SprayDuration
	return d
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parser collects malformed numeric values instead of silently defaulting.
type parser struct {
	errs []error
}

func (p *parser) int(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return defaultVal
	}
	return n
}

func (p *parser) duration(key string, defaultVal, unit time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a non-negative number", key, v))
		return defaultVal
	}
	return time.Duration(n * float64(unit))
}
