// Package diffuser drives the aroma diffuser through a serial BLE bridge.
//
// The bridge speaks a line protocol: the host writes "SPRAY <ms>\n" and the
// bridge answers "OK\n" or "ERR <reason>\n".
package diffuser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sentinel errors.
var (
	ErrPortClosed = errors.New("diffuser: port closed")
	ErrNoAck      = errors.New("diffuser: no acknowledgement")
)

// Config configures a Diffuser.
type Config struct {
	Path          string        // Serial device, e.g. /dev/ttyUSB0
	Port          PortOptions   // Link parameters
	SprayDuration time.Duration // How long one burst lasts
	AckTimeout    time.Duration // 0 disables waiting for "OK"
	Logger        *slog.Logger
}

// DefaultConfig returns defaults for an HM-10 style bridge.
func DefaultConfig() Config {
	return Config{
		Path:          "/dev/ttyUSB0",
		SprayDuration: 800 * time.Millisecond,
		AckTimeout:    time.Second,
	}
}

// Diffuser sends spray commands. It reopens the port after write failures.
type Diffuser struct {
	config Config
	open   Opener
	logger *slog.Logger

	mu     sync.Mutex
	port   Port
	reader *bufio.Reader
	closed bool
}

// New creates a diffuser. The port is opened lazily on the first spray.
// A nil opener uses OpenSerial.
func New(cfg Config, open Opener) (*Diffuser, error) {
	if cfg.Path == "" {
		return nil, errors.New("diffuser: path required")
	}
	if _, err := cfg.Port.Normalize(); err != nil {
		return nil, fmt.Errorf("diffuser: %w", err)
	}
	if cfg.SprayDuration <= 0 {
		cfg.SprayDuration = DefaultConfig().SprayDuration
	}
	if open == nil {
		open = OpenSerial
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Diffuser{
		config: cfg,
		open:   open,
		logger: cfg.Logger.With("component", "diffuser", "path", cfg.Path),
	}, nil
}

// Spray fires one burst.
func (d *Diffuser) Spray(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrPortClosed
	}
	if err := d.ensureOpen(); err != nil {
		return err
	}

	cmd := fmt.Sprintf("SPRAY %d\n", d.config.SprayDuration.Milliseconds())
	if _, err := d.port.Write([]byte(cmd)); err != nil {
		d.resetLocked()
		return fmt.Errorf("write command: %w", err)
	}

	if d.config.AckTimeout <= 0 {
		return nil
	}
	return d.readAck()
}

func (d *Diffuser) ensureOpen() error {
	if d.port != nil {
		return nil
	}

	port, err := d.open(d.config.Path, d.config.Port)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.config.Path, err)
	}
	if tp, ok := port.(timeoutPort); ok && d.config.AckTimeout > 0 {
		if err := tp.SetReadTimeout(d.config.AckTimeout); err != nil {
			port.Close()
			return fmt.Errorf("set read timeout: %w", err)
		}
	}

	d.port = port
	d.reader = bufio.NewReader(port)
	d.logger.Info("diffuser port opened")
	return nil
}

func (d *Diffuser) readAck() error {
	line, err := d.reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil {
			d.resetLocked()
			return fmt.Errorf("%w: %v", ErrNoAck, err)
		}
		return ErrNoAck
	}

	switch {
	case line == "OK":
		return nil
	case strings.HasPrefix(line, "ERR"):
		return fmt.Errorf("diffuser: bridge error: %s", strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	default:
		return fmt.Errorf("diffuser: unexpected reply %q", line)
	}
}

func (d *Diffuser) resetLocked() {
	if d.port != nil {
		_ = d.port.Close()
	}
	d.port = nil
	d.reader = nil
}

// Close closes the port. Further sprays fail with ErrPortClosed.
func (d *Diffuser) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	d.reader = nil
	return err
}
