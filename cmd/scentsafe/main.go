// Command scentsafe runs the driver-fatigue monitor: it scores frames from a
// local camera or the HTTP API, records results, and fires the diffuser.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scentsafe/go-scentsafe/internal/config"
	"github.com/scentsafe/go-scentsafe/internal/log"
	"github.com/scentsafe/go-scentsafe/pkg/camera"
	"github.com/scentsafe/go-scentsafe/pkg/diffuser"
	"github.com/scentsafe/go-scentsafe/pkg/history"
	"github.com/scentsafe/go-scentsafe/pkg/landmarks"
	"github.com/scentsafe/go-scentsafe/pkg/session"
	"github.com/scentsafe/go-scentsafe/pkg/web"
)

func main() {
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	autostart := flag.Bool("autostart", false, "Start a session immediately")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log.Init(cfg.LogLevel, cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *autostart); err != nil {
		log.Error("scentsafe exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, autostart bool) error {
	logger := log.L()

	sessionCfg, err := cfg.Session()
	if err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	lcfg := landmarks.DefaultHTTPConfig()
	lcfg.BaseURL = cfg.LandmarkURL
	lcfg.Timeout = cfg.LandmarkTimeout
	lcfg.Logger = logger
	detector, err := landmarks.NewHTTPDetector(lcfg)
	if err != nil {
		return fmt.Errorf("landmark detector: %w", err)
	}
	defer detector.Close()

	opts := []session.Option{session.WithLogger(logger)}

	var capture *camera.Capture
	if cfg.CameraEnabled() {
		camCfg, err := cfg.Camera()
		if err != nil {
			return err
		}
		capture, err = camera.NewCapture(camCfg, logger)
		if err != nil {
			return err
		}
		opts = append(opts, session.WithResource(capture))
	}

	ctrl, err := session.New(sessionCfg, detector, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Stop(); err != nil {
			logger.Warn("stop session", "err", err)
		}
	}()

	deps := web.Deps{Controller: ctrl, Logger: logger}

	if cfg.DBPath != "" {
		store, err := history.Open(cfg.DBPath, logger)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer store.Close()
		deps.History = store

		rec := history.NewRecorder(store, logger)
		go background(ctx, logger, "history recorder", func(ctx context.Context) error {
			return rec.Run(ctx, ctrl)
		})
	}

	if cfg.DiffuserPort != "" {
		d, err := diffuser.New(cfg.Diffuser(), nil)
		if err != nil {
			return err
		}
		defer d.Close()

		dispatcher := diffuser.NewDispatcher(d, cfg.SprayCooldown, logger)
		deps.Sprays = dispatcher.Stats
		go background(ctx, logger, "diffuser dispatcher", func(ctx context.Context) error {
			return dispatcher.Run(ctx, ctrl)
		})
	}

	if capture != nil {
		go pumpCamera(ctx, capture, ctrl, logger)
	}

	logger.Info("scentsafe starting",
		"addr", cfg.HTTPAddr(),
		"camera", cfg.CameraEnabled(),
		"history", cfg.DBPath != "",
		"diffuser", cfg.DiffuserPort != "",
		"preset", cfg.FatiguePreset)

	if autostart {
		startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		id, err := ctrl.Start(startCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("autostart: %w", err)
		}
		logger.Info("session started", "session_id", id)
	}

	srv := web.NewServer(deps)
	if err := srv.ListenAndServe(ctx, cfg.HTTPAddr()); err != nil {
		return err
	}
	logger.Info("scentsafe stopped")
	return nil
}

// background runs fn until ctx is done and logs unexpected exits.
func background(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(name+" stopped", "err", err)
	}
}

// pumpCamera feeds captured frames into the controller while the camera is
// open. The controller opens and closes the camera with the session.
func pumpCamera(ctx context.Context, capture *camera.Capture, ctrl *session.Controller, logger *slog.Logger) {
	sink := func(f camera.Frame) {
		_, err := ctrl.SubmitFrame(f)
		if err != nil && !errors.Is(err, session.ErrNotRunning) && !errors.Is(err, session.ErrSessionFailed) {
			logger.Debug("frame rejected", "err", err)
		}
	}

	for {
		err := capture.Run(ctx, sink)
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, camera.ErrNotOpen) {
			logger.Warn("camera pump", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}
