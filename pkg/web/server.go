// Package web serves the ScentSafe HTTP API and the live detection stream.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/scentsafe/go-scentsafe/pkg/camera"
	"github.com/scentsafe/go-scentsafe/pkg/diffuser"
	"github.com/scentsafe/go-scentsafe/pkg/history"
	"github.com/scentsafe/go-scentsafe/pkg/hub"
	"github.com/scentsafe/go-scentsafe/pkg/session"
)

// Controller is the session surface the API drives.
type Controller interface {
	Start(ctx context.Context) (string, error)
	Stop() error
	Reset() error
	Status() session.Status
	SubmitFrame(frame camera.Frame) (bool, error)
	Watch() *session.Subscription
	Config() session.Config
}

// History is the read side of the detection history.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Detection, error)
	Sessions(ctx context.Context, limit int) ([]history.Summary, error)
	SessionSummary(ctx context.Context, id string) (history.Summary, error)
	SessionDetections(ctx context.Context, id string) ([]history.Detection, error)
}

// Deps are the components the server exposes. History and Sprays are optional.
type Deps struct {
	Controller Controller
	History    History
	Sprays     func() diffuser.DispatcherStats
	Logger     *slog.Logger
}

// Server is the HTTP and websocket server.
type Server struct {
	app    *fiber.App
	deps   Deps
	hub    *hub.Hub
	logger *slog.Logger

	// StartTimeout bounds opening the camera on /api/session/start.
	StartTimeout time.Duration
}

// NewServer creates the server and registers its routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps:         deps,
		hub:          hub.New("detections", deps.Logger),
		logger:       deps.Logger.With("component", "web"),
		StartTimeout: 10 * time.Second,
	}

	app := fiber.New(fiber.Config{
		AppName:               "ScentSafe",
		DisableStartupMessage: true,
		BodyLimit:             8 * 1024 * 1024,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/session", s.handleStatus)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Post("/session/reset", s.handleReset)
	api.Post("/frames", s.handleSubmitFrame)
	api.Get("/config", s.handleConfig)
	api.Get("/history", s.handleRecent)
	api.Get("/history/sessions", s.handleSessions)
	api.Get("/history/sessions/:id", s.handleSession)
	api.Get("/diffuser", s.handleDiffuser)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/detections", websocket.New(s.handleDetectionsWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the detection broadcast hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Serve runs the hub and serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.hub.Run(ctx)
	go func() {
		if err := s.hub.Forward(ctx, s.deps.Controller); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("event forwarding stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("shutdown", "err", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
