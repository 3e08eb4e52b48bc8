package web

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/scentsafe/go-scentsafe/pkg/camera"
	"github.com/scentsafe/go-scentsafe/pkg/fatigue"
	"github.com/scentsafe/go-scentsafe/pkg/history"
	"github.com/scentsafe/go-scentsafe/pkg/hub"
	"github.com/scentsafe/go-scentsafe/pkg/session"
)

// handleError maps domain errors onto HTTP status codes.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, session.ErrAlreadyRunning),
		errors.Is(err, session.ErrNotRunning),
		errors.Is(err, session.ErrSessionFailed):
		code = fiber.StatusConflict
	case errors.Is(err, history.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, camera.ErrEmptyFrame):
		code = fiber.StatusBadRequest
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// handleStatus returns the controller status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.deps.Controller.Status())
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.StartTimeout)
	defer cancel()

	id, err := s.deps.Controller.Start(ctx)
	if err != nil {
		return err
	}
	s.broadcastStatus()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session_id": id})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.deps.Controller.Stop(); err != nil {
		return err
	}
	st := s.deps.Controller.Status()
	s.broadcastStatus()
	return c.JSON(st)
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	if err := s.deps.Controller.Reset(); err != nil {
		return err
	}
	st := s.deps.Controller.Status()
	s.broadcastStatus()
	return c.JSON(st)
}

// handleSubmitFrame accepts a JPEG body. The optional rotation query
// parameter gives the clockwise rotation still to apply.
func (s *Server) handleSubmitFrame(c *fiber.Ctx) error {
	rotation := c.QueryInt("rotation", 0)

	// fasthttp reuses the body buffer after the handler returns.
	body := append([]byte(nil), c.Body()...)
	frame, err := camera.DecodeJPEG(body, rotation, time.Now())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	accepted, err := s.deps.Controller.SubmitFrame(frame)
	if err != nil {
		return err
	}
	status := fiber.StatusAccepted
	if !accepted {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"accepted": accepted})
}

// ConfigResponse is the effective configuration.
type ConfigResponse struct {
	EvaluationIntervalMS int64           `json:"evaluation_interval_ms"`
	FrameThrottle        int             `json:"frame_throttle"`
	MaxConcurrentImages  int             `json:"max_concurrent_images"`
	MaxConsecutiveErrors int             `json:"max_consecutive_errors"`
	ErrorBackoffMS       int64           `json:"error_backoff_ms"`
	Fatigue              FatigueResponse `json:"fatigue"`
}

// FatigueResponse is the scoring configuration on the wire.
type FatigueResponse struct {
	EARThreshold                float64 `json:"ear_threshold"`
	EARConsecutiveFrames        int     `json:"ear_consecutive_frames"`
	EARFallbackThreshold        float64 `json:"ear_fallback_threshold"`
	MARThreshold                float64 `json:"mar_threshold"`
	MARConsecutiveFrames        int     `json:"mar_consecutive_frames"`
	HeadTiltThresholdDegrees    float64 `json:"head_tilt_threshold_degrees"`
	EyeOpenProbabilityThreshold float64 `json:"eye_open_probability_threshold"`
	HistorySize                 int     `json:"history_size"`
	BlinkResetWindowMS          int64   `json:"blink_reset_window_ms"`
	MaxBlinkCountForScoring     int     `json:"max_blink_count_for_scoring"`
	MaxYawnCountForScoring      int     `json:"max_yawn_count_for_scoring"`
	BlinkWeight                 float64 `json:"blink_weight"`
	YawnWeight                  float64 `json:"yawn_weight"`
	HeadTiltWeight              float64 `json:"head_tilt_weight"`
	WarningScore                float64 `json:"warning_score"`
	DrowsinessScore             float64 `json:"drowsiness_score"`
	MultiIndicatorEAR           float64 `json:"multi_indicator_ear"`
	MultiIndicatorMAR           float64 `json:"multi_indicator_mar"`
	MultiIndicatorHeadTilt      float64 `json:"multi_indicator_head_tilt"`
	MinIndicators               int     `json:"min_indicators"`
}

func fatigueResponse(f fatigue.Config) FatigueResponse {
	return FatigueResponse{
		EARThreshold:                f.EARThreshold,
		EARConsecutiveFrames:        f.EARConsecutiveFrames,
		EARFallbackThreshold:        f.EARFallbackThreshold,
		MARThreshold:                f.MARThreshold,
		MARConsecutiveFrames:        f.MARConsecutiveFrames,
		HeadTiltThresholdDegrees:    f.HeadTiltThresholdDegrees,
		EyeOpenProbabilityThreshold: f.EyeOpenProbabilityThreshold,
		HistorySize:                 f.HistorySize,
		BlinkResetWindowMS:          f.BlinkResetWindow.Milliseconds(),
		MaxBlinkCountForScoring:     f.MaxBlinkCountForScoring,
		MaxYawnCountForScoring:      f.MaxYawnCountForScoring,
		BlinkWeight:                 f.BlinkWeight,
		YawnWeight:                  f.YawnWeight,
		HeadTiltWeight:              f.HeadTiltWeight,
		WarningScore:                f.WarningScore,
		DrowsinessScore:             f.DrowsinessScore,
		MultiIndicatorEAR:           f.MultiIndicatorEAR,
		MultiIndicatorMAR:           f.MultiIndicatorMAR,
		MultiIndicatorHeadTilt:      f.MultiIndicatorHeadTilt,
		MinIndicators:               f.MinIndicators,
	}
}

func (s *Server) handleConfig(c *fiber.Ctx) error {
	cfg := s.deps.Controller.Config()
	return c.JSON(ConfigResponse{
		EvaluationIntervalMS: cfg.EvaluationInterval.Milliseconds(),
		FrameThrottle:        cfg.FrameThrottle,
		MaxConcurrentImages:  cfg.MaxConcurrentImages,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		ErrorBackoffMS:       cfg.ErrorBackoff.Milliseconds(),
		Fatigue:              fatigueResponse(cfg.Fatigue),
	})
}

func (s *Server) history() (History, error) {
	if s.deps.History == nil {
		return nil, fiber.NewError(fiber.StatusServiceUnavailable, "history disabled")
	}
	return s.deps.History, nil
}

func limitParam(c *fiber.Ctx, def int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 1000")
	}
	return n, nil
}

func (s *Server) handleRecent(c *fiber.Ctx) error {
	h, err := s.history()
	if err != nil {
		return err
	}
	limit, err := limitParam(c, 50)
	if err != nil {
		return err
	}
	out, err := h.Recent(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(out)
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	h, err := s.history()
	if err != nil {
		return err
	}
	limit, err := limitParam(c, 20)
	if err != nil {
		return err
	}
	out, err := h.Sessions(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(out)
}

// SessionResponse is a session summary with its detections.
type SessionResponse struct {
	history.Summary
	Detections []history.Detection `json:"detections"`
}

func (s *Server) handleSession(c *fiber.Ctx) error {
	h, err := s.history()
	if err != nil {
		return err
	}
	id := c.Params("id")

	sum, err := h.SessionSummary(c.UserContext(), id)
	if err != nil {
		return err
	}
	dets, err := h.SessionDetections(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(SessionResponse{Summary: sum, Detections: dets})
}

func (s *Server) handleDiffuser(c *fiber.Ctx) error {
	if s.deps.Sprays == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "diffuser disabled")
	}
	return c.JSON(s.deps.Sprays())
}

func (s *Server) broadcastStatus() {
	if err := s.hub.BroadcastJSON(hub.TypeStatus, s.deps.Controller.Status()); err != nil {
		s.logger.Warn("broadcast status", "err", err)
	}
}

// handleDetectionsWS streams session events. The first message is the
// current status.
func (s *Server) handleDetectionsWS(conn *websocket.Conn) {
	client := hub.NewClient(s.hub, conn)
	if client == nil {
		conn.Close()
		return
	}

	if greeting, err := hub.Encode(hub.TypeStatus, s.deps.Controller.Status()); err == nil {
		if err := client.Send(greeting); err != nil {
			s.logger.Debug("greeting failed", "err", err)
		}
	}
	client.Run()
}
