// Package history persists detection results and session outcomes in SQLite.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/scentsafe/go-scentsafe/pkg/fatigue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a session has no history.
var ErrNotFound = errors.New("history: not found")

// Session end reasons.
const (
	EndStopped = "stopped"
	EndFailed  = "failed"
)

// Detection is one stored result.
type Detection struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Level      fatigue.Level `json:"level"`
	Band       fatigue.Band  `json:"band"`
	Confidence float64       `json:"confidence"`
	Score      float64       `json:"drowsiness_score"`
	BlinkCount int           `json:"blink_count"`
	YawnCount  int           `json:"yawn_count"`
	AverageEAR float64       `json:"average_ear"`
	MAR        float64       `json:"mar"`
	HeadTilt   float64       `json:"head_tilt_degrees"`
	Spray      bool          `json:"should_trigger_spray"`
}

// Summary aggregates one session.
type Summary struct {
	SessionID string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	LastError string     `json:"last_error,omitempty"`

	Results  int            `json:"results"`
	Sprays   int            `json:"sprays"`
	NoFace   int            `json:"no_face"`
	Errors   int            `json:"errors"`
	MaxScore float64        `json:"max_score"`
	AvgScore float64        `json:"avg_score"`
	Levels   map[string]int `json:"levels"`
}

// Store is a SQLite-backed history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the recorder and API reads.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger.With("component", "history")}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: s.logger}
	// m is not closed: that would close s.db.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger on slog.
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf("migrate: "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// EnsureSession creates the session row if it does not exist.
func (s *Store) EnsureSession(ctx context.Context, id string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)`,
		id, startedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// EndSession records how a session ended.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time, reason, lastError string) error {
	if err := s.EnsureSession(ctx, id, endedAt); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, end_reason = ?, last_error = NULLIF(?, '') WHERE id = ?`,
		endedAt.UnixNano(), reason, lastError, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// CountNoFace increments the session's no-face tick count.
func (s *Store) CountNoFace(ctx context.Context, id string, at time.Time) error {
	return s.bump(ctx, id, at, "no_face_count")
}

// CountError increments the session's per-tick error count.
func (s *Store) CountError(ctx context.Context, id string, at time.Time) error {
	return s.bump(ctx, id, at, "error_count")
}

func (s *Store) bump(ctx context.Context, id string, at time.Time, column string) error {
	if err := s.EnsureSession(ctx, id, at); err != nil {
		return err
	}
	// column is one of two constants above.
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+column+` = `+column+` + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	return nil
}

// Record stores one detection result.
func (s *Store) Record(ctx context.Context, res fatigue.DetectionResult) error {
	if res.ID == "" || res.SessionID == "" {
		return errors.New("history: result needs ID and session ID")
	}
	if err := s.EnsureSession(ctx, res.SessionID, res.Timestamp); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detections (
			id, session_id, ts, level, band, confidence, score,
			blink_count, yawn_count, average_ear, mar, head_tilt, spray
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.SessionID, res.Timestamp.UnixNano(),
		res.Level.String(), res.Band.String(), res.Confidence, res.DrowsinessScore,
		res.BlinkCount, res.YawnCount, res.Metrics.AverageEAR, res.Metrics.MAR,
		res.Metrics.HeadTiltDegrees, res.ShouldTriggerSpray,
	)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

const detectionColumns = `id, session_id, ts, level, band, confidence, score,
	blink_count, yawn_count, average_ear, mar, head_tilt, spray`

// Recent returns the newest detections across sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+detectionColumns+` FROM detections ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()
	return scanDetections(rows)
}

// SessionDetections returns a session's detections in publication order.
func (s *Store) SessionDetections(ctx context.Context, sessionID string) ([]Detection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+detectionColumns+` FROM detections WHERE session_id = ? ORDER BY ts`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()
	return scanDetections(rows)
}

func scanDetections(rows *sql.Rows) ([]Detection, error) {
	out := []Detection{}
	for rows.Next() {
		var (
			d           Detection
			ts          int64
			level, band string
			spray       bool
		)
		if err := rows.Scan(&d.ID, &d.SessionID, &ts, &level, &band, &d.Confidence, &d.Score,
			&d.BlinkCount, &d.YawnCount, &d.AverageEAR, &d.MAR, &d.HeadTilt, &spray); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		lvl, err := fatigue.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("detection %s: %w", d.ID, err)
		}
		if err := d.Band.UnmarshalText([]byte(band)); err != nil {
			return nil, fmt.Errorf("detection %s: %w", d.ID, err)
		}
		d.Level = lvl
		d.Spray = spray
		d.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// SessionSummary aggregates one session. It returns ErrNotFound for
// unknown sessions.
func (s *Store) SessionSummary(ctx context.Context, sessionID string) (Summary, error) {
	var (
		sum       Summary
		started   int64
		ended     sql.NullInt64
		reason    sql.NullString
		lastError sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, end_reason, last_error, no_face_count, error_count
		FROM sessions WHERE id = ?`, sessionID,
	).Scan(&sum.SessionID, &started, &ended, &reason, &lastError, &sum.NoFace, &sum.Errors)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, fmt.Errorf("query session: %w", err)
	}

	sum.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		sum.EndedAt = &t
	}
	sum.EndReason = reason.String
	sum.LastError = lastError.String

	var maxScore, avgScore sql.NullFloat64
	var sprays sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(spray), MAX(score), AVG(score)
		FROM detections WHERE session_id = ?`, sessionID,
	).Scan(&sum.Results, &sprays, &maxScore, &avgScore)
	if err != nil {
		return Summary{}, fmt.Errorf("aggregate session: %w", err)
	}
	sum.Sprays = int(sprays.Int64)
	sum.MaxScore = maxScore.Float64
	sum.AvgScore = avgScore.Float64

	rows, err := s.db.QueryContext(ctx,
		`SELECT level, COUNT(*) FROM detections WHERE session_id = ? GROUP BY level`, sessionID)
	if err != nil {
		return Summary{}, fmt.Errorf("level histogram: %w", err)
	}
	defer rows.Close()

	sum.Levels = map[string]int{}
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return Summary{}, fmt.Errorf("scan level: %w", err)
		}
		sum.Levels[level] = n
	}
	return sum, rows.Err()
}

// Sessions lists session summaries, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		sum, err := s.SessionSummary(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}
