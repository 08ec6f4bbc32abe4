package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/riffscribe/riffcore/internal/config"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one recorded transcription request.
type Run struct {
	ID            string
	Path          string
	Status        string
	SourceBackend string
	Notes         int
	Confidence    float64
	Warnings      []string
	Error         string
	Result        []byte
	TraceID       string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Store is the SQLite-backed ledger of transcription runs.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the run ledger according to config. In ephemeral mode
// nothing is persisted and every read comes back empty.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    audio_path TEXT NOT NULL,
    status TEXT NOT NULL,
    source_backend TEXT,
    note_count INTEGER NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    warnings TEXT,
    error TEXT,
    result BLOB,
    trace_id TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) persistent() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// RecordRun inserts or replaces a run. A zero FinishedAt is stamped with the
// store clock.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if !s.persistent() {
		return nil
	}
	if run.ID == "" {
		return errors.New("run id must not be empty")
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = s.clock()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs(run_id, audio_path, status, source_backend, note_count, confidence, warnings, error, result, trace_id, started_at, finished_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Path, run.Status, run.SourceBackend, run.Notes, run.Confidence, string(warnings),
		run.Error, run.Result, run.TraceID, run.StartedAt.UTC(), run.FinishedAt.UTC())
	return err
}

const runColumns = `run_id, audio_path, status, source_backend, note_count, confidence, warnings, error, result, trace_id, started_at, finished_at`

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	if !s.persistent() {
		return Run{}, ErrRunNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns up to limit runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if !s.persistent() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                 Run
		source, errText   sql.NullString
		warnings, traceID sql.NullString
		started, finished string
	)
	if err := row.Scan(&r.ID, &r.Path, &r.Status, &source, &r.Notes, &r.Confidence, &warnings, &errText, &r.Result, &traceID, &started, &finished); err != nil {
		return Run{}, err
	}
	r.SourceBackend = source.String
	r.Error = errText.String
	r.TraceID = traceID.String
	r.StartedAt = parseTimestamp(started)
	r.FinishedAt = parseTimestamp(finished)
	if warnings.Valid && warnings.String != "" {
		if err := json.Unmarshal([]byte(warnings.String), &r.Warnings); err != nil {
			return Run{}, fmt.Errorf("decode warnings: %w", err)
		}
	}
	return r, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

func parseTimestamp(v string) time.Time {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// Prune applies configured retention (called on startup and after each
// recorded run).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.persistent() {
		return nil
	}
	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE finished_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY finished_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
