package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding performance metrics and survey answers.
// Both tables are append-only.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "falaimagem.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Concurrent pipeline runs all insert through this one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if err := s.applyMigration(version, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(version int, script string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	if _, err := tx.Exec(script); err != nil {
		tx.Rollback()
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Performance metrics ---

// InsertMetric appends a metric row and returns its assigned id.
// A zero RecordedAt is replaced with the current time.
func (s *Store) InsertMetric(ctx context.Context, m PerformanceMetric) (int64, error) {
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO performance_metrics (sender_id, image_id, description_ms, synthesis_ms, delivery_ms, total_ms, anomaly, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SenderID, m.ImageID, m.DescriptionDurationMs, m.SynthesisDurationMs,
		m.DeliveryDurationMs, m.TotalDurationMs, boolToInt(m.Anomaly),
		m.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting metric: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetMetric(ctx context.Context, id int64) (PerformanceMetric, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sender_id, image_id, description_ms, synthesis_ms, delivery_ms, total_ms, anomaly, recorded_at
		FROM performance_metrics WHERE id = ?`, id)
	m, err := scanMetric(row)
	if err == sql.ErrNoRows {
		return PerformanceMetric{}, ErrNotFound
	}
	return m, err
}

// ListMetrics returns metrics newest first.
func (s *Store) ListMetrics(ctx context.Context, limit, offset int) ([]PerformanceMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, image_id, description_ms, synthesis_ms, delivery_ms, total_ms, anomaly, recorded_at
		FROM performance_metrics ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PerformanceMetric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MetricsSummary aggregates all stored metrics.
type MetricsSummary struct {
	Count         int     `json:"count"`
	Anomalies     int     `json:"anomalies"`
	AvgTotalMs    float64 `json:"avg_total_ms"`
	AvgDescribeMs float64 `json:"avg_description_ms"`
	AvgSynthMs    float64 `json:"avg_synthesis_ms"`
	AvgDeliveryMs float64 `json:"avg_delivery_ms"`
}

func (s *Store) SummarizeMetrics(ctx context.Context) (MetricsSummary, error) {
	var sum MetricsSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(anomaly), 0),
		       COALESCE(AVG(total_ms), 0), COALESCE(AVG(description_ms), 0),
		       COALESCE(AVG(synthesis_ms), 0), COALESCE(AVG(delivery_ms), 0)
		FROM performance_metrics`,
	).Scan(&sum.Count, &sum.Anomalies, &sum.AvgTotalMs, &sum.AvgDescribeMs, &sum.AvgSynthMs, &sum.AvgDeliveryMs)
	if err != nil {
		return MetricsSummary{}, fmt.Errorf("summarizing metrics: %w", err)
	}
	return sum, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetric(r rowScanner) (PerformanceMetric, error) {
	var m PerformanceMetric
	var anomaly int
	var recordedAt string
	if err := r.Scan(&m.ID, &m.SenderID, &m.ImageID, &m.DescriptionDurationMs, &m.SynthesisDurationMs,
		&m.DeliveryDurationMs, &m.TotalDurationMs, &anomaly, &recordedAt); err != nil {
		return PerformanceMetric{}, err
	}
	m.Anomaly = anomaly != 0
	t, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return PerformanceMetric{}, fmt.Errorf("parsing recorded_at: %w", err)
	}
	m.RecordedAt = t
	return m, nil
}

// --- Survey answers ---

// InsertSurveyAnswer appends an answer row and returns its assigned id.
// Answers for a question that was already answered are stored as additional rows.
func (s *Store) InsertSurveyAnswer(ctx context.Context, a SurveyAnswer) (int64, error) {
	if a.AnsweredAt.IsZero() {
		a.AnsweredAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO survey_answers (sender_id, image_id, question_number, score, answered_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.SenderID, a.ImageID, a.QuestionNumber, a.Score, a.AnsweredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting survey answer: %w", err)
	}
	return res.LastInsertId()
}

// ListSurveyAnswers returns the answers recorded for one (sender, image) pair
// in insertion order.
func (s *Store) ListSurveyAnswers(ctx context.Context, senderID, imageID string) ([]SurveyAnswer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, image_id, question_number, score, answered_at
		FROM survey_answers WHERE sender_id = ? AND image_id = ? ORDER BY id ASC`, senderID, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SurveyAnswer
	for rows.Next() {
		var a SurveyAnswer
		var answeredAt string
		if err := rows.Scan(&a.ID, &a.SenderID, &a.ImageID, &a.QuestionNumber, &a.Score, &answeredAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, answeredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing answered_at: %w", err)
		}
		a.AnsweredAt = t
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAnsweredQuestions returns how many distinct question numbers have been
// answered for the (sender, image) pair.
func (s *Store) CountAnsweredQuestions(ctx context.Context, senderID, imageID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT question_number) FROM survey_answers
		WHERE sender_id = ? AND image_id = ?`, senderID, imageID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting survey answers: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
