package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/scenegen/internal/domain"
	_ "modernc.org/sqlite"
)

// maxStoredLog caps the raw log kept per attempt; the tail is kept.
const maxStoredLog = 64 << 10

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS generations (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		enrichment INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		artifact_url TEXT,
		failure_kind TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_generations_updated ON generations(updated_at);

	CREATE TABLE IF NOT EXISTS attempts (
		generation_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		failure_kind TEXT,
		exit_code INTEGER NOT NULL,
		code TEXT,
		raw_log TEXT,
		diagnosis_json TEXT,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (generation_id, number)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateGeneration inserts a running generation.
func (s *SQLiteStore) CreateGeneration(ctx context.Context, gen *domain.Generation) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO generations (id, query, enrichment, status, attempts, created_at, updated_at)
	VALUES (?, ?, ?, ?, 0, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		gen.ID, gen.Query, gen.Enrichment, string(gen.Status),
		gen.CreatedAt.Unix(), gen.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// RecordAttempt stores rec and updates the generation's attempt count.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, generationID string, rec domain.AttemptRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var diagnosis interface{}
	if rec.Diagnosis != nil {
		raw, err := json.Marshal(rec.Diagnosis)
		if err != nil {
			return fmt.Errorf("marshal diagnosis: %w", err)
		}
		diagnosis = string(raw)
	}

	rawLog := rec.RawLog
	if len(rawLog) > maxStoredLog {
		rawLog = rawLog[len(rawLog)-maxStoredLog:]
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attempts (generation_id, number, failure_kind, exit_code, code, raw_log, diagnosis_json, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(generation_id, number) DO UPDATE SET
			failure_kind = excluded.failure_kind,
			exit_code = excluded.exit_code,
			code = excluded.code,
			raw_log = excluded.raw_log,
			diagnosis_json = excluded.diagnosis_json,
			duration_ms = excluded.duration_ms`,
		generationID, rec.Number, string(rec.Failure), rec.ExitCode,
		strings.Join(rec.Code, "\n"), rawLog, diagnosis, rec.Duration.Milliseconds(), now,
	); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE generations SET attempts = (SELECT COUNT(*) FROM attempts WHERE generation_id = ?), updated_at = ? WHERE id = ?`,
		generationID, now, generationID)
	if err != nil {
		return fmt.Errorf("update attempt count: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("generation %s not found", generationID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attempt: %w", err)
	}
	return nil
}

// CompleteGeneration records the final status of a generation.
func (s *SQLiteStore) CompleteGeneration(ctx context.Context, id string, status domain.GenerationStatus, artifactURL string, kind domain.FailureKind) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var url, failure interface{}
	if artifactURL != "" {
		url = artifactURL
	}
	if kind != domain.FailureNone {
		failure = string(kind)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE generations SET status = ?, artifact_url = ?, failure_kind = ?, updated_at = ? WHERE id = ?`,
		string(status), url, failure, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("complete generation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("CompleteGeneration affected 0 rows", "generation_id", id)
		return fmt.Errorf("generation %s not found", id)
	}
	return nil
}

// GetGeneration retrieves a generation by id.
func (s *SQLiteStore) GetGeneration(ctx context.Context, id string) (*domain.Generation, error) {
	query := `
		SELECT id, query, enrichment, status, artifact_url, failure_kind,
		       attempts, created_at, updated_at
		FROM generations WHERE id = ?`

	var gen domain.Generation
	var status string
	var artifactURL, failure sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&gen.ID, &gen.Query, &gen.Enrichment, &status, &artifactURL, &failure,
		&gen.Attempts, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan generation row: %w", err)
	}

	gen.Status = domain.GenerationStatus(status)
	gen.ArtifactURL = artifactURL.String
	gen.FailureKind = domain.FailureKind(failure.String)
	gen.CreatedAt = time.Unix(createdAt, 0)
	gen.UpdatedAt = time.Unix(updatedAt, 0)
	return &gen, nil
}

// ListAttempts returns the attempts of a generation ordered by number.
func (s *SQLiteStore) ListAttempts(ctx context.Context, generationID string) ([]domain.AttemptRecord, error) {
	query := `
		SELECT number, failure_kind, exit_code, code, raw_log, diagnosis_json, duration_ms
		FROM attempts WHERE generation_id = ? ORDER BY number`

	rows, err := s.db.QueryContext(ctx, query, generationID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close attempt rows", "error", closeErr)
		}
	}()

	records := []domain.AttemptRecord{}
	for rows.Next() {
		var rec domain.AttemptRecord
		var failure, code, rawLog, diagnosis sql.NullString
		var durationMS int64

		if err := rows.Scan(&rec.Number, &failure, &rec.ExitCode, &code, &rawLog, &diagnosis, &durationMS); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}

		rec.Failure = domain.FailureKind(failure.String)
		if code.String != "" {
			rec.Code = strings.Split(code.String, "\n")
		}
		rec.RawLog = rawLog.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if diagnosis.Valid {
			var d domain.Diagnosis
			if err := json.Unmarshal([]byte(diagnosis.String), &d); err != nil {
				return nil, fmt.Errorf("decode diagnosis for attempt %d: %w", rec.Number, err)
			}
			rec.Diagnosis = &d
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return records, nil
}

// PruneGenerations deletes generations last updated before the cutoff, with
// their attempts. Runs are far shorter than any sensible retention, so a
// running record that old was abandoned by a crashed process.
func (s *SQLiteStore) PruneGenerations(ctx context.Context, before time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := before.Unix()
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM attempts WHERE generation_id IN (
			SELECT id FROM generations WHERE updated_at < ?
		)`, cutoff); err != nil {
		return 0, fmt.Errorf("delete attempts: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete generations: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return deleted, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
