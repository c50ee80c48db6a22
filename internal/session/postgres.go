package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeinonenight/podcast-insight/internal/domain"
)

// PostgresStore persists sessions in a single Postgres table. Selected
// when a database URL is configured; otherwise the service runs on the
// in-memory store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool and ensures the sessions table.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// migrate creates the sessions table when missing.
func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			progress INT NOT NULL DEFAULT 0,
			current_step TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			input_url TEXT NOT NULL,
			platform TEXT NOT NULL,
			options JSONB NOT NULL,
			extraction JSONB,
			transcript TEXT NOT NULL DEFAULT '',
			transcript_language TEXT NOT NULL DEFAULT '',
			transcript_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			analysis JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate sessions table: %w", err)
	}
	return nil
}

// Create allocates a new pending session row.
func (s *PostgresStore) Create(ctx context.Context, inputURL string, platform domain.Platform, opts domain.JobOptions) (domain.Session, error) {
	now := time.Now().UTC()
	sess := domain.Session{
		ID:        uuid.NewString(),
		Status:    domain.StatusPending,
		InputURL:  inputURL,
		Platform:  platform,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}

	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return domain.Session{}, fmt.Errorf("marshal options: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, status, progress, input_url, platform, options, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5, $6, $6)
	`, sess.ID, sess.Status, inputURL, platform, optsJSON, now)
	if err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// Get returns one session row.
func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// List returns all sessions ordered newest first.
func (s *PostgresStore) List(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Update loads the row under a row lock, applies fn, and writes back.
func (s *PostgresStore) Update(ctx context.Context, id string, fn func(*domain.Session)) (domain.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, selectColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id)
	sess, err := scanSession(row)
	if err != nil {
		return domain.Session{}, err
	}

	fn(&sess)
	sess.UpdatedAt = time.Now().UTC()

	extractionJSON, analysisJSON, optsJSON, err := marshalJSONFields(&sess)
	if err != nil {
		return domain.Session{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE sessions SET
			status = $2, progress = $3, current_step = $4, error = $5,
			options = $6, extraction = $7, transcript = $8,
			transcript_language = $9, transcript_confidence = $10,
			analysis = $11, updated_at = $12
		WHERE id = $1
	`, sess.ID, sess.Status, sess.Progress, sess.CurrentStep, sess.Error,
		optsJSON, extractionJSON, sess.Transcript,
		sess.TranscriptLanguage, sess.TranscriptConfidence,
		analysisJSON, sess.UpdatedAt)
	if err != nil {
		return domain.Session{}, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Session{}, fmt.Errorf("commit: %w", err)
	}
	return sess, nil
}

// SetStatus advances status, progress, and step in one write. Terminal
// rows only accept further terminal writes or the rerun edges out of
// completed; the check runs under the row lock so a late progress
// write cannot race a cancellation.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status domain.SessionStatus, progress int, step, errMsg string) (domain.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, selectColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id)
	sess, err := scanSession(row)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.Status.IsTerminal() && !status.IsTerminal() && !domain.CanTransition(sess.Status, status) {
		return sess, ErrInvalidTransition
	}

	sess.Status = status
	sess.Progress = progress
	sess.CurrentStep = step
	sess.Error = errMsg
	sess.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE sessions SET
			status = $2, progress = $3, current_step = $4, error = $5, updated_at = $6
		WHERE id = $1
	`, sess.ID, sess.Status, sess.Progress, sess.CurrentStep, sess.Error, sess.UpdatedAt)
	if err != nil {
		return domain.Session{}, fmt.Errorf("update session status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Session{}, fmt.Errorf("commit: %w", err)
	}
	return sess, nil
}

const selectColumns = `
	SELECT id, status, progress, current_step, error, input_url, platform,
		options, extraction, transcript, transcript_language,
		transcript_confidence, analysis, created_at, updated_at`

// scanSession reads one row into a Session, decoding JSONB columns.
func scanSession(row pgx.Row) (domain.Session, error) {
	var sess domain.Session
	var optsJSON []byte
	var extractionJSON, analysisJSON []byte

	err := row.Scan(&sess.ID, &sess.Status, &sess.Progress, &sess.CurrentStep,
		&sess.Error, &sess.InputURL, &sess.Platform, &optsJSON, &extractionJSON,
		&sess.Transcript, &sess.TranscriptLanguage, &sess.TranscriptConfidence,
		&analysisJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}

	if len(optsJSON) > 0 {
		if err := json.Unmarshal(optsJSON, &sess.Options); err != nil {
			return domain.Session{}, fmt.Errorf("decode options: %w", err)
		}
	}
	if len(extractionJSON) > 0 {
		sess.Extraction = &domain.ExtractionResult{}
		if err := json.Unmarshal(extractionJSON, sess.Extraction); err != nil {
			return domain.Session{}, fmt.Errorf("decode extraction: %w", err)
		}
	}
	if len(analysisJSON) > 0 {
		sess.Analysis = &domain.AnalysisBundle{}
		if err := json.Unmarshal(analysisJSON, sess.Analysis); err != nil {
			return domain.Session{}, fmt.Errorf("decode analysis: %w", err)
		}
	}
	return sess, nil
}

// marshalJSONFields encodes the JSONB columns; nil structs stay NULL.
func marshalJSONFields(sess *domain.Session) (extraction, analysis, opts []byte, err error) {
	opts, err = json.Marshal(sess.Options)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal options: %w", err)
	}
	if sess.Extraction != nil {
		extraction, err = json.Marshal(sess.Extraction)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal extraction: %w", err)
		}
	}
	if sess.Analysis != nil {
		analysis, err = json.Marshal(sess.Analysis)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal analysis: %w", err)
		}
	}
	return extraction, analysis, opts, nil
}
