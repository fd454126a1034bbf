// Package store provides storage backends for TeleHole.
//
// This file implements a PostgreSQL-backed store for sessions and threads.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/telehole/telehole/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// GetUserSession retrieves a user's session, or (nil, nil) if never onboarded.
func (s *PostgresStore) GetUserSession(ctx context.Context, userID int64) (*models.UserSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, chat_id, state, reply_thread_id, reply_anchor_id, authorized, created_at, updated_at
		FROM user_sessions WHERE user_id = $1`, userID)
	sess, err := scanUserSession(row)
	if err != nil {
		slog.Error("PostgresStore GetUserSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query session for %d: %w", userID, err)
	}
	return sess, nil
}

// InitUserSession creates or resets a session to the idle state in one upsert.
func (s *PostgresStore) InitUserSession(ctx context.Context, userID, chatID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_sessions (user_id, chat_id, state, reply_thread_id, reply_anchor_id, authorized, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, FALSE, $4, $4)
		ON CONFLICT (user_id) DO UPDATE SET chat_id = EXCLUDED.chat_id, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		userID, chatID, string(models.StateIdle), now)
	if err != nil {
		slog.Error("PostgresStore InitUserSession failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to init session for %d: %w", userID, err)
	}
	slog.Debug("PostgresStore InitUserSession succeeded", "userID", userID, "chatID", chatID)
	return nil
}

// UpdateUserSession applies a partial session delta in a single UPDATE.
func (s *PostgresStore) UpdateUserSession(ctx context.Context, userID int64, upd SessionUpdate) error {
	cols, args := sessionUpdateColumns(upd)
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, 0, len(cols)+1)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(cols)+1))
	args = append(args, time.Now().UTC(), userID)

	query := fmt.Sprintf("UPDATE user_sessions SET %s WHERE user_id = $%d", strings.Join(sets, ", "), len(cols)+2)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore UpdateUserSession failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update session for %d: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		slog.Debug("PostgresStore UpdateUserSession no session", "userID", userID)
		return models.ErrSessionNotFound
	}
	slog.Debug("PostgresStore UpdateUserSession succeeded", "userID", userID, "columns", len(cols))
	return nil
}

// CreateThread records a new thread with the creator as ordinal 0.
func (s *PostgresStore) CreateThread(ctx context.Context, publicID, creatorUserID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("PostgresStore CreateThread begin failed", "error", err, "publicID", publicID)
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `INSERT INTO threads (public_id, internal_id, created_at, updated_at)
		VALUES ($1, 0, $2, $2) ON CONFLICT (public_id) DO NOTHING`, publicID, now); err != nil {
		slog.Error("PostgresStore CreateThread insert failed", "error", err, "publicID", publicID)
		return fmt.Errorf("failed to create thread %d: %w", publicID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO thread_participants (public_id, user_id, ordinal, created_at)
		VALUES ($1, $2, 0, $3) ON CONFLICT (public_id, user_id) DO NOTHING`, publicID, creatorUserID, now); err != nil {
		slog.Error("PostgresStore CreateThread creator insert failed", "error", err, "publicID", publicID)
		return fmt.Errorf("failed to record creator for thread %d: %w", publicID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore CreateThread commit failed", "error", err, "publicID", publicID)
		return err
	}
	slog.Debug("PostgresStore CreateThread succeeded", "publicID", publicID, "creator", creatorUserID)
	return nil
}

// GetThreadByPublicID retrieves a thread by its channel message id.
func (s *PostgresStore) GetThreadByPublicID(ctx context.Context, publicID int64) (*models.Thread, error) {
	return s.getThread(ctx, `SELECT public_id, internal_id, created_at, updated_at FROM threads WHERE public_id = $1`, publicID)
}

// GetThreadByInternalID retrieves a thread by its discussion mirror id.
func (s *PostgresStore) GetThreadByInternalID(ctx context.Context, internalID int64) (*models.Thread, error) {
	return s.getThread(ctx, `SELECT public_id, internal_id, created_at, updated_at FROM threads WHERE internal_id = $1 AND internal_id <> 0`, internalID)
}

func (s *PostgresStore) getThread(ctx context.Context, query string, key int64) (*models.Thread, error) {
	th, err := scanThread(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		slog.Error("PostgresStore getThread failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to query thread %d: %w", key, err)
	}
	if th == nil {
		return nil, nil
	}
	th.Participants, err = loadParticipants(s.db,
		`SELECT user_id FROM thread_participants WHERE public_id = $1 ORDER BY ordinal`, th.PublicID)
	if err != nil {
		slog.Error("PostgresStore getThread participants failed", "error", err, "publicID", th.PublicID)
		return nil, fmt.Errorf("failed to load participants for thread %d: %w", th.PublicID, err)
	}
	return th, nil
}

// BindThreadInternalID binds the mirror id, creating the thread if needed.
func (s *PostgresStore) BindThreadInternalID(ctx context.Context, publicID, internalID int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO threads (public_id, internal_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (public_id) DO UPDATE SET internal_id = EXCLUDED.internal_id, updated_at = EXCLUDED.updated_at
		WHERE threads.internal_id = 0 OR threads.internal_id = EXCLUDED.internal_id`,
		publicID, internalID, now)
	if err != nil {
		slog.Error("PostgresStore BindThreadInternalID failed", "error", err, "publicID", publicID, "internalID", internalID)
		return fmt.Errorf("failed to bind internal id for thread %d: %w", publicID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		slog.Error("PostgresStore BindThreadInternalID conflicting bind", "publicID", publicID, "internalID", internalID)
		return models.ErrInternalIDBound
	}
	slog.Debug("PostgresStore BindThreadInternalID succeeded", "publicID", publicID, "internalID", internalID)
	return nil
}

// AppendParticipant appends a user unless already present and returns the
// ordinal. The thread row is locked for the duration of the transaction so
// concurrent appends to the same thread serialize and ordinals stay gap-free.
func (s *PostgresStore) AppendParticipant(ctx context.Context, publicID, userID int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("PostgresStore AppendParticipant begin failed", "error", err, "publicID", publicID)
		return 0, err
	}
	defer tx.Rollback()

	var locked int64
	err = tx.QueryRowContext(ctx, `SELECT public_id FROM threads WHERE public_id = $1 FOR UPDATE`, publicID).Scan(&locked)
	if err == sql.ErrNoRows {
		return 0, models.ErrThreadNotFound
	}
	if err != nil {
		slog.Error("PostgresStore AppendParticipant lock failed", "error", err, "publicID", publicID)
		return 0, fmt.Errorf("failed to lock thread %d: %w", publicID, err)
	}

	var ordinal int
	err = tx.QueryRowContext(ctx, `SELECT ordinal FROM thread_participants WHERE public_id = $1 AND user_id = $2`,
		publicID, userID).Scan(&ordinal)
	if err == nil {
		// Already a participant; keep the original ordinal.
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		slog.Debug("PostgresStore AppendParticipant existing", "publicID", publicID, "userID", userID, "ordinal", ordinal)
		return ordinal, nil
	}
	if err != sql.ErrNoRows {
		slog.Error("PostgresStore AppendParticipant lookup failed", "error", err, "publicID", publicID, "userID", userID)
		return 0, fmt.Errorf("failed to look up participant in thread %d: %w", publicID, err)
	}

	err = tx.QueryRowContext(ctx, `INSERT INTO thread_participants (public_id, user_id, ordinal, created_at)
		SELECT $1, $2, COUNT(*), $3 FROM thread_participants WHERE public_id = $1
		RETURNING ordinal`, publicID, userID, time.Now().UTC()).Scan(&ordinal)
	if err != nil {
		slog.Error("PostgresStore AppendParticipant insert failed", "error", err, "publicID", publicID, "userID", userID)
		return 0, fmt.Errorf("failed to append participant to thread %d: %w", publicID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore AppendParticipant commit failed", "error", err, "publicID", publicID)
		return 0, err
	}
	slog.Debug("PostgresStore AppendParticipant succeeded", "publicID", publicID, "userID", userID, "ordinal", ordinal)
	return ordinal, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
