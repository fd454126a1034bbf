// Package store provides storage backends for TeleHole.
//
// This file implements an SQLite-backed store for sessions and threads.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/telehole/telehole/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetUserSession retrieves a user's session, or (nil, nil) if never onboarded.
func (s *SQLiteStore) GetUserSession(ctx context.Context, userID int64) (*models.UserSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, chat_id, state, reply_thread_id, reply_anchor_id, authorized, created_at, updated_at
		FROM user_sessions WHERE user_id = ?`, userID)
	sess, err := scanUserSession(row)
	if err != nil {
		slog.Error("SQLiteStore GetUserSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query session for %d: %w", userID, err)
	}
	return sess, nil
}

// InitUserSession creates or resets a session to the idle state in one upsert.
func (s *SQLiteStore) InitUserSession(ctx context.Context, userID, chatID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_sessions (user_id, chat_id, state, reply_thread_id, reply_anchor_id, authorized, created_at, updated_at)
		VALUES (?, ?, ?, 0, 0, 0, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET chat_id = excluded.chat_id, state = excluded.state, updated_at = excluded.updated_at`,
		userID, chatID, string(models.StateIdle), now, now)
	if err != nil {
		slog.Error("SQLiteStore InitUserSession failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to init session for %d: %w", userID, err)
	}
	slog.Debug("SQLiteStore InitUserSession succeeded", "userID", userID, "chatID", chatID)
	return nil
}

// UpdateUserSession applies a partial session delta in a single UPDATE.
func (s *SQLiteStore) UpdateUserSession(ctx context.Context, userID int64, upd SessionUpdate) error {
	cols, args := sessionUpdateColumns(upd)
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		sets = append(sets, col+" = ?")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), userID)

	query := "UPDATE user_sessions SET " + strings.Join(sets, ", ") + " WHERE user_id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore UpdateUserSession failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update session for %d: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		slog.Debug("SQLiteStore UpdateUserSession no session", "userID", userID)
		return models.ErrSessionNotFound
	}
	slog.Debug("SQLiteStore UpdateUserSession succeeded", "userID", userID, "columns", len(cols))
	return nil
}

// CreateThread records a new thread with the creator as ordinal 0.
func (s *SQLiteStore) CreateThread(ctx context.Context, publicID, creatorUserID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("SQLiteStore CreateThread begin failed", "error", err, "publicID", publicID)
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `INSERT INTO threads (public_id, internal_id, created_at, updated_at)
		VALUES (?, 0, ?, ?) ON CONFLICT(public_id) DO NOTHING`, publicID, now, now); err != nil {
		slog.Error("SQLiteStore CreateThread insert failed", "error", err, "publicID", publicID)
		return fmt.Errorf("failed to create thread %d: %w", publicID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO thread_participants (public_id, user_id, ordinal, created_at)
		VALUES (?, ?, 0, ?) ON CONFLICT(public_id, user_id) DO NOTHING`, publicID, creatorUserID, now); err != nil {
		slog.Error("SQLiteStore CreateThread creator insert failed", "error", err, "publicID", publicID)
		return fmt.Errorf("failed to record creator for thread %d: %w", publicID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore CreateThread commit failed", "error", err, "publicID", publicID)
		return err
	}
	slog.Debug("SQLiteStore CreateThread succeeded", "publicID", publicID, "creator", creatorUserID)
	return nil
}

// GetThreadByPublicID retrieves a thread by its channel message id.
func (s *SQLiteStore) GetThreadByPublicID(ctx context.Context, publicID int64) (*models.Thread, error) {
	return s.getThread(ctx, `SELECT public_id, internal_id, created_at, updated_at FROM threads WHERE public_id = ?`, publicID)
}

// GetThreadByInternalID retrieves a thread by its discussion mirror id.
func (s *SQLiteStore) GetThreadByInternalID(ctx context.Context, internalID int64) (*models.Thread, error) {
	return s.getThread(ctx, `SELECT public_id, internal_id, created_at, updated_at FROM threads WHERE internal_id = ? AND internal_id <> 0`, internalID)
}

func (s *SQLiteStore) getThread(ctx context.Context, query string, key int64) (*models.Thread, error) {
	th, err := scanThread(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		slog.Error("SQLiteStore getThread failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to query thread %d: %w", key, err)
	}
	if th == nil {
		return nil, nil
	}
	th.Participants, err = loadParticipants(s.db,
		`SELECT user_id FROM thread_participants WHERE public_id = ? ORDER BY ordinal`, th.PublicID)
	if err != nil {
		slog.Error("SQLiteStore getThread participants failed", "error", err, "publicID", th.PublicID)
		return nil, fmt.Errorf("failed to load participants for thread %d: %w", th.PublicID, err)
	}
	return th, nil
}

// BindThreadInternalID binds the mirror id, creating the thread if needed.
// Rebinding to a different value leaves the row untouched and returns
// models.ErrInternalIDBound.
func (s *SQLiteStore) BindThreadInternalID(ctx context.Context, publicID, internalID int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO threads (public_id, internal_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(public_id) DO UPDATE SET internal_id = excluded.internal_id, updated_at = excluded.updated_at
		WHERE threads.internal_id = 0 OR threads.internal_id = excluded.internal_id`,
		publicID, internalID, now, now)
	if err != nil {
		slog.Error("SQLiteStore BindThreadInternalID failed", "error", err, "publicID", publicID, "internalID", internalID)
		return fmt.Errorf("failed to bind internal id for thread %d: %w", publicID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		slog.Error("SQLiteStore BindThreadInternalID conflicting bind", "publicID", publicID, "internalID", internalID)
		return models.ErrInternalIDBound
	}
	slog.Debug("SQLiteStore BindThreadInternalID succeeded", "publicID", publicID, "internalID", internalID)
	return nil
}

// AppendParticipant appends a user unless already present and returns the
// ordinal. The insert computes the ordinal and appends in one statement, so
// SQLite's writer serialization keeps ordinals gap-free under concurrency.
func (s *SQLiteStore) AppendParticipant(ctx context.Context, publicID, userID int64) (int, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE public_id = ?`, publicID).Scan(&exists)
	if err == sql.ErrNoRows {
		return 0, models.ErrThreadNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore AppendParticipant thread lookup failed", "error", err, "publicID", publicID)
		return 0, fmt.Errorf("failed to look up thread %d: %w", publicID, err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO thread_participants (public_id, user_id, ordinal, created_at)
		SELECT ?, ?, COUNT(*), ? FROM thread_participants WHERE public_id = ?
		ON CONFLICT(public_id, user_id) DO NOTHING`,
		publicID, userID, time.Now().UTC(), publicID)
	if err != nil {
		slog.Error("SQLiteStore AppendParticipant insert failed", "error", err, "publicID", publicID, "userID", userID)
		return 0, fmt.Errorf("failed to append participant to thread %d: %w", publicID, err)
	}

	var ordinal int
	err = s.db.QueryRowContext(ctx, `SELECT ordinal FROM thread_participants WHERE public_id = ? AND user_id = ?`,
		publicID, userID).Scan(&ordinal)
	if err != nil {
		slog.Error("SQLiteStore AppendParticipant ordinal lookup failed", "error", err, "publicID", publicID, "userID", userID)
		return 0, fmt.Errorf("failed to read ordinal for thread %d: %w", publicID, err)
	}
	slog.Debug("SQLiteStore AppendParticipant succeeded", "publicID", publicID, "userID", userID, "ordinal", ordinal)
	return ordinal, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
