// Package store provides storage backends for TeleHole.
//
// It includes an in-memory store for tests and SQLite/PostgreSQL stores for
// durable session and thread persistence. All mutations that the conversation
// flow depends on (session upserts, participant appends) are single atomic
// operations against the backend.
package store

import (
	"context"
	"strings"

	"github.com/telehole/telehole/internal/models"
)

// Store defines the persistence operations shared by all backends.
type Store interface {
	// GetUserSession returns the session for a user, or (nil, nil) if the
	// user never onboarded.
	GetUserSession(ctx context.Context, userID int64) (*models.UserSession, error)

	// InitUserSession creates or resets a session to the idle state. It is
	// an atomic upsert and safe to call repeatedly.
	InitUserSession(ctx context.Context, userID, chatID int64) error

	// UpdateUserSession atomically applies the given partial update to an
	// existing session. The whole delta is written in one operation so
	// concurrent updates for the same user cannot interleave field-wise.
	UpdateUserSession(ctx context.Context, userID int64, upd SessionUpdate) error

	// CreateThread records a new thread for a public post with the creator
	// as its only participant (ordinal 0).
	CreateThread(ctx context.Context, publicID, creatorUserID int64) error

	// GetThreadByPublicID returns the thread keyed by its channel message id,
	// or (nil, nil) if absent.
	GetThreadByPublicID(ctx context.Context, publicID int64) (*models.Thread, error)

	// GetThreadByInternalID returns the thread whose discussion mirror has
	// the given message id, or (nil, nil) if no thread has that binding.
	GetThreadByInternalID(ctx context.Context, internalID int64) (*models.Thread, error)

	// BindThreadInternalID binds the discussion mirror id to a thread. The
	// bind is idempotent for the same value; rebinding to a different value
	// fails with models.ErrInternalIDBound. If no thread exists for publicID
	// one is created without participants (the post originated outside the
	// bot, e.g. a direct channel post).
	BindThreadInternalID(ctx context.Context, publicID, internalID int64) error

	// AppendParticipant atomically appends a user to a thread's participant
	// list unless already present, and returns the user's ordinal either way.
	// Concurrent calls for distinct users yield distinct gap-free ordinals.
	AppendParticipant(ctx context.Context, publicID, userID int64) (int, error)

	// Close releases backend resources.
	Close() error
}

// SessionUpdate is a partial session delta. Nil fields are left untouched;
// the non-nil subset is applied in a single atomic write.
type SessionUpdate struct {
	State         *models.SessionState
	ReplyThreadID *int64
	ReplyAnchorID *int64
	Authorized    *bool
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string (file path for SQLite,
	// postgres:// URL or key=value string for PostgreSQL).
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (assumed to be a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
