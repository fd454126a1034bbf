// Package thread provides the thread ("hole") registry: pseudonym ordinals
// and the binding between a public post and its discussion mirror.
package thread

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/telehole/telehole/internal/models"
	"github.com/telehole/telehole/internal/store"
)

// Registry owns per-thread participant ordinals and mirror bindings. All
// invariant-bearing mutations (participant append, mirror bind) are single
// atomic store operations, so they hold under concurrent events and crashes.
type Registry struct {
	store store.Store
}

// NewRegistry creates a thread Registry backed by a Store.
func NewRegistry(st store.Store) *Registry {
	slog.Debug("Creating thread Registry")
	return &Registry{store: st}
}

// Create records a new thread for a freshly relayed public post. The creator
// becomes ordinal 0; the discussion mirror is not bound yet.
func (r *Registry) Create(ctx context.Context, creatorUserID, publicID int64) error {
	slog.Info("Registry Create", "publicID", publicID, "creator", creatorUserID)
	if err := r.store.CreateThread(ctx, publicID, creatorUserID); err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

// RegisterParticipant assigns the user their per-thread ordinal, appending
// them if this is their first appearance. Idempotent: an existing participant
// keeps their original ordinal.
func (r *Registry) RegisterParticipant(ctx context.Context, publicID, userID int64) (int, error) {
	ordinal, err := r.store.AppendParticipant(ctx, publicID, userID)
	if err != nil {
		slog.Error("Registry RegisterParticipant failed", "error", err, "publicID", publicID, "userID", userID)
		return 0, err
	}
	slog.Debug("Registry RegisterParticipant", "publicID", publicID, "userID", userID, "ordinal", ordinal)
	return ordinal, nil
}

// BindInternalID binds the discussion mirror message to the thread. The bind
// happens exactly once; rebinding to a different value is a logic error.
func (r *Registry) BindInternalID(ctx context.Context, publicID, internalID int64) error {
	slog.Info("Registry BindInternalID", "publicID", publicID, "internalID", internalID)
	if err := r.store.BindThreadInternalID(ctx, publicID, internalID); err != nil {
		slog.Error("Registry BindInternalID failed", "error", err, "publicID", publicID, "internalID", internalID)
		return err
	}
	return nil
}

// ResolveByPublicID looks a thread up by its channel message id.
func (r *Registry) ResolveByPublicID(ctx context.Context, publicID int64) (*models.Thread, error) {
	th, err := r.store.GetThreadByPublicID(ctx, publicID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve thread %d: %w", publicID, err)
	}
	if th == nil {
		slog.Debug("Registry ResolveByPublicID not found", "publicID", publicID)
		return nil, models.ErrThreadNotFound
	}
	return th, nil
}

// ResolveByInternalID looks a thread up by its discussion mirror message id.
// A thread whose mirror has not been observed yet is not resolvable this way;
// callers surface that as "thread not ready yet", not a crash.
func (r *Registry) ResolveByInternalID(ctx context.Context, internalID int64) (*models.Thread, error) {
	th, err := r.store.GetThreadByInternalID(ctx, internalID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve thread by internal id %d: %w", internalID, err)
	}
	if th == nil {
		slog.Debug("Registry ResolveByInternalID not found", "internalID", internalID)
		return nil, models.ErrThreadNotFound
	}
	return th, nil
}
