// Package session provides per-user conversation state management backed by a Store.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/telehole/telehole/internal/models"
	"github.com/telehole/telehole/internal/store"
)

// Manager owns per-user conversation sessions. It performs no transition
// legality checks; legality is the router's responsibility. Every mutation is
// delegated to a single atomic store operation carrying the full intended
// delta, so concurrent events for the same user cannot lose fields.
type Manager struct {
	store store.Store
}

// NewManager creates a session Manager backed by a Store.
func NewManager(st store.Store) *Manager {
	slog.Debug("Creating session Manager")
	return &Manager{store: st}
}

// Init creates or resets a session to the idle state. Safe to call on every
// onboarding event.
func (m *Manager) Init(ctx context.Context, userID, chatID int64) error {
	slog.Debug("Manager Init", "userID", userID, "chatID", chatID)
	if err := m.store.InitUserSession(ctx, userID, chatID); err != nil {
		slog.Error("Manager Init failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to init session: %w", err)
	}
	return nil
}

// Get retrieves the current session. A user who never onboarded yields
// models.ErrSessionNotFound; store faults propagate wrapped.
func (m *Manager) Get(ctx context.Context, userID int64) (*models.UserSession, error) {
	sess, err := m.store.GetUserSession(ctx, userID)
	if err != nil {
		slog.Error("Manager Get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		slog.Debug("Manager Get not found", "userID", userID)
		return nil, models.ErrSessionNotFound
	}
	return sess, nil
}

// Fields is the optional part of a transition: reply target and anchor.
type Fields struct {
	ReplyThreadID *int64
	ReplyAnchorID *int64
}

// Transition atomically sets the session state together with any subset of
// the reply fields.
func (m *Manager) Transition(ctx context.Context, userID int64, state models.SessionState, fields Fields) error {
	slog.Debug("Manager Transition", "userID", userID, "state", state)
	upd := store.SessionUpdate{
		State:         &state,
		ReplyThreadID: fields.ReplyThreadID,
		ReplyAnchorID: fields.ReplyAnchorID,
	}
	if err := m.store.UpdateUserSession(ctx, userID, upd); err != nil {
		slog.Error("Manager Transition failed", "error", err, "userID", userID, "state", state)
		return err
	}
	slog.Debug("Manager Transition succeeded", "userID", userID, "state", state)
	return nil
}

// Enter sets the session state without touching the reply fields.
func (m *Manager) Enter(ctx context.Context, userID int64, state models.SessionState) error {
	return m.Transition(ctx, userID, state, Fields{})
}

// Reset returns the session to idle and clears both reply fields.
func (m *Manager) Reset(ctx context.Context, userID int64) error {
	var zero int64
	return m.Transition(ctx, userID, models.StateIdle, Fields{ReplyThreadID: &zero, ReplyAnchorID: &zero})
}

// Authorize grants the diagnostic capability to a user.
func (m *Manager) Authorize(ctx context.Context, userID int64) error {
	slog.Info("Manager Authorize", "userID", userID)
	authorized := true
	return m.store.UpdateUserSession(ctx, userID, store.SessionUpdate{Authorized: &authorized})
}
