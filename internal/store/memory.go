// Package store provides storage backends for TeleHole.
//
// This file implements an in-memory store. It satisfies the same atomicity
// contract as the durable backends through a single mutex, which makes it the
// reference implementation for tests.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/telehole/telehole/internal/models"
)

// InMemoryStore keeps sessions and threads in process memory.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]*models.UserSession
	threads  map[int64]*models.Thread // keyed by public id
	internal map[int64]int64          // internal id -> public id
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[int64]*models.UserSession),
		threads:  make(map[int64]*models.Thread),
		internal: make(map[int64]int64),
	}
}

// GetUserSession returns a copy of the stored session, or (nil, nil) if the
// user never onboarded.
func (s *InMemoryStore) GetUserSession(ctx context.Context, userID int64) (*models.UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

// InitUserSession creates or resets a session to the idle state.
func (s *InMemoryStore) InitUserSession(ctx context.Context, userID, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if sess, ok := s.sessions[userID]; ok {
		sess.ChatID = chatID
		sess.State = models.StateIdle
		sess.UpdatedAt = now
		return nil
	}
	s.sessions[userID] = &models.UserSession{
		UserID:    userID,
		ChatID:    chatID,
		State:     models.StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// UpdateUserSession applies a partial delta to an existing session.
func (s *InMemoryStore) UpdateUserSession(ctx context.Context, userID int64, upd SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return models.ErrSessionNotFound
	}
	if upd.State != nil {
		sess.State = *upd.State
	}
	if upd.ReplyThreadID != nil {
		sess.ReplyThreadID = *upd.ReplyThreadID
	}
	if upd.ReplyAnchorID != nil {
		sess.ReplyAnchorID = *upd.ReplyAnchorID
	}
	if upd.Authorized != nil {
		sess.Authorized = *upd.Authorized
	}
	sess.UpdatedAt = time.Now()
	return nil
}

// CreateThread records a new thread with the creator as ordinal 0.
func (s *InMemoryStore) CreateThread(ctx context.Context, publicID, creatorUserID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[publicID]; ok {
		slog.Warn("InMemoryStore CreateThread already exists", "publicID", publicID)
		return nil
	}
	now := time.Now()
	s.threads[publicID] = &models.Thread{
		PublicID:     publicID,
		Participants: []int64{creatorUserID},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return nil
}

// GetThreadByPublicID returns a copy of the thread, or (nil, nil) if absent.
func (s *InMemoryStore) GetThreadByPublicID(ctx context.Context, publicID int64) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyThreadLocked(publicID), nil
}

// GetThreadByInternalID returns a copy of the thread bound to the given
// discussion mirror id, or (nil, nil) if no such binding exists.
func (s *InMemoryStore) GetThreadByInternalID(ctx context.Context, internalID int64) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	publicID, ok := s.internal[internalID]
	if !ok {
		return nil, nil
	}
	return s.copyThreadLocked(publicID), nil
}

// BindThreadInternalID binds the mirror id, creating the thread if needed.
func (s *InMemoryStore) BindThreadInternalID(ctx context.Context, publicID, internalID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	th, ok := s.threads[publicID]
	if !ok {
		th = &models.Thread{PublicID: publicID, CreatedAt: now}
		s.threads[publicID] = th
	}
	if th.InternalID != 0 && th.InternalID != internalID {
		return models.ErrInternalIDBound
	}
	th.InternalID = internalID
	th.UpdatedAt = now
	s.internal[internalID] = publicID
	return nil
}

// AppendParticipant appends a user to the participant list unless already
// present, returning the ordinal either way.
func (s *InMemoryStore) AppendParticipant(ctx context.Context, publicID, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[publicID]
	if !ok {
		return 0, models.ErrThreadNotFound
	}
	if ord := th.Ordinal(userID); ord >= 0 {
		return ord, nil
	}
	th.Participants = append(th.Participants, userID)
	th.UpdatedAt = time.Now()
	return len(th.Participants) - 1, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// copyThreadLocked returns a defensive copy; callers must hold s.mu.
func (s *InMemoryStore) copyThreadLocked(publicID int64) *models.Thread {
	th, ok := s.threads[publicID]
	if !ok {
		return nil
	}
	copied := *th
	copied.Participants = append([]int64(nil), th.Participants...)
	return &copied
}
