package session

import (
	"context"
	"errors"
	"testing"

	"github.com/telehole/telehole/internal/models"
	"github.com/telehole/telehole/internal/store"
)

func TestInitThenGetIsIdle(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	ctx := context.Background()

	if err := m.Init(ctx, 1, 11); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	sess, err := m.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if sess.State != models.StateIdle {
		t.Errorf("state after init = %s, want %s", sess.State, models.StateIdle)
	}
	if sess.ChatID != 11 {
		t.Errorf("chat id = %d, want 11", sess.ChatID)
	}
}

func TestGetUnknownUser(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	if _, err := m.Get(context.Background(), 404); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}

func TestInitResetsState(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	ctx := context.Background()

	if err := m.Init(ctx, 1, 11); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := m.Enter(ctx, 1, models.StateAwaitPost); err != nil {
		t.Fatalf("enter failed: %v", err)
	}
	if err := m.Init(ctx, 1, 11); err != nil {
		t.Fatalf("re-init failed: %v", err)
	}
	sess, _ := m.Get(ctx, 1)
	if sess.State != models.StateIdle {
		t.Errorf("re-init should reset state, got %s", sess.State)
	}
}

func TestTransitionSetsFields(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	ctx := context.Background()
	if err := m.Init(ctx, 1, 11); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	tid, anchor := int64(42), int64(9)
	err := m.Transition(ctx, 1, models.StateAwaitReplyBody, Fields{ReplyThreadID: &tid, ReplyAnchorID: &anchor})
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	sess, _ := m.Get(ctx, 1)
	if sess.State != models.StateAwaitReplyBody || sess.ReplyThreadID != 42 || sess.ReplyAnchorID != 9 {
		t.Errorf("unexpected session after transition: %+v", sess)
	}

	if err := m.Reset(ctx, 1); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	sess, _ = m.Get(ctx, 1)
	if sess.State != models.StateIdle || sess.ReplyThreadID != 0 || sess.ReplyAnchorID != 0 {
		t.Errorf("reset should clear reply fields: %+v", sess)
	}
}

func TestAuthorizeKeepsConversationState(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	ctx := context.Background()
	if err := m.Init(ctx, 1, 11); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := m.Enter(ctx, 1, models.StateAwaitPost); err != nil {
		t.Fatalf("enter failed: %v", err)
	}
	if err := m.Authorize(ctx, 1); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	sess, _ := m.Get(ctx, 1)
	if !sess.Authorized {
		t.Error("user should be authorized")
	}
	if sess.State != models.StateAwaitPost {
		t.Errorf("authorize must not touch conversation state, got %s", sess.State)
	}
}
