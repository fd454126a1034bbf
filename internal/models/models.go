// Package models defines the core data structures for TeleHole.
//
// It includes the per-user conversation session, the thread ("hole") record,
// and the closed set of relayable content kinds, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// SessionState identifies where a user currently is in the conversation flow.
type SessionState string

const (
	// StateIdle is the initial and terminal state of every flow.
	StateIdle SessionState = "IDLE"
	// StateAwaitPost means the user's next message becomes a public post.
	StateAwaitPost SessionState = "AWAIT_POST"
	// StateAwaitReplyTarget means the user's next message must name a thread to reply to.
	StateAwaitReplyTarget SessionState = "AWAIT_REPLY_TARGET"
	// StateAwaitReplyBody means the user's next message becomes a reply into the
	// thread recorded in the session.
	StateAwaitReplyBody SessionState = "AWAIT_REPLY_BODY"
)

// IsValidSessionState checks if the given session state is a known state.
func IsValidSessionState(s SessionState) bool {
	switch s {
	case StateIdle, StateAwaitPost, StateAwaitReplyTarget, StateAwaitReplyBody:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	// ErrSessionNotFound means the user never onboarded (no /start yet).
	ErrSessionNotFound = errors.New("session not found")
	// ErrThreadNotFound means no thread exists for the given identity.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrInternalIDBound means the thread's mirror identity was already bound
	// to a different message.
	ErrInternalIDBound = errors.New("internal id already bound")
	// ErrUnsupportedContent means the inbound message is not one of the
	// relayable content kinds.
	ErrUnsupportedContent = errors.New("unsupported content kind")
)

// UserSession tracks one real user's conversation state with the bot.
// Exactly one session exists per UserID; it is created on first contact and
// updated on every transition, never deleted.
type UserSession struct {
	UserID int64        `json:"user_id"`
	ChatID int64        `json:"chat_id"`
	State  SessionState `json:"state"`
	// ReplyThreadID is the public id of the thread being replied to.
	// Meaningful only while State == StateAwaitReplyBody; 0 means unset.
	ReplyThreadID int64 `json:"reply_thread_id,omitempty"`
	// ReplyAnchorID is the discussion-group message being answered.
	// 0 means the thread's mirror root.
	ReplyAnchorID int64 `json:"reply_anchor_id,omitempty"`
	// Authorized gates the diagnostic capability only; it is unrelated to the
	// conversation state.
	Authorized bool      `json:"authorized,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Thread represents one public post ("hole") and its reply tree.
type Thread struct {
	// PublicID is the message id of the post in the public channel. It is the
	// canonical thread key, assigned when the post is relayed.
	PublicID int64 `json:"public_id"`
	// InternalID is the message id of the platform-generated mirror of the
	// post inside the discussion group. 0 until the mirror is observed.
	InternalID int64 `json:"internal_id,omitempty"`
	// Participants is the ordered, duplicate-free list of user ids; the index
	// of a user is their pseudonym ordinal. Index 0 is the original poster.
	Participants []int64   `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Ordinal returns the pseudonym ordinal of userID in the thread, or -1 if the
// user is not a participant.
func (t *Thread) Ordinal(userID int64) int {
	for i, id := range t.Participants {
		if id == userID {
			return i
		}
	}
	return -1
}
