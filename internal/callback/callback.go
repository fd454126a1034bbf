// Package callback implements the compact token protocol carried in inline
// button payloads.
//
// A token is the only state linking a previously sent message to a later
// button activation, so it must round-trip exactly and fit inside the
// platform's callback-data size limit.
package callback

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// MaxEncodedSize is the maximum encoded token length in bytes, matching the
// Telegram callback_data limit.
const MaxEncodedSize = 64

// Kind tags for the wire form. Single characters keep the payload small.
const (
	kindNotify       = "n"
	kindReplyRequest = "r"
)

// ErrTokenTooLong means the encoded token would exceed MaxEncodedSize.
var ErrTokenTooLong = errors.New("encoded token exceeds size limit")

// DecodeError reports a malformed or foreign token payload. Callers treat it
// as "stale or foreign affordance" and ignore it.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "callback token decode failed: " + e.Reason
}

// Token is a tagged value resuming a user's conversation from a UI control.
// Callers type-switch over the concrete variants.
type Token interface {
	isToken()
}

// Notify carries informational text shown transiently on activation.
type Notify struct {
	Text string
}

func (Notify) isToken() {}

// ReplyRequest resumes the activating user directly into the reply-body state
// for the given thread, anchored at AnchorID (0 = thread root).
type ReplyRequest struct {
	ThreadID int64
	AnchorID int64
}

func (ReplyRequest) isToken() {}

// wireToken is the serialized form shared by both variants.
type wireToken struct {
	Kind     string `json:"t"`
	Text     string `json:"x,omitempty"`
	ThreadID int64  `json:"h,omitempty"`
	AnchorID int64  `json:"a,omitempty"`
}

// Encode serializes a token into an opaque string. The encoding is
// deterministic; the same token always yields the same string.
func Encode(t Token) (string, error) {
	var w wireToken
	switch v := t.(type) {
	case Notify:
		w = wireToken{Kind: kindNotify, Text: v.Text}
	case ReplyRequest:
		w = wireToken{Kind: kindReplyRequest, ThreadID: v.ThreadID, AnchorID: v.AnchorID}
	default:
		return "", fmt.Errorf("unknown token type %T", t)
	}

	data, err := json.Marshal(w)
	if err != nil {
		slog.Error("callback Encode marshal failed", "error", err)
		return "", err
	}
	if len(data) > MaxEncodedSize {
		slog.Error("callback Encode token too long", "size", len(data), "limit", MaxEncodedSize)
		return "", ErrTokenTooLong
	}
	return string(data), nil
}

// Decode parses an encoded token. Malformed or unknown input yields a
// *DecodeError; Decode never panics on foreign payloads.
func Decode(data string) (Token, error) {
	var w wireToken
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		slog.Debug("callback Decode unmarshal failed", "error", err)
		return nil, &DecodeError{Reason: err.Error()}
	}
	switch w.Kind {
	case kindNotify:
		return Notify{Text: w.Text}, nil
	case kindReplyRequest:
		if w.ThreadID <= 0 {
			return nil, &DecodeError{Reason: "reply request without thread id"}
		}
		return ReplyRequest{ThreadID: w.ThreadID, AnchorID: w.AnchorID}, nil
	default:
		slog.Debug("callback Decode unknown kind", "kind", w.Kind)
		return nil, &DecodeError{Reason: "unknown token kind"}
	}
}
