// Package router implements the conversation state machine that drives each
// user through the post and reply flows.
//
// Every inbound event (command, content message, callback activation, or
// automatic mirror observation) enters here. The router loads the user's
// session, consults the thread registry, calls the content relay, and commits
// the new session state. Each flow step commits its own partial state
// immediately; there are no locks spanning multiple store operations.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/telehole/telehole/internal/callback"
	"github.com/telehole/telehole/internal/models"
	"github.com/telehole/telehole/internal/relay"
	"github.com/telehole/telehole/internal/session"
	"github.com/telehole/telehole/internal/thread"
)

// Config is the immutable channel topology the router operates on,
// constructed once at startup.
type Config struct {
	// ChannelID is the public channel that receives anonymous posts.
	ChannelID int64
	// ChannelName is the channel's public username, used to build links.
	ChannelName string
	// DiscussionID is the linked discussion group that receives replies.
	DiscussionID int64
	// DebugSecret unlocks the diagnostic command when sent as an idle
	// message. Empty disables the grant path.
	DebugSecret string
}

// User-facing reply texts.
const (
	msgOnboard        = "Please run /start command first."
	msgWelcome        = "Welcome to TeleHole Bot. Use /post to open a hole, /reply to answer one."
	msgNotPrivate     = "TeleHole Bot currently only works in private chats."
	msgCanceled       = "Operation canceled."
	msgAwaitPost      = "Your next message will be posted."
	msgAwaitTarget    = "Please enter the message ID that you want to reply."
	msgAwaitBody      = "All right, then write your reply:"
	msgIdleDefault    = "わかります！"
	msgBadTarget      = "Bad message ID."
	msgHoleMissing    = "Hole does not exist, or is locked."
	msgHoleNotReady   = "Hole is not ready for replies yet, try again in a moment."
	msgForwardReply   = "You cannot reply others without your own idea."
	msgUnsupported    = "Unsupported message type."
	msgLostReply      = "How can you reach here?"
	msgAuthorized     = "Diagnostics unlocked."
	msgHelp           = "Commands:\n/post — post a new hole\n/reply — reply to a hole\n/cancel — cancel the current operation\n/help — this text"
	msgCallbackGoto   = "Goto bot and reply"
	msgCallbackStale  = ""
	labelSentByPrefix = "From "
	labelReplyPrefix  = "Reply to "
)

// Router orchestrates all user-facing behavior.
type Router struct {
	cfg      Config
	sessions *session.Manager
	threads  *thread.Registry
	relay    relay.ContentRelay
}

// New creates a Router with its collaborators.
func New(cfg Config, sessions *session.Manager, threads *thread.Registry, rl relay.ContentRelay) *Router {
	slog.Debug("Creating Router", "channelID", cfg.ChannelID, "discussionID", cfg.DiscussionID)
	return &Router{cfg: cfg, sessions: sessions, threads: threads, relay: rl}
}

// holeLink builds the canonical user-facing link for a thread. It always
// targets the public channel copy; the discussion mirror is reachable from
// there.
func (r *Router) holeLink(publicID int64) string {
	return fmt.Sprintf("https://t.me/%s/%d", r.cfg.ChannelName, publicID)
}

// sendText delivers a plain-text reply to a chat, optionally threaded under
// the message being responded to.
func (r *Router) sendText(ctx context.Context, chatID int64, text string, replyTo int64) {
	_, err := r.relay.Send(ctx, chatID, models.Content{Kind: models.ContentText, Text: text},
		relay.SendOptions{ReplyTargetID: replyTo})
	if err != nil {
		slog.Error("Router sendText failed", "error", err, "chatID", chatID)
	}
}

// HandleCommand processes a platform command issued in the user's private chat.
func (r *Router) HandleCommand(ctx context.Context, userID, chatID int64, command, args string) error {
	slog.Debug("Router HandleCommand", "userID", userID, "command", command)

	switch command {
	case "start":
		if err := r.sessions.Init(ctx, userID, chatID); err != nil {
			return err
		}
		r.sendText(ctx, chatID, msgWelcome, 0)
		return nil
	case "cancel":
		if err := r.enterOrOnboard(ctx, userID, chatID, func() error { return r.sessions.Reset(ctx, userID) }); err != nil {
			return err
		}
		return nil
	case "post":
		return r.enterState(ctx, userID, chatID, models.StateAwaitPost, msgAwaitPost)
	case "reply":
		return r.enterState(ctx, userID, chatID, models.StateAwaitReplyTarget, msgAwaitTarget)
	case "help":
		r.sendText(ctx, chatID, msgHelp, 0)
		return nil
	case "debug":
		return r.handleDebug(ctx, userID, chatID)
	default:
		slog.Debug("Router HandleCommand unknown command", "command", command)
		return nil
	}
}

// enterState moves the user to a new state and prompts them, or asks them to
// onboard if they have no session yet.
func (r *Router) enterState(ctx context.Context, userID, chatID int64, state models.SessionState, prompt string) error {
	err := r.sessions.Enter(ctx, userID, state)
	if errors.Is(err, models.ErrSessionNotFound) {
		r.sendText(ctx, chatID, msgOnboard, 0)
		return nil
	}
	if err != nil {
		return err
	}
	r.sendText(ctx, chatID, prompt, 0)
	return nil
}

// enterOrOnboard runs a session mutation, converting a missing session into
// an onboarding prompt. On success the cancel confirmation is sent.
func (r *Router) enterOrOnboard(ctx context.Context, userID, chatID int64, mutate func() error) error {
	err := mutate()
	if errors.Is(err, models.ErrSessionNotFound) {
		r.sendText(ctx, chatID, msgOnboard, 0)
		return nil
	}
	if err != nil {
		return err
	}
	r.sendText(ctx, chatID, msgCanceled, 0)
	return nil
}

// handleDebug dumps the caller's own session. Unauthorized callers are
// silently ignored.
func (r *Router) handleDebug(ctx context.Context, userID, chatID int64) error {
	sess, err := r.sessions.Get(ctx, userID)
	if errors.Is(err, models.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !sess.Authorized {
		slog.Debug("Router handleDebug unauthorized", "userID", userID)
		return nil
	}
	dump, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	r.sendText(ctx, chatID, string(dump), 0)
	return nil
}

// HandleMessage processes a non-command content message from the user's
// private chat according to their current state. inboundMsgID is the id of
// the user's own message, used to thread confirmations.
func (r *Router) HandleMessage(ctx context.Context, userID, chatID, inboundMsgID int64, content models.Content) error {
	sess, err := r.sessions.Get(ctx, userID)
	if errors.Is(err, models.ErrSessionNotFound) {
		r.sendText(ctx, chatID, msgOnboard, 0)
		return nil
	}
	if err != nil {
		return err
	}

	slog.Debug("Router HandleMessage", "userID", userID, "state", sess.State, "kind", content.Kind)
	switch sess.State {
	case models.StateIdle:
		return r.handleIdle(ctx, sess, content)
	case models.StateAwaitPost:
		return r.handlePost(ctx, sess, inboundMsgID, content)
	case models.StateAwaitReplyTarget:
		return r.handleReplyTarget(ctx, sess, content)
	case models.StateAwaitReplyBody:
		return r.handleReplyBody(ctx, sess, inboundMsgID, content)
	default:
		slog.Error("Router HandleMessage unknown state", "userID", userID, "state", sess.State)
		r.sendText(ctx, sess.ChatID, msgIdleDefault, 0)
		return nil
	}
}

// handleIdle deals with content outside any flow. The only message consumed
// here is the diagnostic shared secret; everything else gets the default
// acknowledgement.
func (r *Router) handleIdle(ctx context.Context, sess *models.UserSession, content models.Content) error {
	if r.cfg.DebugSecret != "" && content.Kind == models.ContentText &&
		strings.TrimSpace(content.Text) == r.cfg.DebugSecret {
		if err := r.sessions.Authorize(ctx, sess.UserID); err != nil {
			return err
		}
		r.sendText(ctx, sess.ChatID, msgAuthorized, 0)
		return nil
	}
	r.sendText(ctx, sess.ChatID, msgIdleDefault, 0)
	return nil
}

// handlePost relays the message to the public channel and creates the thread.
// Best effort: the session returns to idle whether or not the relay succeeds,
// and a thread already created is not rolled back.
func (r *Router) handlePost(ctx context.Context, sess *models.UserSession, inboundMsgID int64, content models.Content) error {
	defer r.forceIdle(ctx, sess.UserID)

	if !models.IsValidContentKind(content.Kind) {
		r.sendText(ctx, sess.ChatID, msgUnsupported, inboundMsgID)
		return nil
	}

	publicID, err := r.relay.Send(ctx, r.cfg.ChannelID, content, relay.SendOptions{})
	if err != nil {
		slog.Error("Router handlePost relay failed", "error", err, "userID", sess.UserID)
		r.sendText(ctx, sess.ChatID, err.Error(), inboundMsgID)
		return nil
	}

	if err := r.threads.Create(ctx, sess.UserID, publicID); err != nil {
		slog.Error("Router handlePost thread create failed", "error", err, "publicID", publicID)
		r.sendText(ctx, sess.ChatID, err.Error(), inboundMsgID)
		return err
	}

	r.sendText(ctx, sess.ChatID, "Hole created:\n\n"+r.holeLink(publicID), inboundMsgID)
	return nil
}

// handleReplyTarget expects numeric text naming a bound mirror message id.
func (r *Router) handleReplyTarget(ctx context.Context, sess *models.UserSession, content models.Content) error {
	if content.Kind != models.ContentText {
		r.sendText(ctx, sess.ChatID, msgBadTarget, 0)
		r.forceIdle(ctx, sess.UserID)
		return nil
	}
	internalID, err := strconv.ParseInt(strings.TrimSpace(content.Text), 10, 64)
	if err != nil || internalID <= 0 {
		slog.Debug("Router handleReplyTarget unparsable target", "userID", sess.UserID, "text", content.Text)
		r.sendText(ctx, sess.ChatID, msgBadTarget, 0)
		r.forceIdle(ctx, sess.UserID)
		return nil
	}

	th, err := r.threads.ResolveByInternalID(ctx, internalID)
	if errors.Is(err, models.ErrThreadNotFound) {
		r.sendText(ctx, sess.ChatID, msgHoleMissing, 0)
		r.forceIdle(ctx, sess.UserID)
		return nil
	}
	if err != nil {
		r.sendText(ctx, sess.ChatID, err.Error(), 0)
		r.forceIdle(ctx, sess.UserID)
		return err
	}

	anchor := int64(0)
	if err := r.sessions.Transition(ctx, sess.UserID, models.StateAwaitReplyBody,
		session.Fields{ReplyThreadID: &th.PublicID, ReplyAnchorID: &anchor}); err != nil {
		return err
	}
	r.sendText(ctx, sess.ChatID, msgAwaitBody, 0)
	return nil
}

// handleReplyBody relays the reply into the discussion group under the
// session's anchor, tagged with the sender's pseudonym and carrying a fresh
// reply affordance.
func (r *Router) handleReplyBody(ctx context.Context, sess *models.UserSession, inboundMsgID int64, content models.Content) error {
	defer r.forceIdle(ctx, sess.UserID)

	if sess.ReplyThreadID == 0 {
		slog.Warn("Router handleReplyBody without target", "userID", sess.UserID)
		r.sendText(ctx, sess.ChatID, msgLostReply, 0)
		return nil
	}

	th, err := r.threads.ResolveByPublicID(ctx, sess.ReplyThreadID)
	if errors.Is(err, models.ErrThreadNotFound) {
		r.sendText(ctx, sess.ChatID, msgHoleMissing, 0)
		return nil
	}
	if err != nil {
		r.sendText(ctx, sess.ChatID, err.Error(), 0)
		return err
	}
	if th.InternalID == 0 {
		// Binding races with the first reply attempt; user-visible, not fatal.
		slog.Debug("Router handleReplyBody thread not ready", "publicID", th.PublicID)
		r.sendText(ctx, sess.ChatID, msgHoleNotReady, 0)
		return nil
	}

	if content.Kind == models.ContentForward {
		r.sendText(ctx, sess.ChatID, msgForwardReply, 0)
		return nil
	}
	if !models.IsValidContentKind(content.Kind) {
		r.sendText(ctx, sess.ChatID, msgUnsupported, 0)
		return nil
	}

	ordinal, err := r.threads.RegisterParticipant(ctx, th.PublicID, sess.UserID)
	if err != nil {
		r.sendText(ctx, sess.ChatID, err.Error(), 0)
		return err
	}
	name := models.PseudonymName(ordinal)

	anchor := sess.ReplyAnchorID
	if anchor == 0 {
		anchor = th.InternalID
	}

	notify, err := callback.Encode(callback.Notify{Text: "The message is sent from " + name})
	if err != nil {
		return err
	}
	msgID, err := r.relay.Send(ctx, r.cfg.DiscussionID, content, relay.SendOptions{
		ReplyTargetID:   anchor,
		AffordanceLabel: labelSentByPrefix + name,
		Affordance:      notify,
	})
	if err != nil {
		slog.Error("Router handleReplyBody relay failed", "error", err, "userID", sess.UserID, "publicID", th.PublicID)
		r.sendText(ctx, sess.ChatID, err.Error(), inboundMsgID)
		return nil
	}

	// Rebind the control so others can answer this reply directly.
	replyTok, err := callback.Encode(callback.ReplyRequest{ThreadID: th.PublicID, AnchorID: msgID})
	if err != nil {
		return err
	}
	if err := r.relay.EditAffordance(ctx, r.cfg.DiscussionID, msgID, labelReplyPrefix+name, replyTok); err != nil {
		slog.Error("Router handleReplyBody affordance rebind failed", "error", err, "messageID", msgID)
	}

	r.sendText(ctx, sess.ChatID, "Well done.\n\nGoto the hole: "+r.holeLink(th.PublicID), inboundMsgID)
	return nil
}

// forceIdle returns the session to idle with cleared reply fields, logging
// rather than propagating failures: the flow outcome was already decided.
func (r *Router) forceIdle(ctx context.Context, userID int64) {
	if err := r.sessions.Reset(ctx, userID); err != nil {
		slog.Error("Router forceIdle failed", "error", err, "userID", userID)
	}
}

// HandleCallback processes an inline-control activation. The returned string
// is the transient acknowledgement shown to the activating user; malformed
// tokens are ignored with no user-visible effect.
func (r *Router) HandleCallback(ctx context.Context, userID int64, data string) (string, error) {
	tok, err := callback.Decode(data)
	if err != nil {
		var de *callback.DecodeError
		if errors.As(err, &de) {
			slog.Debug("Router HandleCallback stale token ignored", "userID", userID, "reason", de.Reason)
			return msgCallbackStale, nil
		}
		return "", err
	}

	switch t := tok.(type) {
	case callback.Notify:
		return t.Text, nil
	case callback.ReplyRequest:
		sess, err := r.sessions.Get(ctx, userID)
		if errors.Is(err, models.ErrSessionNotFound) {
			return msgOnboard, nil
		}
		if err != nil {
			return "", err
		}
		if err := r.sessions.Transition(ctx, userID, models.StateAwaitReplyBody,
			session.Fields{ReplyThreadID: &t.ThreadID, ReplyAnchorID: &t.AnchorID}); err != nil {
			return "", err
		}
		prompt := fmt.Sprintf("You are replying to hole %d. Please enter your reply:", t.ThreadID)
		r.sendText(ctx, sess.ChatID, prompt, 0)
		return msgCallbackGoto, nil
	default:
		return "", fmt.Errorf("unknown token type %T", tok)
	}
}

// HandleAutoForward processes the platform's automatic mirror of a channel
// post into the discussion group: the mirror id is bound to the thread and a
// discovery notice with a reply affordance is posted under it.
func (r *Router) HandleAutoForward(ctx context.Context, publicID, internalID int64) error {
	if err := r.threads.BindInternalID(ctx, publicID, internalID); err != nil {
		slog.Error("Router HandleAutoForward bind failed", "error", err, "publicID", publicID, "internalID", internalID)
		return err
	}
	slog.Info("Router HandleAutoForward bound mirror", "publicID", publicID, "internalID", internalID)

	tok, err := callback.Encode(callback.ReplyRequest{ThreadID: publicID, AnchorID: 0})
	if err != nil {
		return err
	}
	notice := fmt.Sprintf("Hole ID is %d, use this ID to reply.", internalID)
	_, err = r.relay.Send(ctx, r.cfg.DiscussionID,
		models.Content{Kind: models.ContentText, Text: notice},
		relay.SendOptions{ReplyTargetID: internalID, AffordanceLabel: "Reply to this hole", Affordance: tok})
	if err != nil {
		slog.Error("Router HandleAutoForward notice failed", "error", err, "publicID", publicID)
		return err
	}
	return nil
}
