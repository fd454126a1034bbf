package router

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/telehole/telehole/internal/callback"
	"github.com/telehole/telehole/internal/models"
	"github.com/telehole/telehole/internal/relay"
	"github.com/telehole/telehole/internal/session"
	"github.com/telehole/telehole/internal/store"
	"github.com/telehole/telehole/internal/thread"
)

type sentMessage struct {
	ID      int64
	Dest    int64
	Content models.Content
	Opts    relay.SendOptions
}

type editedAffordance struct {
	Dest      int64
	MessageID int64
	Label     string
	Token     string
}

// fakeRelay records sends and affordance edits, handing out sequential
// message ids per destination chat.
type fakeRelay struct {
	mu     sync.Mutex
	nextID int64
	Sent   []sentMessage
	Edits  []editedAffordance
	Fail   error
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{nextID: 1000}
}

func (f *fakeRelay) Send(ctx context.Context, dest int64, content models.Content, opts relay.SendOptions) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail != nil {
		return 0, f.Fail
	}
	f.nextID++
	f.Sent = append(f.Sent, sentMessage{ID: f.nextID, Dest: dest, Content: content, Opts: opts})
	return f.nextID, nil
}

func (f *fakeRelay) EditAffordance(ctx context.Context, dest, messageID int64, label, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Edits = append(f.Edits, editedAffordance{Dest: dest, MessageID: messageID, Label: label, Token: token})
	return nil
}

// lastTo returns the most recent message sent to dest, or nil.
func (f *fakeRelay) lastTo(dest int64) *sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Sent) - 1; i >= 0; i-- {
		if f.Sent[i].Dest == dest {
			return &f.Sent[i]
		}
	}
	return nil
}

func (f *fakeRelay) countTo(dest int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.Sent {
		if m.Dest == dest {
			n++
		}
	}
	return n
}

const (
	channelID    = int64(-1001)
	discussionID = int64(-1002)
)

func newTestRouter(t *testing.T) (*Router, *fakeRelay, *thread.Registry, *session.Manager) {
	t.Helper()
	st := store.NewInMemoryStore()
	sessions := session.NewManager(st)
	threads := thread.NewRegistry(st)
	fake := newFakeRelay()
	cfg := Config{
		ChannelID:    channelID,
		ChannelName:  "testhole",
		DiscussionID: discussionID,
		DebugSecret:  "hunter2",
	}
	return New(cfg, sessions, threads, fake), fake, threads, sessions
}

func text(s string) models.Content {
	return models.Content{Kind: models.ContentText, Text: s}
}

// start onboards a user in their private chat.
func start(t *testing.T, r *Router, userID, chatID int64) {
	t.Helper()
	if err := r.HandleCommand(context.Background(), userID, chatID, "start", ""); err != nil {
		t.Fatalf("start for %d failed: %v", userID, err)
	}
}

func TestMessageWithoutSessionPromptsOnboarding(t *testing.T) {
	r, fake, _, _ := newTestRouter(t)
	if err := r.HandleMessage(context.Background(), 1, 11, 5, text("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := fake.lastTo(11)
	if got == nil || got.Content.Text != msgOnboard {
		t.Errorf("expected onboarding prompt, got %+v", got)
	}
}

func TestPostFlowCreatesThread(t *testing.T) {
	r, fake, threads, sessions := newTestRouter(t)
	ctx := context.Background()

	start(t, r, 1, 11)
	if err := r.HandleCommand(ctx, 1, 11, "post", ""); err != nil {
		t.Fatalf("post command failed: %v", err)
	}
	sess, _ := sessions.Get(ctx, 1)
	if sess.State != models.StateAwaitPost {
		t.Fatalf("state after /post = %s", sess.State)
	}

	if err := r.HandleMessage(ctx, 1, 11, 5, text("hello")); err != nil {
		t.Fatalf("post message failed: %v", err)
	}

	posted := fake.lastTo(channelID)
	if posted == nil || posted.Content.Text != "hello" {
		t.Fatalf("post not relayed to channel: %+v", posted)
	}
	th, err := threads.ResolveByPublicID(ctx, posted.ID)
	if err != nil {
		t.Fatalf("thread not created: %v", err)
	}
	if len(th.Participants) != 1 || th.Participants[0] != 1 {
		t.Errorf("participants = %v, want [1]", th.Participants)
	}

	confirm := fake.lastTo(11)
	if confirm == nil || !strings.Contains(confirm.Content.Text, "https://t.me/testhole/") {
		t.Errorf("confirmation should link the public channel copy: %+v", confirm)
	}

	sess, _ = sessions.Get(ctx, 1)
	if sess.State != models.StateIdle {
		t.Errorf("state after post = %s, want idle", sess.State)
	}
}

func TestPostRelayFailureStillForcesIdle(t *testing.T) {
	r, fake, _, sessions := newTestRouter(t)
	ctx := context.Background()

	start(t, r, 1, 11)
	if err := r.HandleCommand(ctx, 1, 11, "post", ""); err != nil {
		t.Fatalf("post command failed: %v", err)
	}
	fake.Fail = errors.New("transport down")
	if err := r.HandleMessage(ctx, 1, 11, 5, text("hello")); err != nil {
		t.Fatalf("flow error should be handled, got %v", err)
	}
	fake.Fail = nil

	sess, _ := sessions.Get(ctx, 1)
	if sess.State != models.StateIdle {
		t.Errorf("state after failed post = %s, want idle", sess.State)
	}
}

func TestReplyTargetRejection(t *testing.T) {
	r, fake, threads, sessions := newTestRouter(t)
	ctx := context.Background()

	start(t, r, 1, 11)
	for _, bad := range []string{"not a number", "-5", "0"} {
		if err := r.HandleCommand(ctx, 1, 11, "reply", ""); err != nil {
			t.Fatalf("reply command failed: %v", err)
		}
		if err := r.HandleMessage(ctx, 1, 11, 5, text(bad)); err != nil {
			t.Fatalf("target message failed: %v", err)
		}
		got := fake.lastTo(11)
		if got == nil || got.Content.Text != msgBadTarget {
			t.Errorf("input %q: expected %q reply, got %+v", bad, msgBadTarget, got)
		}
		sess, _ := sessions.Get(ctx, 1)
		if sess.State != models.StateIdle {
			t.Errorf("input %q: state = %s, want idle", bad, sess.State)
		}
	}

	// Numeric but unknown thread.
	if err := r.HandleCommand(ctx, 1, 11, "reply", ""); err != nil {
		t.Fatalf("reply command failed: %v", err)
	}
	if err := r.HandleMessage(ctx, 1, 11, 5, text("424242")); err != nil {
		t.Fatalf("target message failed: %v", err)
	}
	if got := fake.lastTo(11); got == nil || got.Content.Text != msgHoleMissing {
		t.Errorf("unknown target: got %+v", got)
	}

	// No thread was created or mutated along the way.
	if _, err := threads.ResolveByPublicID(ctx, 424242); !errors.Is(err, models.ErrThreadNotFound) {
		t.Errorf("rejection must not create threads, got %v", err)
	}
}

// postAndMirror runs the full post flow for a user and simulates the
// platform's automatic mirror, returning public and internal ids.
func postAndMirror(t *testing.T, r *Router, fake *fakeRelay, userID, chatID int64) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	start(t, r, userID, chatID)
	if err := r.HandleCommand(ctx, userID, chatID, "post", ""); err != nil {
		t.Fatalf("post command failed: %v", err)
	}
	if err := r.HandleMessage(ctx, userID, chatID, 5, text("hello")); err != nil {
		t.Fatalf("post message failed: %v", err)
	}
	publicID := fake.lastTo(channelID).ID
	internalID := publicID + 100000
	if err := r.HandleAutoForward(ctx, publicID, internalID); err != nil {
		t.Fatalf("auto forward failed: %v", err)
	}
	return publicID, internalID
}

// replyVia runs the /reply + target + body flow for a user.
func replyVia(t *testing.T, r *Router, userID, chatID, internalID int64, body string) {
	t.Helper()
	ctx := context.Background()
	if err := r.HandleCommand(ctx, userID, chatID, "reply", ""); err != nil {
		t.Fatalf("reply command failed: %v", err)
	}
	if err := r.HandleMessage(ctx, userID, chatID, 5, text(strconv.FormatInt(internalID, 10))); err != nil {
		t.Fatalf("target message failed: %v", err)
	}
	if err := r.HandleMessage(ctx, userID, chatID, 6, text(body)); err != nil {
		t.Fatalf("body message failed: %v", err)
	}
}

func TestEndToEndPseudonyms(t *testing.T) {
	r, fake, threads, _ := newTestRouter(t)
	ctx := context.Background()

	// User A posts; the platform mirrors the post.
	publicID, internalID := postAndMirror(t, r, fake, 1, 11)
	th, err := threads.ResolveByInternalID(ctx, internalID)
	if err != nil {
		t.Fatalf("mirror binding failed: %v", err)
	}
	if th.PublicID != publicID {
		t.Fatalf("mirror bound to wrong thread: %+v", th)
	}

	// The discovery notice carries a decodable reply affordance.
	notice := fake.lastTo(discussionID)
	if notice == nil || notice.Opts.ReplyTargetID != internalID {
		t.Fatalf("discovery notice missing or unanchored: %+v", notice)
	}
	tok, err := callback.Decode(notice.Opts.Affordance)
	if err != nil {
		t.Fatalf("discovery affordance not decodable: %v", err)
	}
	if rr, ok := tok.(callback.ReplyRequest); !ok || rr.ThreadID != publicID || rr.AnchorID != 0 {
		t.Errorf("discovery affordance = %+v, want root reply request", tok)
	}

	// User B replies: ordinal 1.
	start(t, r, 2, 22)
	replyVia(t, r, 2, 22, internalID, "hi")
	replied := fake.lastTo(discussionID)
	if replied.Content.Text != "hi" || replied.Opts.ReplyTargetID != internalID {
		t.Fatalf("B's reply misrouted: %+v", replied)
	}
	if want := labelSentByPrefix + "Commenter №0001"; replied.Opts.AffordanceLabel != want {
		t.Errorf("B's label = %q, want %q", replied.Opts.AffordanceLabel, want)
	}
	th, _ = threads.ResolveByPublicID(ctx, publicID)
	if len(th.Participants) != 2 || th.Participants[1] != 2 {
		t.Errorf("participants after B = %v, want [1 2]", th.Participants)
	}

	// The rebound affordance targets B's own message.
	if len(fake.Edits) == 0 {
		t.Fatal("expected an affordance rebind after the reply")
	}
	edit := fake.Edits[len(fake.Edits)-1]
	if edit.MessageID != replied.ID {
		t.Errorf("rebind targets %d, want %d", edit.MessageID, replied.ID)
	}
	tok, err = callback.Decode(edit.Token)
	if err != nil {
		t.Fatalf("rebound token not decodable: %v", err)
	}
	if rr, ok := tok.(callback.ReplyRequest); !ok || rr.ThreadID != publicID || rr.AnchorID != replied.ID {
		t.Errorf("rebound token = %+v, want reply request at B's message", tok)
	}

	// User C replies: ordinal 2.
	start(t, r, 3, 33)
	replyVia(t, r, 3, 33, internalID, "hey")
	th, _ = threads.ResolveByPublicID(ctx, publicID)
	if len(th.Participants) != 3 || th.Participants[2] != 3 {
		t.Errorf("participants after C = %v, want [1 2 3]", th.Participants)
	}

	// B replies again: still ordinal 1, participants unchanged.
	replyVia(t, r, 2, 22, internalID, "again")
	again := fake.lastTo(discussionID)
	if want := labelSentByPrefix + "Commenter №0001"; again.Opts.AffordanceLabel != want {
		t.Errorf("B's second label = %q, want %q", again.Opts.AffordanceLabel, want)
	}
	th, _ = threads.ResolveByPublicID(ctx, publicID)
	if len(th.Participants) != 3 {
		t.Errorf("participants after B's second reply = %v, want length 3", th.Participants)
	}
}

func TestReplyBeforeMirrorBound(t *testing.T) {
	r, fake, _, sessions := newTestRouter(t)
	ctx := context.Background()

	// Post without the mirror event arriving.
	start(t, r, 1, 11)
	if err := r.HandleCommand(ctx, 1, 11, "post", ""); err != nil {
		t.Fatalf("post command failed: %v", err)
	}
	if err := r.HandleMessage(ctx, 1, 11, 5, text("hello")); err != nil {
		t.Fatalf("post message failed: %v", err)
	}
	publicID := fake.lastTo(channelID).ID

	// A reply request affordance can still arrive (e.g. stale button).
	tok, _ := callback.Encode(callback.ReplyRequest{ThreadID: publicID, AnchorID: 0})
	if _, err := r.HandleCallback(ctx, 1, tok); err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if err := r.HandleMessage(ctx, 1, 11, 6, text("too early")); err != nil {
		t.Fatalf("body message failed: %v", err)
	}
	if got := fake.lastTo(11); got == nil || got.Content.Text != msgHoleNotReady {
		t.Errorf("expected not-ready notice, got %+v", got)
	}
	sess, _ := sessions.Get(ctx, 1)
	if sess.State != models.StateIdle {
		t.Errorf("state = %s, want idle", sess.State)
	}
}

func TestForwardRejectedAsReply(t *testing.T) {
	r, fake, threads, _ := newTestRouter(t)
	ctx := context.Background()

	publicID, internalID := postAndMirror(t, r, fake, 1, 11)
	start(t, r, 2, 22)
	if err := r.HandleCommand(ctx, 2, 22, "reply", ""); err != nil {
		t.Fatalf("reply command failed: %v", err)
	}
	if err := r.HandleMessage(ctx, 2, 22, 5, text(strconv.FormatInt(internalID, 10))); err != nil {
		t.Fatalf("target message failed: %v", err)
	}
	forward := models.Content{Kind: models.ContentForward, ForwardFromChatID: 22, ForwardMessageID: 9}
	if err := r.HandleMessage(ctx, 2, 22, 6, forward); err != nil {
		t.Fatalf("forward message failed: %v", err)
	}
	if got := fake.lastTo(22); got == nil || got.Content.Text != msgForwardReply {
		t.Errorf("expected forward rejection, got %+v", got)
	}
	// The forward check runs before registration, so B must not gain an ordinal.
	th, _ := threads.ResolveByPublicID(ctx, publicID)
	if len(th.Participants) != 1 {
		t.Errorf("participants = %v, want creator only", th.Participants)
	}
}

func TestCallbackNotifyAndStaleToken(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	ctx := context.Background()

	tok, _ := callback.Encode(callback.Notify{Text: "The message is sent from Author"})
	ack, err := r.HandleCallback(ctx, 1, tok)
	if err != nil {
		t.Fatalf("notify callback failed: %v", err)
	}
	if ack != "The message is sent from Author" {
		t.Errorf("notify ack = %q", ack)
	}

	// Malformed payloads are ignored without error.
	ack, err = r.HandleCallback(ctx, 1, "garbage{{")
	if err != nil {
		t.Fatalf("stale token must be ignored, got %v", err)
	}
	if ack != "" {
		t.Errorf("stale token ack = %q, want empty", ack)
	}
}

func TestCallbackReplyRequestJumpsToBody(t *testing.T) {
	r, fake, _, sessions := newTestRouter(t)
	ctx := context.Background()

	publicID, internalID := postAndMirror(t, r, fake, 1, 11)
	start(t, r, 2, 22)

	tok, _ := callback.Encode(callback.ReplyRequest{ThreadID: publicID, AnchorID: 0})
	ack, err := r.HandleCallback(ctx, 2, tok)
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if ack != msgCallbackGoto {
		t.Errorf("ack = %q, want %q", ack, msgCallbackGoto)
	}
	sess, _ := sessions.Get(ctx, 2)
	if sess.State != models.StateAwaitReplyBody || sess.ReplyThreadID != publicID || sess.ReplyAnchorID != 0 {
		t.Errorf("session after callback = %+v", sess)
	}
	if prompt := fake.lastTo(22); prompt == nil || !strings.Contains(prompt.Content.Text, "Please enter your reply") {
		t.Errorf("expected reply prompt in private chat, got %+v", prompt)
	}

	// Sending the body completes the flow anchored at the mirror root.
	if err := r.HandleMessage(ctx, 2, 22, 6, text("via button")); err != nil {
		t.Fatalf("body failed: %v", err)
	}
	replied := fake.lastTo(discussionID)
	if replied.Opts.ReplyTargetID != internalID {
		t.Errorf("reply anchored at %d, want mirror root %d", replied.Opts.ReplyTargetID, internalID)
	}
}

func TestCallbackReplyRequestUnknownUser(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	tok, _ := callback.Encode(callback.ReplyRequest{ThreadID: 1, AnchorID: 0})
	ack, err := r.HandleCallback(context.Background(), 404, tok)
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if ack != msgOnboard {
		t.Errorf("ack = %q, want onboarding hint", ack)
	}
}

func TestAutoForwardBindIsExactlyOnce(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	ctx := context.Background()

	if err := r.HandleAutoForward(ctx, 500, 600); err != nil {
		t.Fatalf("first bind failed: %v", err)
	}
	if err := r.HandleAutoForward(ctx, 500, 601); !errors.Is(err, models.ErrInternalIDBound) {
		t.Errorf("rebind: got %v, want ErrInternalIDBound", err)
	}
}

func TestDebugRequiresAuthorization(t *testing.T) {
	r, fake, _, _ := newTestRouter(t)
	ctx := context.Background()

	start(t, r, 1, 11)
	before := fake.countTo(11)
	if err := r.HandleCommand(ctx, 1, 11, "debug", ""); err != nil {
		t.Fatalf("debug failed: %v", err)
	}
	if fake.countTo(11) != before {
		t.Error("unauthorized debug must be silent")
	}

	// Presenting the shared secret while idle grants the capability.
	if err := r.HandleMessage(ctx, 1, 11, 5, text("hunter2")); err != nil {
		t.Fatalf("secret message failed: %v", err)
	}
	if got := fake.lastTo(11); got == nil || got.Content.Text != msgAuthorized {
		t.Errorf("expected grant confirmation, got %+v", got)
	}
	if err := r.HandleCommand(ctx, 1, 11, "debug", ""); err != nil {
		t.Fatalf("debug failed: %v", err)
	}
	dump := fake.lastTo(11)
	if dump == nil || !strings.Contains(dump.Content.Text, "\"user_id\": 1") {
		t.Errorf("expected session dump, got %+v", dump)
	}
}
