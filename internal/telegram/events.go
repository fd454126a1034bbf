package telegram

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/telehole/telehole/internal/models"
	"github.com/telehole/telehole/internal/router"
)

// Constants for EventLoop configuration
const (
	// DefaultUpdateTimeout is the long-poll timeout in seconds.
	DefaultUpdateTimeout = 30
)

// EventLoop long-polls the Bot API and fans each update out to the router on
// its own goroutine. There is no ordering guarantee between updates; the
// store-level atomicity of session and thread mutations is what keeps the
// data model consistent.
type EventLoop struct {
	client *Client
	router *router.Router
}

// NewEventLoop creates an EventLoop feeding the given router.
func NewEventLoop(c *Client, r *router.Router) *EventLoop {
	return &EventLoop{client: c, router: r}
}

// Run blocks, dispatching updates until the context is canceled.
func (e *EventLoop) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = DefaultUpdateTimeout
	updates := e.client.bot.GetUpdatesChan(u)
	slog.Info("EventLoop started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("EventLoop stopping", "reason", ctx.Err())
			e.client.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				slog.Info("EventLoop updates channel closed")
				return nil
			}
			go e.dispatch(ctx, update)
		}
	}
}

// dispatch classifies one update and routes it. Each update gets a
// correlation id so interleaved flows can be told apart in logs.
func (e *EventLoop) dispatch(ctx context.Context, update tgbotapi.Update) {
	log := slog.With("update_id", update.UpdateID, "correlation_id", uuid.NewString())

	if update.CallbackQuery != nil {
		e.dispatchCallback(ctx, log, update.CallbackQuery)
		return
	}
	msg := update.Message
	if msg == nil {
		return
	}

	// Automatic forward of a channel post into the discussion group: the
	// platform created the thread's mirror.
	if msg.Chat != nil && msg.Chat.ID == e.client.discussionID &&
		msg.IsAutomaticForward &&
		msg.SenderChat != nil && msg.SenderChat.ID == e.client.channelID {
		if msg.ForwardFromMessageID == 0 {
			log.Warn("EventLoop automatic forward without origin", "messageID", msg.MessageID)
			return
		}
		if err := e.router.HandleAutoForward(ctx, int64(msg.ForwardFromMessageID), int64(msg.MessageID)); err != nil {
			log.Error("EventLoop auto forward handling failed", "error", err, "messageID", msg.MessageID)
		}
		return
	}

	if msg.Chat == nil || !msg.Chat.IsPrivate() || msg.From == nil {
		return
	}

	if msg.IsCommand() {
		if err := e.router.HandleCommand(ctx, msg.From.ID, msg.Chat.ID, msg.Command(), msg.CommandArguments()); err != nil {
			log.Error("EventLoop command handling failed", "error", err, "command", msg.Command())
		}
		return
	}

	content := contentFromMessage(msg)
	if err := e.router.HandleMessage(ctx, msg.From.ID, msg.Chat.ID, int64(msg.MessageID), content); err != nil {
		log.Error("EventLoop message handling failed", "error", err, "kind", content.Kind)
	}
}

// dispatchCallback routes an inline-control activation and answers the query
// with the router's transient acknowledgement.
func (e *EventLoop) dispatchCallback(ctx context.Context, log *slog.Logger, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Data == "" {
		return
	}
	ack, err := e.router.HandleCallback(ctx, cq.From.ID, cq.Data)
	if err != nil {
		log.Error("EventLoop callback handling failed", "error", err)
		return
	}
	if _, err := e.client.bot.Request(tgbotapi.NewCallback(cq.ID, ack)); err != nil {
		log.Error("EventLoop callback answer failed", "error", err)
	}
}

// contentFromMessage reduces an inbound message to the closed content-kind
// set by inspecting its capability fields. An unclassifiable message yields a
// zero Kind, which the router rejects as unsupported.
func contentFromMessage(msg *tgbotapi.Message) models.Content {
	switch {
	case msg.ForwardDate != 0:
		return models.Content{
			Kind:              models.ContentForward,
			ForwardFromChatID: msg.Chat.ID,
			ForwardMessageID:  int64(msg.MessageID),
		}
	case msg.Text != "":
		return models.Content{
			Kind:     models.ContentText,
			Text:     msg.Text,
			Entities: toModelEntities(msg.Entities),
		}
	case msg.Sticker != nil:
		return models.Content{Kind: models.ContentSticker, FileID: msg.Sticker.FileID}
	case len(msg.Photo) > 0:
		// PhotoSize variants are ordered smallest to largest.
		return models.Content{
			Kind:            models.ContentPhoto,
			FileID:          msg.Photo[len(msg.Photo)-1].FileID,
			Caption:         msg.Caption,
			CaptionEntities: toModelEntities(msg.CaptionEntities),
		}
	case msg.Video != nil:
		return models.Content{
			Kind:            models.ContentVideo,
			FileID:          msg.Video.FileID,
			Caption:         msg.Caption,
			CaptionEntities: toModelEntities(msg.CaptionEntities),
		}
	case msg.Document != nil:
		return models.Content{
			Kind:            models.ContentDocument,
			FileID:          msg.Document.FileID,
			Caption:         msg.Caption,
			CaptionEntities: toModelEntities(msg.CaptionEntities),
		}
	default:
		return models.Content{}
	}
}
