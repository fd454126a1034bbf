package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/telehole/telehole/internal/models"
	"github.com/telehole/telehole/internal/relay"
)

// Relay implements relay.ContentRelay over the Bot API.
type Relay struct {
	bot *tgbotapi.BotAPI
}

// NewRelay creates a ContentRelay using the client's Bot API connection.
func NewRelay(c *Client) *Relay {
	return &Relay{bot: c.bot}
}

var _ relay.ContentRelay = (*Relay)(nil)

// Send relays one content item to the destination chat and returns the id of
// the created message.
func (r *Relay) Send(ctx context.Context, destination int64, content models.Content, opts relay.SendOptions) (int64, error) {
	chattable, err := buildChattable(destination, content, opts)
	if err != nil {
		return 0, err
	}
	sent, err := r.bot.Send(chattable)
	if err != nil {
		slog.Error("Relay Send failed", "error", err, "destination", destination, "kind", content.Kind)
		return 0, fmt.Errorf("failed to send %s: %w", content.Kind, err)
	}
	slog.Debug("Relay Send succeeded", "destination", destination, "kind", content.Kind, "messageID", sent.MessageID)
	return int64(sent.MessageID), nil
}

// EditAffordance replaces the inline control on an already sent message.
func (r *Relay) EditAffordance(ctx context.Context, destination, messageID int64, label, encodedToken string) error {
	edit := tgbotapi.NewEditMessageReplyMarkup(destination, int(messageID), affordanceMarkup(label, encodedToken))
	if _, err := r.bot.Request(edit); err != nil {
		slog.Error("Relay EditAffordance failed", "error", err, "destination", destination, "messageID", messageID)
		return fmt.Errorf("failed to edit affordance: %w", err)
	}
	return nil
}

// buildChattable translates a content variant into the Bot API call for it.
func buildChattable(destination int64, content models.Content, opts relay.SendOptions) (tgbotapi.Chattable, error) {
	replyTo := int(opts.ReplyTargetID)
	var markup *tgbotapi.InlineKeyboardMarkup
	if opts.Affordance != "" {
		m := affordanceMarkup(opts.AffordanceLabel, opts.Affordance)
		markup = &m
	}

	switch content.Kind {
	case models.ContentForward:
		// Native forwards cannot carry reply threading or controls.
		return tgbotapi.NewForward(destination, content.ForwardFromChatID, int(content.ForwardMessageID)), nil
	case models.ContentText:
		msg := tgbotapi.NewMessage(destination, content.Text)
		msg.Entities = toAPIEntities(content.Entities)
		msg.ReplyToMessageID = replyTo
		if markup != nil {
			msg.ReplyMarkup = *markup
		}
		return msg, nil
	case models.ContentSticker:
		msg := tgbotapi.NewSticker(destination, tgbotapi.FileID(content.FileID))
		msg.ReplyToMessageID = replyTo
		if markup != nil {
			msg.ReplyMarkup = *markup
		}
		return msg, nil
	case models.ContentPhoto:
		msg := tgbotapi.NewPhoto(destination, tgbotapi.FileID(content.FileID))
		msg.Caption = content.Caption
		msg.CaptionEntities = toAPIEntities(content.CaptionEntities)
		msg.ReplyToMessageID = replyTo
		if markup != nil {
			msg.ReplyMarkup = *markup
		}
		return msg, nil
	case models.ContentVideo:
		msg := tgbotapi.NewVideo(destination, tgbotapi.FileID(content.FileID))
		msg.Caption = content.Caption
		msg.CaptionEntities = toAPIEntities(content.CaptionEntities)
		msg.ReplyToMessageID = replyTo
		if markup != nil {
			msg.ReplyMarkup = *markup
		}
		return msg, nil
	case models.ContentDocument:
		msg := tgbotapi.NewDocument(destination, tgbotapi.FileID(content.FileID))
		msg.Caption = content.Caption
		msg.CaptionEntities = toAPIEntities(content.CaptionEntities)
		msg.ReplyToMessageID = replyTo
		if markup != nil {
			msg.ReplyMarkup = *markup
		}
		return msg, nil
	default:
		return nil, models.ErrUnsupportedContent
	}
}

// affordanceMarkup builds the single-button inline keyboard carrying an
// encoded callback token.
func affordanceMarkup(label, token string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, token),
		),
	)
}

// toAPIEntities converts transport-neutral formatting spans to Bot API ones.
func toAPIEntities(entities []models.Entity) []tgbotapi.MessageEntity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]tgbotapi.MessageEntity, 0, len(entities))
	for _, e := range entities {
		out = append(out, tgbotapi.MessageEntity{
			Type:     e.Type,
			Offset:   e.Offset,
			Length:   e.Length,
			URL:      e.URL,
			Language: e.Language,
		})
	}
	return out
}

// toModelEntities converts Bot API formatting spans to transport-neutral ones.
func toModelEntities(entities []tgbotapi.MessageEntity) []models.Entity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]models.Entity, 0, len(entities))
	for _, e := range entities {
		out = append(out, models.Entity{
			Type:     e.Type,
			Offset:   e.Offset,
			Length:   e.Length,
			URL:      e.URL,
			Language: e.Language,
		})
	}
	return out
}
