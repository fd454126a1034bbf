// Package telegram adapts the hosting platform (Telegram Bot API) to the
// router's transport-neutral interfaces.
//
// It owns bot bootstrap (resolving the public channel and its linked
// discussion group), the ContentRelay implementation, and the update loop
// that fans inbound events out to the router.
package telegram

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token   string // bot API token
	Channel string // public channel username, without the leading @
	Debug   bool   // enable Bot API request logging
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot API token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithChannel sets the public channel username.
func WithChannel(channel string) Option {
	return func(o *Opts) {
		o.Channel = channel
	}
}

// WithDebug toggles Bot API request logging.
func WithDebug(debug bool) Option {
	return func(o *Opts) {
		o.Debug = debug
	}
}

// Client wraps the Bot API client together with the resolved channel
// topology. The topology is fixed for the process lifetime.
type Client struct {
	bot          *tgbotapi.BotAPI
	channelID    int64
	channelName  string
	discussionID int64
}

// NewClient connects to the Bot API and resolves the channel topology. The
// configured chat must be a channel with a public username and a linked
// discussion supergroup; anything else is a startup failure.
func NewClient(opts ...Option) (*Client, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewClient invoked", "token_set", cfg.Token != "", "channel", cfg.Channel, "debug", cfg.Debug)

	if cfg.Token == "" {
		return nil, fmt.Errorf("bot token not set")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("channel username not set")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		slog.Error("Failed to connect to Bot API", "error", err)
		return nil, fmt.Errorf("failed to connect to Bot API: %w", err)
	}
	bot.Debug = cfg.Debug
	slog.Info("Connected to Bot API", "username", bot.Self.UserName)

	channel, err := bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: "@" + cfg.Channel},
	})
	if err != nil {
		slog.Error("Failed to resolve channel", "error", err, "channel", cfg.Channel)
		return nil, fmt.Errorf("failed to resolve channel @%s: %w", cfg.Channel, err)
	}
	if !channel.IsChannel() {
		return nil, fmt.Errorf("@%s is not a channel", cfg.Channel)
	}
	if channel.UserName == "" {
		return nil, fmt.Errorf("channel @%s has no public username", cfg.Channel)
	}
	if channel.LinkedChatID == 0 {
		return nil, fmt.Errorf("channel @%s is not linked to a discussion group", cfg.Channel)
	}

	discussion, err := bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: channel.LinkedChatID},
	})
	if err != nil {
		slog.Error("Failed to resolve discussion group", "error", err, "discussionID", channel.LinkedChatID)
		return nil, fmt.Errorf("failed to resolve discussion group %d: %w", channel.LinkedChatID, err)
	}
	if !discussion.IsSuperGroup() {
		return nil, fmt.Errorf("discussion chat %d is not a supergroup", discussion.ID)
	}

	slog.Info("Operating on channel topology",
		"channel", channel.Title, "channelID", channel.ID,
		"discussion", discussion.Title, "discussionID", discussion.ID)

	return &Client{
		bot:          bot,
		channelID:    channel.ID,
		channelName:  channel.UserName,
		discussionID: discussion.ID,
	}, nil
}

// RegisterCommands publishes the bot's command menu.
func (c *Client) RegisterCommands() error {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "post", Description: "Post a new hole"},
		tgbotapi.BotCommand{Command: "reply", Description: "Reply to a hole"},
		tgbotapi.BotCommand{Command: "cancel", Description: "Cancel an operation"},
		tgbotapi.BotCommand{Command: "help", Description: "Help me"},
	)
	if _, err := c.bot.Request(cmds); err != nil {
		slog.Error("Failed to register command menu", "error", err)
		return fmt.Errorf("failed to register command menu: %w", err)
	}
	return nil
}

// ChannelID returns the resolved public channel id.
func (c *Client) ChannelID() int64 { return c.channelID }

// ChannelName returns the channel's public username.
func (c *Client) ChannelName() string { return c.channelName }

// DiscussionID returns the resolved linked discussion group id.
func (c *Client) DiscussionID() int64 { return c.discussionID }
