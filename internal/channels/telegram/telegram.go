// Package telegram delivers agent output to Telegram chats using the
// Telego library.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

// messageLimit is Telegram's maximum message length.
const messageLimit = 4096

// Config holds Telegram delivery settings.
type Config struct {
	Enabled     bool
	Token       string
	SendTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
}

// botAPI is the slice of the Telego client the sink uses.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Sink sends text to Telegram chats.
type Sink struct {
	cfg    Config
	bot    botAPI
	logger *logger.Logger
}

// New creates a sink connected to the Telegram Bot API.
func New(cfg Config, log *logger.Logger) (*Sink, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	cfg.applyDefaults()

	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Sink{cfg: cfg, bot: bot, logger: log}, nil
}

// Send delivers text to a chat, splitting messages that exceed the
// Telegram length limit.
func (s *Sink) Send(ctx context.Context, chatID, text string) error {
	if text == "" {
		return nil
	}
	target, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	for _, chunk := range splitMessage(text, messageLimit) {
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		_, err := s.bot.SendMessage(sendCtx, &telego.SendMessageParams{
			ChatID: target,
			Text:   chunk,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("failed to send telegram message: %w", err)
		}
	}

	s.logger.Debug("telegram message delivered",
		logger.Field{Key: "chat_id", Value: chatID},
		logger.Field{Key: "length", Value: len(text)})
	return nil
}

// parseChatID accepts a numeric chat id or an @username.
func parseChatID(chatID string) (telego.ChatID, error) {
	if chatID == "" {
		return telego.ChatID{}, fmt.Errorf("chat id is required")
	}
	if strings.HasPrefix(chatID, "@") {
		return telego.ChatID{Username: chatID}, nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return telego.ChatID{ID: id}, nil
}

// splitMessage cuts text into limit-sized chunks, preferring newline
// boundaries so formatting survives the split.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		if idx := strings.LastIndexByte(text[:limit], '\n'); idx > limit/2 {
			cut = idx + 1
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
