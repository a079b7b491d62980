// Package telegram adapts a Telebot bot to the engine's channel port and
// routes inbound updates into scenario execution.
package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/engine"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/scenario"
)

// Channel sends scenario messages through the Telegram Bot API. Calls are
// synchronous; the engine decides what a failure means for the session.
type Channel struct {
	bot *tele.Bot
}

// NewChannel wraps a bot as an engine channel.
func NewChannel(bot *tele.Bot) *Channel {
	return &Channel{bot: bot}
}

// SendMessage delivers a text message, optionally with an inline keyboard.
func (c *Channel) SendMessage(ctx context.Context, chatID int64, text string, opts engine.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sendOpts := &tele.SendOptions{ParseMode: opts.ParseMode}
	if len(opts.Buttons) > 0 {
		sendOpts.ReplyMarkup = buildMarkup(opts.Buttons)
	}

	start := time.Now()
	_, err := c.bot.Send(tele.ChatID(chatID), text, sendOpts)
	c.logResult(ctx, "send_message", chatID, start, err)
	return err
}

// CopyMessage re-delivers an existing message to the chat.
func (c *Channel) CopyMessage(ctx context.Context, chatID, fromChatID int64, messageID int, disableNotification bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    fromChatID,
	}
	sendOpts := &tele.SendOptions{DisableNotification: disableNotification}

	start := time.Now()
	_, err := c.bot.Copy(tele.ChatID(chatID), stored, sendOpts)
	c.logResult(ctx, "copy_message", chatID, start, err)
	return err
}

func (c *Channel) logResult(ctx context.Context, op string, chatID int64, start time.Time, err error) {
	attrs := []slog.Attr{
		slog.String("op", op),
		slog.Int64("chat_id", chatID),
		slog.String("status", logger.Status(err)),
		slog.Int64("duration_ms", logger.Took(start).Milliseconds()),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("kind", classifyError(err)),
			slog.String("err", sanitizeErrorMessage(err)),
		)
		logger.Warn(ctx, "tg", "send", attrs...)
		return
	}
	logger.Debug(ctx, "tg", "send", attrs...)
}

func buildMarkup(rows [][]scenario.Button) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	keyboard := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		line := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			line = append(line, tele.InlineButton{
				Text: b.Text,
				Data: b.CallbackData,
				URL:  b.URL,
			})
		}
		keyboard = append(keyboard, line)
	}
	markup.InlineKeyboard = keyboard
	return markup
}
