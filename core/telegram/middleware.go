package telegram

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/logger"
)

const ctxKey = "flowbot_ctx"

// Middleware is one global bot middleware registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// RecoverMiddleware catches handler panics so one bad update cannot take the
// bot down.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(updateContext(c), "tg", "panic_recovered",
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		return next(c)
	}
}

// LoggerMiddleware builds the per-update context (rid, update identifiers)
// and logs a single receipt line.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()

		chatID, userID := int64(0), int64(0)
		if chat := c.Chat(); chat != nil {
			chatID = chat.ID
		}
		if sender := c.Sender(); sender != nil {
			userID = sender.ID
		}

		rid := logger.BuildRID(upd.ID, chatID, userID)
		ctx := logger.WithRID(context.Background(), rid)
		ctx = logger.WithUpdateMeta(ctx, upd.ID, chatID, userID)
		c.Set(ctxKey, ctx)
		c.Set("update_start", time.Now())

		attrs := []slog.Attr{slog.String("kind", updateKind(upd))}
		if t := c.Text(); t != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(t, 256)))
		}
		logger.Debug(ctx, "tg", "update_received", attrs...)

		return next(c)
	}
}

// updateContext returns the context built by LoggerMiddleware, or a fresh one
// when the middleware did not run for this update.
func updateContext(c tele.Context) context.Context {
	if ctx, ok := c.Get(ctxKey).(context.Context); ok && ctx != nil {
		return ctx
	}
	return context.Background()
}

func updateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback_query"
	case upd.Message != nil:
		return "message"
	default:
		return "other"
	}
}
