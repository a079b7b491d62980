package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// contextKey is a private type to avoid collisions in context.
type contextKey string

const (
	ctxRID      contextKey = "rid"
	ctxUpdateID contextKey = "update_id"
	ctxChatID   contextKey = "chat_id"
	ctxUserID   contextKey = "user_id"
	ctxSession  contextKey = "session_id"
	ctxScenario contextKey = "scenario_id"
	ctxStep     contextKey = "step_id"
	ctxLogger   contextKey = "logger"
)

// WithLogger stores the provided slog.Logger in context for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLogger, log)
}

// FromContext extracts slog.Logger from context or returns the global default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return L
	}
	if l, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
		return l
	}
	return L
}

// WithRID attaches a correlation id into context.
func WithRID(ctx context.Context, rid string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRID, rid)
}

// RIDFrom extracts rid from context if present.
func RIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(ctxRID).(string)
	return s
}

// WithUpdateMeta attaches inbound update identifiers to context.
func WithUpdateMeta(ctx context.Context, updateID int, chatID, userID int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUpdateID, updateID)
	ctx = context.WithValue(ctx, ctxChatID, chatID)
	ctx = context.WithValue(ctx, ctxUserID, userID)
	return ctx
}

// WithSessionMeta attaches execution position identifiers to context so every
// downstream log line can be traced back to a session, scenario, and step.
func WithSessionMeta(ctx context.Context, sessionID, scenarioID, stepID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if sessionID != "" {
		ctx = context.WithValue(ctx, ctxSession, sessionID)
	}
	if scenarioID != "" {
		ctx = context.WithValue(ctx, ctxScenario, scenarioID)
	}
	if stepID != "" {
		ctx = context.WithValue(ctx, ctxStep, stepID)
	}
	return ctx
}

// ChatIDFrom extracts chat id from context.
func ChatIDFrom(ctx context.Context) int64 {
	return int64From(ctx, ctxChatID)
}

// UserIDFrom extracts user id from context.
func UserIDFrom(ctx context.Context) int64 {
	return int64From(ctx, ctxUserID)
}

// SessionIDFrom extracts session id from context.
func SessionIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(ctxSession).(string)
	return s
}

func int64From(ctx context.Context, key contextKey) int64 {
	if ctx == nil {
		return 0
	}
	switch id := ctx.Value(key).(type) {
	case int64:
		return id
	case int:
		return int64(id)
	}
	return 0
}

func addContextFields(ctx context.Context, fields map[string]any) {
	if ctx == nil {
		return
	}
	setIfAbsent := func(key string, val any) {
		if _, ok := fields[key]; !ok {
			fields[key] = val
		}
	}
	if rid := RIDFrom(ctx); rid != "" {
		setIfAbsent("rid", rid)
	}
	if id, ok := ctx.Value(ctxUpdateID).(int); ok && id != 0 {
		setIfAbsent("update_id", id)
	}
	if id := ChatIDFrom(ctx); id != 0 {
		setIfAbsent("chat_id", id)
	}
	if id := UserIDFrom(ctx); id != 0 {
		setIfAbsent("user_id", id)
	}
	if s, ok := ctx.Value(ctxSession).(string); ok && s != "" {
		setIfAbsent("session_id", s)
	}
	if s, ok := ctx.Value(ctxScenario).(string); ok && s != "" {
		setIfAbsent("scenario_id", s)
	}
	if s, ok := ctx.Value(ctxStep).(string); ok && s != "" {
		setIfAbsent("step_id", s)
	}
}

// BuildRID returns a correlation identifier in the format updateID:chatID:userID.
func BuildRID(updateID int, chatID, userID int64) string {
	return fmt.Sprintf("%d:%d:%d", updateID, chatID, userID)
}

// SanitizeLimit sanitizes s and truncates it to max bytes.
func SanitizeLimit(s string, max int) string {
	s = Sanitize(s)
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}

// Sanitize trims control characters from s to keep log lines single-line.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, s)
}
