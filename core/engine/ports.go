// Package engine drives sessions through scenario step graphs: it executes
// steps via the step registry, persists every transition, suspends on input
// waits and hands execution over between scenarios.
package engine

import (
	"context"

	"github.com/m3rciful/flowbot/core/scenario"
)

// EventKind classifies inbound events.
type EventKind string

// Inbound event kinds.
const (
	KindText     EventKind = "text"
	KindCallback EventKind = "callback_query"
)

// Event is one inbound message or callback, already resolved to a
// conversation identity by the transport.
type Event struct {
	ChatID  int64
	UserID  int64
	Kind    EventKind
	Payload string
}

// SendOptions carry the optional parts of an outbound message.
type SendOptions struct {
	ParseMode string
	Buttons   [][]scenario.Button
}

// Channel is the messaging collaborator consumed by channel_action steps.
// Implementations must be synchronous: the engine awaits completion before
// computing the next outcome and never retries on its own.
type Channel interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) error
	CopyMessage(ctx context.Context, chatID, fromChatID int64, messageID int, disableNotification bool) error
}

// DocumentStore is the persistence collaborator consumed by mongo_* steps.
type DocumentStore interface {
	Upsert(ctx context.Context, collection string, filter, document map[string]any) error
	// FindOne reports absence via the second result, not an error.
	FindOne(ctx context.Context, collection string, filter map[string]any) (map[string]any, bool, error)
}
