package bootstrap

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/m3rciful/flowbot/core/engine"
)

// ChannelBinder is an engine.Channel whose implementation is bound after
// construction, once the transport has built the bot. Calls before Bind fail
// instead of blocking.
type ChannelBinder struct {
	ch atomic.Value // engine.Channel
}

// Bind installs the live channel implementation.
func (b *ChannelBinder) Bind(ch engine.Channel) {
	b.ch.Store(ch)
}

func (b *ChannelBinder) get() (engine.Channel, error) {
	ch, _ := b.ch.Load().(engine.Channel)
	if ch == nil {
		return nil, fmt.Errorf("channel is not bound yet")
	}
	return ch, nil
}

func (b *ChannelBinder) SendMessage(ctx context.Context, chatID int64, text string, opts engine.SendOptions) error {
	ch, err := b.get()
	if err != nil {
		return err
	}
	return ch.SendMessage(ctx, chatID, text, opts)
}

func (b *ChannelBinder) CopyMessage(ctx context.Context, chatID, fromChatID int64, messageID int, disableNotification bool) error {
	ch, err := b.get()
	if err != nil {
		return err
	}
	return ch.CopyMessage(ctx, chatID, fromChatID, messageID, disableNotification)
}
