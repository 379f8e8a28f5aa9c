package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotOK is wrapped by FetchResult.Err when the API answered with ok=false.
var ErrNotOK = errors.New("channel reported non-ok status")

// Message is an inbound chat message.
type Message struct {
	ChatID int64
	FromID int64
	Text   string
}

// Update is one inbound event. ID increases monotonically per bot.
// Message is nil for update kinds the bot doesn't handle (edits, callbacks, ...).
type Update struct {
	ID      int
	Message *Message
}

// FetchResult mirrors a long-poll response envelope.
type FetchResult struct {
	OK          bool
	ErrorCode   int
	Description string
	Updates     []Update
}

// Err returns nil for ok responses, otherwise an error wrapping ErrNotOK.
func (r FetchResult) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: %d %s", ErrNotOK, r.ErrorCode, r.Description)
}

// Channel is the chat transport: push-send plus long-poll receive.
type Channel interface {
	Send(ctx context.Context, chatID int64, text string) error

	// FetchUpdates blocks for up to timeout waiting for updates with id >= offset.
	// offset 0 means "no cursor yet". A returned error is a transport failure;
	// API-level failures come back as FetchResult with OK=false.
	FetchUpdates(ctx context.Context, offset int, timeout time.Duration) (FetchResult, error)
}

// BotCommand is one entry of the client-side command menu.
type BotCommand struct {
	Command     string
	Description string
}
