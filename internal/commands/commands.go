// Package commands answers the chat commands the bot understands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"slotwatch/internal/history"
	"slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

// ErrNoMessage is returned for updates that carry no message (edits, callbacks, ...).
var ErrNoMessage = errors.New("update has no message")

// logHistoryLimit bounds the history part of a /log reply so that, with the
// header and stats footer, the reply stays under the 4096 character ceiling.
const logHistoryLimit = 3900

const unsupportedText = "Unsupported message. Supported only: /start, /log, /ping"

// Sender pushes a text message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type command struct {
	Route       string
	Description string
	Handle      func(ctx context.Context, chatID int64) error
}

// Dispatcher maps inbound message text to a reply. Matching is exact.
type Dispatcher struct {
	sender Sender
	hist   *history.Log
	log    logx.Logger
	cmds   []command
}

func New(sender Sender, hist *history.Log, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{sender: sender, hist: hist, log: log}
	d.cmds = []command{
		{Route: "/start", Description: "start the bot and show your chat id", Handle: d.start},
		{Route: "/log", Description: "show the last checks and success rate", Handle: d.lastChecks},
		{Route: "/ping", Description: "liveness check", Handle: d.ping},
	}
	return d
}

// MenuCommands lists the supported commands for the client-side menu.
func (d *Dispatcher) MenuCommands() []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(d.cmds))
	for _, c := range d.cmds {
		out = append(out, transport.BotCommand{Command: c.Route, Description: c.Description})
	}
	return out
}

// Handle answers one update. Send failures are returned, never retried.
func (d *Dispatcher) Handle(ctx context.Context, up transport.Update) error {
	m := up.Message
	if m == nil {
		return ErrNoMessage
	}
	d.log.Debug("command received",
		logx.Int("update_id", up.ID),
		logx.Int64("chat_id", m.ChatID),
		logx.String("text", m.Text))

	for _, c := range d.cmds {
		if c.Route == m.Text {
			if err := c.Handle(ctx, m.ChatID); err != nil {
				return fmt.Errorf("%s: %w", c.Route, err)
			}
			return nil
		}
	}
	if err := d.sender.Send(ctx, m.ChatID, unsupportedText); err != nil {
		return fmt.Errorf("unsupported reply: %w", err)
	}
	return nil
}

func (d *Dispatcher) start(ctx context.Context, chatID int64) error {
	return d.sender.Send(ctx, chatID, "Bot started. Your chat_id is "+strconv.FormatInt(chatID, 10))
}

func (d *Dispatcher) ping(ctx context.Context, chatID int64) error {
	return d.sender.Send(ctx, chatID, "Pong. Your chat_id is "+strconv.FormatInt(chatID, 10))
}

func (d *Dispatcher) lastChecks(ctx context.Context, chatID int64) error {
	err := d.sender.Send(ctx, chatID, RenderLog(d.hist.Snapshot()))
	if err == nil {
		return nil
	}
	d.log.Error("error while sending a response to telegram API", logx.Int64("chat_id", chatID), logx.Err(err))
	if ferr := d.sender.Send(ctx, chatID, "Error while sending a response to telegram API: "+err.Error()); ferr != nil {
		return errors.Join(err, ferr)
	}
	return err
}

// RenderLog builds the /log reply from a history snapshot.
func RenderLog(snap history.Snapshot) string {
	lines := make([]string, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		lines = append(lines, "* "+e)
	}
	checks := trimLeadingLines(strings.Join(lines, "\n"), logHistoryLimit)

	s := snap.Stats
	stats := fmt.Sprintf("Successful attempts: %d/%d (%d%%)", s.Successful, s.Total, s.Rate())
	return "Last checks:\n" + checks + "\n\n" + stats
}

// trimLeadingLines keeps the last limit characters of s. A line cut in half at
// the start is dropped, unless it is the only one.
func trimLeadingLines(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	cut := len(rs) - limit
	tail := string(rs[cut:])
	if rs[cut-1] == '\n' {
		return tail
	}
	if i := strings.IndexByte(tail, '\n'); i >= 0 {
		return tail[i+1:]
	}
	return tail
}
