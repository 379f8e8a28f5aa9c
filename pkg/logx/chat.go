package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	chatMaxLen      = 3500
	chatMaxValueLen = 600
)

// Records from these components are never forwarded: a failing chat send
// logs under them and would re-enter the sink.
var chatSkipComps = map[string]bool{"telegram": true}

type chatItem struct {
	chatID int64
	text   string
}

// chatSink is a zerolog.LevelWriter that queues formatted records for a
// background sender. Writes never block logging.
type chatSink struct {
	mu       sync.Mutex
	sender   Sender
	enabled  bool
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc

	queue     chan chatItem
	dropped   atomic.Uint64
	startOnce sync.Once
	wg        sync.WaitGroup
}

func newChatSink(sender Sender) *chatSink {
	return &chatSink{sender: sender, queue: make(chan chatItem, chatQueueSize)}
}

func (c *chatSink) setSender(sender Sender) {
	c.mu.Lock()
	c.sender = sender
	c.mu.Unlock()
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	c.mu.Lock()
	c.enabled = cfg.Enabled
	c.chatID = cfg.ChatID
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if cfg.Enabled {
		c.startOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			c.mu.Lock()
			c.cancel = cancel
			c.mu.Unlock()
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.run(ctx)
			}()
		})
	}
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-c.queue:
			c.mu.Lock()
			sender := c.sender
			c.mu.Unlock()
			if sender == nil {
				c.dropped.Add(1)
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			if err := sender.Send(sendCtx, it.chatID, it.text); err != nil {
				c.dropped.Add(1)
			}
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	forward := c.enabled && c.chatID != 0 && c.sender != nil && level >= c.minLevel
	chatID, lim := c.chatID, c.limiter
	c.mu.Unlock()
	if !forward {
		return len(p), nil
	}

	text, comp := formatChatRecord(p)
	if text == "" || chatSkipComps[comp] {
		return len(p), nil
	}
	if !lim.Allow() {
		c.dropped.Add(1)
		return len(p), nil
	}
	select {
	case c.queue <- chatItem{chatID: chatID, text: text}:
	default:
		c.dropped.Add(1)
	}
	return len(p), nil
}

// formatChatRecord renders a JSON record as "[LEVEL] message" followed by one
// "- key=value" line per field in key order. It also returns the comp field.
func formatChatRecord(p []byte) (text, comp string) {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return clip(strings.TrimSpace(string(p)), chatMaxLen), ""
	}
	comp, _ = m["comp"].(string)

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=" + clip(fmt.Sprint(m[k]), chatMaxValueLen))
	}
	return clip(b.String(), chatMaxLen), comp
}

// clip cuts s to at most n bytes on a rune boundary, marking the cut with "...".
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
