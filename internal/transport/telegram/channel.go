package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

const defaultAPIURL = "https://api.telegram.org"

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (tests, local bot API servers).
	APIURL string
	// PollTimeout is the longest getUpdates wait we will ask for; the HTTP
	// client timeout is derived from it.
	PollTimeout time.Duration
}

// Channel implements transport.Channel on top of the Telegram Bot API.
//
// Sending goes through telebot. getUpdates is issued directly so the poller
// owns the offset and the request honors context cancellation.
type Channel struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	http *http.Client

	menuMu   sync.Mutex
	menuHash uint64
}

var _ transport.Channel = (*Channel)(nil)

func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = defaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	// Leave headroom over the long-poll wait so the server answers first.
	client := &http.Client{Timeout: cfg.PollTimeout + 15*time.Second}

	b, err := tele.NewBot(tele.Settings{
		URL:    cfg.APIURL,
		Token:  cfg.Token,
		Client: client,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log.Info("telegram bot ready", logx.String("username", b.Me.Username))
	return &Channel{cfg: cfg, log: log, bot: b, http: client}, nil
}

const telegramTextLimit = 4000

// splitText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		// Skip leading newlines to avoid empty chunks.
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (c *Channel) Send(ctx context.Context, chatID int64, text string) error {
	to := tele.ChatID(chatID)
	for _, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.bot.Send(to, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return fmt.Errorf("telegram send to %d: %w", chatID, err)
		}
	}
	return nil
}

type getUpdatesRequest struct {
	Offset         int      `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

type getUpdatesResponse struct {
	OK          bool          `json:"ok"`
	ErrorCode   int           `json:"error_code"`
	Description string        `json:"description"`
	Result      []tele.Update `json:"result"`
}

func (c *Channel) FetchUpdates(ctx context.Context, offset int, timeout time.Duration) (transport.FetchResult, error) {
	if timeout > c.cfg.PollTimeout {
		timeout = c.cfg.PollTimeout
	}
	b, err := json.Marshal(getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return transport.FetchResult{}, err
	}

	url := c.cfg.APIURL + "/bot" + strings.TrimSpace(c.cfg.Token) + "/getUpdates"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return transport.FetchResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transport.FetchResult{}, fmt.Errorf("telegram getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var out getUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return transport.FetchResult{}, fmt.Errorf("telegram getUpdates: decode (http=%d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return transport.FetchResult{OK: false, ErrorCode: out.ErrorCode, Description: out.Description}, nil
	}

	ups := make([]transport.Update, 0, len(out.Result))
	for _, u := range out.Result {
		ups = append(ups, toUpdate(u))
	}
	return transport.FetchResult{OK: true, Updates: ups}, nil
}

func toUpdate(u tele.Update) transport.Update {
	up := transport.Update{ID: u.ID}
	m := u.Message
	if m == nil || m.Chat == nil {
		return up
	}
	up.Message = &transport.Message{ChatID: m.Chat.ID, Text: m.Text}
	if m.Sender != nil {
		up.Message.FromID = m.Sender.ID
	}
	return up
}

// UpdateMenuCommands publishes the bot's command menu (setMyCommands).
// It only performs a network call when the command list changes.
func (c *Channel) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	c.menuMu.Lock()
	defer c.menuMu.Unlock()

	h := fnv.New64a()
	for _, bc := range cmds {
		h.Write([]byte(bc.Command))
		h.Write([]byte{0})
		h.Write([]byte(bc.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == c.menuHash {
		return nil
	}

	type cmd struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
	payload := struct {
		Commands []cmd `json:"commands"`
	}{Commands: make([]cmd, 0, len(cmds))}

	for _, bc := range cmds {
		name := strings.TrimPrefix(bc.Command, "/")
		if name == "" {
			continue
		}
		d := bc.Description
		if d == "" {
			d = name
		}
		if len(d) > 256 {
			d = d[:256]
		}
		payload.Commands = append(payload.Commands, cmd{Command: name, Description: d})
		if len(payload.Commands) >= 100 {
			break
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := c.cfg.APIURL + "/bot" + strings.TrimSpace(c.cfg.Token) + "/setMyCommands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram setMyCommands failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram setMyCommands failed: http=%d", resp.StatusCode)
	}

	c.menuHash = sum
	c.log.Info("menu commands updated", logx.Int("count", len(payload.Commands)))
	return nil
}
