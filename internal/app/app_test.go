package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"slotwatch/internal/publish"
	"slotwatch/internal/slots"
	"slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

const testConfig = `{
  "telegram": {"token": "123:abc", "poll_timeout": "1s"},
  "logging": {"level": "error", "console": true},
  "scheduler": {"enabled": true, "day_cron": "* * * * * *", "night_cron": "* * * * * *"},
  "source": {"base_url": "https://hague.example.test/", "timezone": "Europe/Amsterdam"},
  "subscribers": [9],
  "status": {"enabled": true, "addr": "127.0.0.1:0"}
}`

type sentMsg struct {
	chatID int64
	text   string
}

// fakeChannel delivers one /ping update, then long-polls until cancelled.
type fakeChannel struct {
	mu    sync.Mutex
	sent  []sentMsg
	menus [][]transport.BotCommand
	once  sync.Once
}

func (f *fakeChannel) Send(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{chatID, text})
	return nil
}

func (f *fakeChannel) FetchUpdates(ctx context.Context, offset int, timeout time.Duration) (transport.FetchResult, error) {
	var res transport.FetchResult
	f.once.Do(func() {
		res = transport.FetchResult{OK: true, Updates: []transport.Update{
			{ID: 41, Message: &transport.Message{ChatID: 5, Text: "/ping"}},
		}}
	})
	if res.OK {
		return res, nil
	}
	<-ctx.Done()
	return transport.FetchResult{}, ctx.Err()
}

func (f *fakeChannel) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	f.mu.Lock()
	f.menus = append(f.menus, cmds)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

type oneSlot struct{}

func (oneSlot) FetchAvailableSlots(ctx context.Context, d slots.Descriptor) ([]slots.Slot, error) {
	return []slots.Slot{{DateTime: time.Date(2030, 1, 2, 9, 30, 0, 0, d.Loc()), Description: "Passport 10y"}}, nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppRunsChecksAndAnswersCommands(t *testing.T) {
	defer goleak.VerifyNone(t)

	ch := &fakeChannel{}
	pub := &publish.FakePublisher{}
	a, err := New(writeConfig(t, testConfig), WithChannel(ch), WithSource(oneSlot{}), WithPublisher(pub))
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))

	require.Eventually(t, func() bool {
		var pong, push bool
		for _, m := range ch.messages() {
			pong = pong || (m.chatID == 5 && m.text == "Pong. Your chat_id is 5")
			push = push || (m.chatID == 9 && strings.HasPrefix(m.text, "Found available slots on https://hague.example.test/ !!!"))
		}
		return pong && push
	}, 5*time.Second, 20*time.Millisecond)

	rep := fetchStatus(t, "http://"+a.status.Addr()+"/status")
	assert.Equal(t, "https://hague.example.test/", rep.Site)
	assert.GreaterOrEqual(t, rep.Checks.Total, 1)
	assert.Len(t, rep.Schedules, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
	require.NoError(t, a.Stop(ctx, StopAppStop))
	assert.Empty(t, a.status.Addr())

	s := a.History().Stats()
	assert.GreaterOrEqual(t, s.Total, 1)
	assert.Equal(t, s.Total, s.Successful)
	assert.True(t, pub.Closed)
	assert.NotEmpty(t, pub.Outcomes)

	require.Len(t, ch.menus, 1)
	assert.Len(t, ch.menus[0], 3)
}

func fetchStatus(t *testing.T, url string) statusReport {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep statusReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	return rep
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	bad := strings.Replace(testConfig, `"123:abc"`, `""`, 1)
	_, err := New(writeConfig(t, bad), WithChannel(&fakeChannel{}), WithSource(oneSlot{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token")
}

func TestRunCheckPrintsSlots(t *testing.T) {
	var out bytes.Buffer
	// token is not needed for a one-shot check
	cfg := strings.Replace(testConfig, `"123:abc"`, `""`, 1)
	require.NoError(t, RunCheck(context.Background(), writeConfig(t, cfg), oneSlot{}, &out))
	assert.Equal(t, "Found available slots on https://hague.example.test/ !!!\n* 2030.01.02 09:30 Passport 10y\n", out.String())
}

type failingSource struct{}

func (failingSource) FetchAvailableSlots(ctx context.Context, d slots.Descriptor) ([]slots.Slot, error) {
	return nil, slots.ErrSourceUnavailable
}

func TestRunCheckReportsSourceError(t *testing.T) {
	var out bytes.Buffer
	err := RunCheck(context.Background(), writeConfig(t, testConfig), failingSource{}, &out)
	require.ErrorIs(t, err, slots.ErrSourceUnavailable)
	assert.Empty(t, out.String())
}

func TestSDNotifier(t *testing.T) {
	var states []string
	n := newSDNotifier(true, logx.Nop())
	n.notify = func(_ bool, state string) (bool, error) {
		states = append(states, state)
		return false, nil
	}
	n.Ready()
	n.Stopping()
	assert.Equal(t, []string{"READY=1", "STOPPING=1"}, states)

	off := newSDNotifier(false, logx.Nop())
	off.notify = func(bool, string) (bool, error) { return false, errors.New("must not be called") }
	off.Ready()
	assert.Zero(t, off.watchdogInterval())
}
