package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

// fakeAPI is a minimal Bot API server: getMe, sendMessage and getUpdates.
type fakeAPI struct {
	mu      sync.Mutex
	sent    []string
	offsets []float64
	updates string // raw getUpdates reply
	menus   int
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Slot","username":"slot_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			f.mu.Lock()
			f.sent = append(f.sent, body["text"].(string))
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":7,"type":"private"},"text":"ok"}}`))
		case strings.HasSuffix(r.URL.Path, "/setMyCommands"):
			f.mu.Lock()
			f.menus++
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			f.mu.Lock()
			off, _ := body["offset"].(float64)
			f.offsets = append(f.offsets, off)
			reply := f.updates
			f.mu.Unlock()
			_, _ = w.Write([]byte(reply))
		default:
			t.Errorf("unexpected call %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestChannel(t *testing.T, f *fakeAPI) *Channel {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	ch, err := New(Config{Token: "123:abc", APIURL: srv.URL, PollTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	return ch
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	require.Error(t, err)
}

func TestFetchUpdatesMapsMessages(t *testing.T) {
	f := &fakeAPI{updates: `{"ok":true,"result":[
		{"update_id":5,"message":{"message_id":1,"date":0,"chat":{"id":7,"type":"private"},"from":{"id":9,"is_bot":false,"first_name":"a"},"text":"/ping"}},
		{"update_id":6}
	]}`}
	ch := newTestChannel(t, f)

	res, err := ch.FetchUpdates(context.Background(), 5, time.Second)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Len(t, res.Updates, 2)
	assert.Equal(t, 5, res.Updates[0].ID)
	require.NotNil(t, res.Updates[0].Message)
	assert.Equal(t, int64(7), res.Updates[0].Message.ChatID)
	assert.Equal(t, int64(9), res.Updates[0].Message.FromID)
	assert.Equal(t, "/ping", res.Updates[0].Message.Text)
	assert.Nil(t, res.Updates[1].Message)
	assert.Equal(t, []float64{5}, f.offsets)
}

func TestFetchUpdatesNotOK(t *testing.T) {
	f := &fakeAPI{updates: `{"ok":false,"error_code":409,"description":"Conflict: terminated by other getUpdates request"}`}
	ch := newTestChannel(t, f)

	res, err := ch.FetchUpdates(context.Background(), 0, time.Second)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 409, res.ErrorCode)
	assert.Error(t, res.Err())
}

func TestSendSplitsLongText(t *testing.T) {
	f := &fakeAPI{}
	ch := newTestChannel(t, f)

	line := strings.Repeat("x", 99) + "\n"
	require.NoError(t, ch.Send(context.Background(), 7, strings.Repeat(line, 100)))
	require.Len(t, f.sent, 3)
	for _, s := range f.sent {
		assert.LessOrEqual(t, len([]rune(s)), telegramTextLimit)
	}
}

func TestSplitTextShort(t *testing.T) {
	assert.Equal(t, []string{"hello"}, splitText("hello", 10))
}

func TestUpdateMenuCommandsSkipsUnchanged(t *testing.T) {
	f := &fakeAPI{}
	ch := newTestChannel(t, f)

	cmds := []transport.BotCommand{{Command: "/ping", Description: "liveness check"}}
	require.NoError(t, ch.UpdateMenuCommands(context.Background(), cmds))
	require.NoError(t, ch.UpdateMenuCommands(context.Background(), cmds))
	assert.Equal(t, 1, f.menus)

	cmds = append(cmds, transport.BotCommand{Command: "/log"})
	require.NoError(t, ch.UpdateMenuCommands(context.Background(), cmds))
	assert.Equal(t, 2, f.menus)
}
