package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotwatch/internal/history"
	"slotwatch/internal/slots"
	logx "slotwatch/pkg/logx"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	slots []slots.Slot
	err   error
}

func (f *fakeSource) FetchAvailableSlots(ctx context.Context, d slots.Descriptor) ([]slots.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.slots, f.err
}

type sent struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	fail map[int64]error
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[chatID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sent{chatID, text})
	return nil
}

type fakeSink struct{ got []Outcome }

func (f *fakeSink) PublishOutcome(o Outcome) error {
	f.got = append(f.got, o)
	return nil
}

var site = slots.Descriptor{BaseURL: "https://hague.example.test/", Location: time.UTC}

func at(hour int) func() time.Time {
	return func() time.Time { return time.Date(2024, 3, 5, hour, 15, 0, 0, time.UTC) }
}

func newChecker(src slots.Source, snd Sender, hist *history.Log, hour int, subs ...int64) *Checker {
	return New(Config{Site: site, Subscribers: subs, RatePerSec: 100}, src, snd, hist, logx.Nop(), WithClock(at(hour)))
}

func TestDayCheckSuppressedAtNight(t *testing.T) {
	src := &fakeSource{}
	hist := history.New(10)
	c := newChecker(src, &fakeSender{}, hist, 23, 1)

	require.NoError(t, c.RunDayCheck(context.Background()))
	assert.Zero(t, src.calls)
	assert.Empty(t, hist.Entries())
	assert.Equal(t, history.Stats{}, hist.Stats())
}

func TestNightCheckSuppressedByDay(t *testing.T) {
	src := &fakeSource{}
	hist := history.New(10)
	c := newChecker(src, &fakeSender{}, hist, 12, 1)

	require.NoError(t, c.RunNightCheck(context.Background()))
	assert.Zero(t, src.calls)
	assert.Equal(t, history.Stats{}, hist.Stats())
}

func TestNoSlotsSendsNothing(t *testing.T) {
	src := &fakeSource{}
	snd := &fakeSender{}
	hist := history.New(10)
	c := newChecker(src, snd, hist, 12, 1, 2)

	require.NoError(t, c.RunDayCheck(context.Background()))
	assert.Empty(t, snd.sent)
	assert.Equal(t, []string{"Found 0 slots"}, hist.Entries())
	assert.Equal(t, history.Stats{Total: 1, Successful: 1}, hist.Stats())
}

func TestSlotsNotifyEverySubscriberOnce(t *testing.T) {
	src := &fakeSource{slots: []slots.Slot{
		{DateTime: time.Date(2024, 3, 7, 9, 30, 0, 0, time.UTC), Description: "Passport 10y"},
		{DateTime: time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC), Description: "Passport 10y"},
		{DateTime: time.Date(2024, 3, 9, 10, 5, 0, 0, time.UTC), Description: "Notary"},
	}}
	snd := &fakeSender{}
	hist := history.New(10)
	sink := &fakeSink{}
	c := New(Config{Site: site, Subscribers: []int64{10, 20}, RatePerSec: 100}, src, snd, hist, logx.Nop(),
		WithClock(at(3)), WithOutcomeSink(sink))

	require.NoError(t, c.RunNightCheck(context.Background()))
	require.Len(t, snd.sent, 2)
	assert.Equal(t, int64(10), snd.sent[0].chatID)
	assert.Equal(t, int64(20), snd.sent[1].chatID)
	for _, m := range snd.sent {
		assert.Contains(t, m.text, site.BaseURL)
		assert.Contains(t, m.text, "* 2024.03.07 09:30 Passport 10y")
		assert.Contains(t, m.text, "* 2024.03.08 02:00 Passport 10y")
		assert.Contains(t, m.text, "* 2024.03.09 10:05 Notary")
	}
	assert.Equal(t, []string{"Found 3 slots"}, hist.Entries())
	require.Len(t, sink.got, 1)
	assert.Equal(t, 3, sink.got[0].Slots)
	assert.Equal(t, Night, sink.got[0].Cadence)
	assert.NotEmpty(t, sink.got[0].RunID)
}

func TestFetchFailureRecordedAndReturned(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("%w: HTTP 502", slots.ErrSourceUnavailable)}
	snd := &fakeSender{}
	hist := history.New(10)
	c := newChecker(src, snd, hist, 12, 1)

	err := c.RunDayCheck(context.Background())
	require.ErrorIs(t, err, slots.ErrSourceUnavailable)
	assert.Empty(t, snd.sent)
	assert.Equal(t, []string{src.err.Error()}, hist.Entries())
	assert.Equal(t, history.Stats{Total: 1, Successful: 0}, hist.Stats())
}

func TestSendFailureCountsAsFailedAttempt(t *testing.T) {
	src := &fakeSource{slots: []slots.Slot{{DateTime: time.Now(), Description: "x"}}}
	boom := errors.New("chat not found")
	snd := &fakeSender{fail: map[int64]error{1: boom}}
	hist := history.New(10)
	c := newChecker(src, snd, hist, 12, 1, 2)

	err := c.RunDayCheck(context.Background())
	require.ErrorIs(t, err, boom)
	// the other subscriber is still notified
	require.Len(t, snd.sent, 1)
	assert.Equal(t, int64(2), snd.sent[0].chatID)
	assert.Equal(t, history.Stats{Total: 1, Successful: 0}, hist.Stats())
}

func TestFormatSlots(t *testing.T) {
	loc := time.FixedZone("site", 3600)
	got := FormatSlots([]slots.Slot{
		{DateTime: time.Date(2024, 12, 1, 21, 45, 0, 0, time.UTC), Description: "late"},
		{DateTime: time.Date(2024, 12, 2, 8, 0, 0, 0, time.UTC), Description: "early"},
	}, loc)
	assert.Equal(t, "* 2024.12.01 10:45 late\n* 2024.12.02 09:00 early", got)
	assert.Equal(t, 1, strings.Count(got, "\n"))
}

type invocation struct {
	Night bool // which entry point
	Hour  int
	Fail  bool
}

func TestAttemptCounting_Property(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	genInvocation := gopter.CombineGens(gen.Bool(), gen.IntRange(0, 23), gen.Bool()).Map(func(v []interface{}) invocation {
		return invocation{Night: v[0].(bool), Hour: v[1].(int), Fail: v[2].(bool)}
	})

	properties.Property("total counts exactly the invocations that reached fetch", prop.ForAll(
		func(seq []invocation) bool {
			hist := history.New(5)
			reached, ok := 0, 0
			for _, inv := range seq {
				src := &fakeSource{}
				if inv.Fail {
					src.err = slots.ErrSourceFormatChanged
				}
				c := newChecker(src, &fakeSender{}, hist, inv.Hour)
				if inv.Night {
					_ = c.RunNightCheck(context.Background())
				} else {
					_ = c.RunDayCheck(context.Background())
				}
				reached += src.calls
				if src.calls == 1 && !inv.Fail {
					ok++
				}
				s := hist.Stats()
				if s.Successful > s.Total {
					return false
				}
			}
			s := hist.Stats()
			return s.Total == reached && s.Successful == ok
		},
		gen.SliceOf(genInvocation),
	))

	properties.TestingRun(t)
}

func pacedChecker(snd Sender, hist *history.Log, subs []int64) *Checker {
	src := &fakeSource{slots: []slots.Slot{{DateTime: time.Date(2024, 3, 6, 9, 30, 0, 0, time.UTC), Description: "Visa"}}}
	return New(Config{Site: site, Subscribers: subs, RatePerSec: 3}, src, snd, hist, logx.Nop(), WithClock(at(12)))
}

func TestPacedPushOutlivesRunDeadline(t *testing.T) {
	snd := &fakeSender{}
	hist := history.New(10)
	subs := []int64{1, 2, 3, 4, 5, 6, 7, 8}
	c := pacedChecker(snd, hist, subs)

	// burst of 3, the other 5 need ~1.7s of tokens
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.RunDayCheck(ctx))

	got := make([]int64, 0, len(snd.sent))
	for _, s := range snd.sent {
		got = append(got, s.chatID)
	}
	assert.Equal(t, subs, got)
	assert.Equal(t, history.Stats{Total: 1, Successful: 1}, hist.Stats())
}

func TestCanceledPushFailsEverySubscriber(t *testing.T) {
	snd := &fakeSender{}
	hist := history.New(10)
	c := pacedChecker(snd, hist, []int64{1, 2, 3, 4, 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.RunDayCheck(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, snd.sent)
	assert.Equal(t, 5, strings.Count(err.Error(), context.Canceled.Error()))
	assert.Equal(t, history.Stats{Total: 1, Successful: 0}, hist.Stats())
}

func TestWithoutDeadlineKeepsCancellation(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	ctx, done := withoutDeadline(parent)
	defer done()

	<-parent.Done()
	_, ok := ctx.Deadline()
	assert.False(t, ok)
	assert.NoError(t, ctx.Err())

	parent2, cancel2 := context.WithCancel(context.Background())
	ctx2, done2 := withoutDeadline(parent2)
	defer done2()
	cancel2()
	require.Eventually(t, func() bool { return ctx2.Err() != nil }, time.Second, time.Millisecond)
	assert.ErrorIs(t, context.Cause(ctx2), context.Canceled)
}
