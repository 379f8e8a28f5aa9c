// Package checker runs the scheduled slot checks: it gates each run on the
// site's night window, fetches slots, pushes them to subscribers and records
// every attempt in the shared history.
package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"slotwatch/internal/history"
	"slotwatch/internal/slots"
	logx "slotwatch/pkg/logx"
)

type Cadence string

const (
	Day   Cadence = "day"
	Night Cadence = "night"
)

// slotTimeLayout renders yyyy.MM.dd hh:mm on a 12-hour clock.
const slotTimeLayout = "2006.01.02 03:04"

// Sender pushes a text message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Outcome describes one check that reached the fetch step.
type Outcome struct {
	RunID   string
	Cadence Cadence
	At      time.Time
	Slots   int
	Err     error
}

// OutcomeSink receives every Outcome. Failures are logged and otherwise ignored.
type OutcomeSink interface {
	PublishOutcome(o Outcome) error
}

type Config struct {
	Site        slots.Descriptor
	Subscribers []int64
	// RatePerSec paces pushes to subscribers (default 3).
	RatePerSec int
}

type Checker struct {
	cfg     Config
	source  slots.Source
	sender  Sender
	hist    *history.Log
	sink    OutcomeSink
	log     logx.Logger
	now     func() time.Time
	limiter *rate.Limiter
}

type Option func(*Checker)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option { return func(c *Checker) { c.now = now } }

func WithOutcomeSink(sink OutcomeSink) Option { return func(c *Checker) { c.sink = sink } }

func New(cfg Config, source slots.Source, sender Sender, hist *history.Log, log logx.Logger, opts ...Option) *Checker {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Checker{
		cfg:     cfg,
		source:  source,
		sender:  sender,
		hist:    hist,
		log:     log,
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsNight evaluates the night window for the configured site at the current time.
func (c *Checker) IsNight() bool { return IsNightAt(c.cfg.Site, c.now()) }

// RunDayCheck checks for slots unless it is night at the site.
func (c *Checker) RunDayCheck(ctx context.Context) error { return c.run(ctx, Day) }

// RunNightCheck checks for slots only while it is night at the site.
func (c *Checker) RunNightCheck(ctx context.Context) error { return c.run(ctx, Night) }

func (c *Checker) run(ctx context.Context, cad Cadence) error {
	log := c.log.With(logx.String("cadence", string(cad)))
	log.Debug("check started")

	night := c.IsNight()
	if (cad == Day && night) || (cad == Night && !night) {
		log.Debug("check skipped outside its window", logx.String("site", c.cfg.Site.String()), logx.Bool("night", night))
		return nil
	}
	runID := xid.New().String()
	return c.check(ctx, log.With(logx.String("run_id", runID)), runID, cad)
}

func (c *Checker) check(ctx context.Context, log logx.Logger, runID string, cad Cadence) error {
	site := c.cfg.Site
	log.Info("finding available slots", logx.String("site", site.String()))

	found, err := c.source.FetchAvailableSlots(ctx, site)
	if err == nil && len(found) > 0 {
		err = c.notify(ctx, log, found)
	}

	out := Outcome{RunID: runID, Cadence: cad, At: c.now(), Slots: len(found), Err: err}
	defer c.publish(log, out)

	if err != nil {
		log.Error("check failed", logx.Err(err))
		c.hist.Record(err.Error(), false)
		return err
	}

	log.Info("check finished", logx.Int("slots", len(found)))
	c.hist.Record(fmt.Sprintf("Found %d slots", len(found)), true)
	return nil
}

// notify pushes text to every subscriber in order. The run deadline does not
// apply here; only cancellation stops pending pushes.
func (c *Checker) notify(ctx context.Context, log logx.Logger, found []slots.Slot) error {
	ctx, done := withoutDeadline(ctx)
	defer done()

	text := FormatNotification(c.cfg.Site, found)
	var errs []error
	for _, chatID := range c.cfg.Subscribers {
		if err := c.pace(ctx); err != nil {
			log.Warn("subscriber notification skipped", logx.Int64("chat_id", chatID), logx.Err(err))
			errs = append(errs, err)
			continue
		}
		if err := c.sender.Send(ctx, chatID, text); err != nil {
			log.Warn("subscriber notification failed", logx.Int64("chat_id", chatID), logx.Err(err))
			errs = append(errs, err)
			continue
		}
		log.Debug("subscriber notified", logx.Int64("chat_id", chatID))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify subscribers: %w", err)
	}
	return nil
}

// pace waits for a send token. Unlike rate.Limiter.Wait it does not fail
// early when the token lies past a deadline.
func (c *Checker) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := c.limiter.Reserve()
	d := r.Delay()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withoutDeadline returns a context that ignores parent's deadline but is
// canceled when parent is canceled.
func withoutDeadline(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parent))
	propagate := func() {
		if errors.Is(parent.Err(), context.Canceled) {
			cancel(context.Cause(parent))
		}
	}
	propagate()
	stop := context.AfterFunc(parent, propagate)
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func (c *Checker) publish(log logx.Logger, out Outcome) {
	if c.sink == nil {
		return
	}
	if err := c.sink.PublishOutcome(out); err != nil {
		log.Warn("outcome publish failed", logx.Err(err))
	}
}

// FormatSlots renders one "* <date> <time> <description>" line per slot,
// in the site's zone.
func FormatSlots(found []slots.Slot, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lines := make([]string, 0, len(found))
	for _, s := range found {
		lines = append(lines, "* "+s.DateTime.In(loc).Format(slotTimeLayout)+" "+s.Description)
	}
	return strings.Join(lines, "\n")
}

// FormatNotification is the push text sent to subscribers.
func FormatNotification(site slots.Descriptor, found []slots.Slot) string {
	return "Found available slots on " + site.BaseURL + " !!!\n" + FormatSlots(found, site.Loc())
}
