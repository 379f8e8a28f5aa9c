// Package poller consumes inbound chat updates with a long-poll loop.
//
// The loop owns the update cursor; no other goroutine reads or writes it.
// Any single failure (transport, API status, one bad update) is logged and the
// loop carries on; only cancellation stops it.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	rtsup "slotwatch/internal/runtime/supervisor"
	"slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

// Handler processes one update.
type Handler interface {
	Handle(ctx context.Context, up transport.Update) error
}

// Cursor is the last consumed update boundary. The zero value means no
// updates have been consumed yet.
type Cursor struct {
	offset int
	set    bool
}

// Offset returns the value to send as getUpdates offset (0 when unset).
func (c Cursor) Offset() int { return c.offset }

func (c Cursor) IsSet() bool { return c.set }

// advance moves the cursor past lastID. It never moves backwards.
func (c *Cursor) advance(lastID int) {
	next := lastID + 1
	if c.set && next < c.offset {
		return
	}
	c.offset = next
	c.set = true
}

type Config struct {
	// Enabled gates Start; a disabled poller never spawns its loop.
	Enabled bool
	// Timeout is the long-poll wait (default 30s).
	Timeout time.Duration
	// RetryDelay is slept after a failed fetch (default 0: retry immediately).
	RetryDelay time.Duration
}

type Poller struct {
	cfg     Config
	channel transport.Channel
	handler Handler
	log     logx.Logger

	// cursor is confined to the loop goroutine.
	cursor Cursor

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(cfg Config, channel transport.Channel, handler Handler, log logx.Logger) *Poller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{cfg: cfg, channel: channel, handler: handler, log: log}
}

// Running reports whether the loop has been started and not stopped.
func (p *Poller) Running() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.sup != nil
}

// Start spawns the update loop under its own supervisor. It is idempotent and
// a no-op when the poller is disabled.
func (p *Poller) Start(ctx context.Context) {
	if !p.cfg.Enabled {
		p.log.Info("update polling disabled")
		return
	}
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.sup != nil {
		return
	}
	p.log.Info("starting update polling", logx.Duration("timeout", p.cfg.Timeout))
	p.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(p.log.With(logx.String("comp", "poller.sup"))),
		// the loop must not take the app down
		rtsup.WithCancelOnError(false),
	)
	// Run already survives every per-iteration failure; the restart wrapper only
	// covers panics escaping the channel itself.
	p.sup.GoRestart("updates.poll", p.Run, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

// Stop cancels the loop and waits for it to exit (bounded by ctx). Idempotent.
func (p *Poller) Stop(ctx context.Context) error {
	p.runMu.Lock()
	sup := p.sup
	p.sup = nil
	p.runMu.Unlock()
	if sup == nil {
		return nil
	}
	p.log.Info("cancelling update polling")
	err := sup.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		p.log.Warn("update polling stop timed out", logx.Err(err))
		return err
	}
	p.log.Info("update polling stopped")
	return nil
}

// Run is the loop body; it returns only when ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("update poll failed",
				logx.Err(err),
				logx.Int("offset", p.cursor.Offset()),
				logx.Duration("timeout", p.cfg.Timeout))
			if !sleepCtx(ctx, p.cfg.RetryDelay) {
				return ctx.Err()
			}
		}
	}
}

// Cursor returns the current cursor. Only meaningful from the loop goroutine
// or after the loop stopped.
func (p *Poller) Cursor() Cursor { return p.cursor }

// poll fetches and dispatches one batch.
func (p *Poller) poll(ctx context.Context) error {
	p.log.Debug("fetching updates", logx.Int("offset", p.cursor.Offset()))

	res, err := p.channel.FetchUpdates(ctx, p.cursor.Offset(), p.cfg.Timeout)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	if len(res.Updates) == 0 {
		return nil
	}

	for _, up := range res.Updates {
		p.dispatch(ctx, up)
	}
	p.cursor.advance(res.Updates[len(res.Updates)-1].ID)
	p.log.Debug("updates consumed", logx.Int("count", len(res.Updates)), logx.Int("next_offset", p.cursor.Offset()))
	return nil
}

// dispatch isolates one update: errors and panics are logged, never propagated.
func (p *Poller) dispatch(ctx context.Context, up transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("update handler panicked",
				logx.Int("update_id", up.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if err := p.handler.Handle(ctx, up); err != nil {
		p.log.Error("failed to process update", logx.Int("update_id", up.ID), logx.Err(fmt.Errorf("handle: %w", err)))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
