// Package app wires the slot watcher together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"slotwatch/internal/checker"
	"slotwatch/internal/commands"
	"slotwatch/internal/config"
	"slotwatch/internal/history"
	"slotwatch/internal/observability/status"
	"slotwatch/internal/poller"
	"slotwatch/internal/publish"
	rtsup "slotwatch/internal/runtime/supervisor"
	"slotwatch/internal/scheduler"
	"slotwatch/internal/slots"
	"slotwatch/internal/transport"
	"slotwatch/internal/transport/telegram"
	logx "slotwatch/pkg/logx"
)

const (
	jobDayCheck   = "check.day"
	jobNightCheck = "check.night"
)

// menuUpdater is implemented by channels that expose a command menu.
type menuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error
}

type options struct {
	channel   transport.Channel
	source    slots.Source
	publisher publish.Publisher
}

type Option func(*options)

// WithChannel replaces the Telegram channel.
func WithChannel(ch transport.Channel) Option { return func(o *options) { o.channel = ch } }

// WithSource replaces the HTML slot source.
func WithSource(src slots.Source) Option { return func(o *options) { o.source = src } }

// WithPublisher replaces the MQTT outcome publisher (even when mqtt is disabled).
func WithPublisher(p publish.Publisher) Option { return func(o *options) { o.publisher = p } }

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	sd   *sdNotifier

	channel    transport.Channel
	hist       *history.Log
	checker    *checker.Checker
	dispatcher *commands.Dispatcher
	poller     *poller.Poller
	sched      *scheduler.Service
	publisher  publish.Publisher
	status     *status.Server
	site       slots.Descriptor
	startedAt  time.Time

	stopOnce sync.Once
	stopErr  error
}

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	// Logging starts before the channel exists; the chat sink picks up the
	// sender once it is set.
	logSvc, root := logx.New(logConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))

	ch := o.channel
	if ch == nil {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			APIURL:      cfg.Telegram.APIURL,
			PollTimeout: res.PollTimeout,
		}, root.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		ch = tg
	}
	logSvc.SetSender(ch)

	src := o.source
	if src == nil {
		src = slots.NewHTMLSource(htmlConfig(cfg, res.RequestTimeout), root.With(logx.String("comp", "source")))
	}

	pub := o.publisher
	if pub == nil && cfg.MQTT.Enabled {
		mp, err := publish.NewMQTT(publish.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		}, root.With(logx.String("comp", "mqtt")))
		if err != nil {
			// outcomes are optional; run without them
			log.Warn("mqtt disabled: connect failed", logx.Err(err))
		} else {
			pub = mp
		}
	}

	hist := history.New(cfg.History.Capacity)

	var checkerOpts []checker.Option
	if pub != nil {
		checkerOpts = append(checkerOpts, checker.WithOutcomeSink(pub))
	}
	chk := checker.New(checker.Config{
		Site:        slots.Descriptor{BaseURL: cfg.Source.BaseURL, Location: res.SiteLocation},
		Subscribers: cfg.Subscribers,
		RatePerSec:  cfg.Notify.RatePerSec,
	}, src, ch, hist, root.With(logx.String("comp", "checker")), checkerOpts...)

	disp := commands.New(ch, hist, root.With(logx.String("comp", "commands")))

	pl := poller.New(poller.Config{
		Enabled:    cfg.Telegram.PollingEnabled(),
		Timeout:    res.PollTimeout,
		RetryDelay: res.PollRetryDelay,
	}, ch, disp, root.With(logx.String("comp", "poller")))

	sched := scheduler.New(scheduler.Config{
		Enabled:    cfg.Scheduler.Enabled,
		Timezone:   cfg.Scheduler.Timezone,
		JobTimeout: res.JobTimeout,
	}, root.With(logx.String("comp", "scheduler")))
	if err := sched.Add(jobDayCheck, res.DayCron, chk.RunDayCheck); err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("scheduler.day_cron: %w", err)
	}
	if err := sched.Add(jobNightCheck, res.NightCron, chk.RunNightCheck); err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("scheduler.night_cron: %w", err)
	}

	log.Info("configured",
		logx.String("site", cfg.Source.BaseURL),
		logx.String("site_tz", res.SiteLocation.String()),
		logx.Int("subscribers", len(cfg.Subscribers)),
		logx.Int("history_capacity", hist.Capacity()),
		logx.Bool("mqtt", pub != nil))

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		sd:         newSDNotifier(cfg.Systemd.Notify, root.With(logx.String("comp", "systemd"))),
		channel:    ch,
		hist:       hist,
		checker:    chk,
		dispatcher: disp,
		poller:     pl,
		sched:      sched,
		publisher:  pub,
		site:       slots.Descriptor{BaseURL: cfg.Source.BaseURL, Location: res.SiteLocation},
	}
	a.status = status.New(status.Config{
		Enabled:       cfg.Status.Enabled,
		Addr:          cfg.Status.Addr,
		Token:         cfg.Status.Token,
		AllowInsecure: cfg.Status.AllowInsecure,
		Pprof:         cfg.Status.Pprof,
	}, a.report, root.With(logx.String("comp", "status")))
	return a, nil
}

// History exposes the shared check history.
func (a *App) History() *history.Log { return a.hist }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return nil
	}
	a.startedAt = time.Now()
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "app.sup"))),
		rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if mu, ok := a.channel.(menuUpdater); ok {
		mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := mu.UpdateMenuCommands(mctx, a.dispatcher.MenuCommands()); err != nil {
			a.log.Warn("menu commands update failed", logx.Err(err))
		}
		cancel()
	}

	a.poller.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	for _, s := range a.sched.Snapshot() {
		a.log.Debug("schedule", logx.String("name", s.Name), logx.String("spec", s.Spec), logx.Time("next", s.Next))
	}

	if err := a.status.Start(a.sup.Context()); err != nil {
		a.log.Warn("status server not started", logx.Err(err))
	}

	sub, unsubscribe := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsubscribe()
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	if iv := a.sd.watchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) { a.sd.Watchdog(c, iv) })
	}

	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot reloads. Only the logging section is live; other
// changes are reported as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
		// coalesce bursts: keep only the latest
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}

		sections, attrs := config.SummarizeChange(lastApplied, newCfg)
		lastApplied = newCfg
		if len(sections) == 0 {
			a.log.Info("config reloaded (no changes)")
			continue
		}

		a.logs.Apply(logConfig(newCfg))
		if restart := config.RestartRequired(sections); len(restart) > 0 {
			a.log.Warn("config changed; restart required for changes to take effect",
				logx.String("sections", strings.Join(restart, ",")))
		}
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	}
}

// Stop cancels the update loop, lets running checks finish and releases
// resources. Each step is bounded so one component can't stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.stopOnce.Do(func() { a.stopErr = a.stop(ctx, reason) })
	return a.stopErr
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("poller", 3*time.Second, a.poller.Stop)
	// in-flight checks run to completion (notifications are never cut off)
	step("scheduler", 60*time.Second, a.sched.Stop)
	step("publisher", time.Second, func(context.Context) error {
		if a.publisher != nil {
			return a.publisher.Close()
		}
		return nil
	})
	step("status", 2*time.Second, a.status.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func htmlConfig(cfg *config.Config, timeout time.Duration) slots.HTMLConfig {
	return slots.HTMLConfig{
		Container:    cfg.Source.Container,
		SlotSelector: cfg.Source.SlotSelector,
		DateAttr:     cfg.Source.DateAttr,
		DateLayout:   cfg.Source.DateLayout,
		UserAgent:    cfg.Source.UserAgent,
		Timeout:      timeout,
	}
}
