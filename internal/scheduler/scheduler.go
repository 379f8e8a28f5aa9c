// Package scheduler fires the slot checks on their cron cadences.
//
// Each job is wrapped so that a run still in progress makes the next trigger
// a no-op, and a panic is logged instead of killing the process. Job errors
// are logged once at warn; there is no retry.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "slotwatch/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Amsterdam"; empty means Local
	// JobTimeout bounds a single run (0: unbounded).
	JobTimeout time.Duration
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    ParsedSpec
	job     Job
	entryID cron.EntryID
}

// ScheduleInfo describes one registered schedule.
type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location
	defs   []scheduleDef
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, parser: specParser}
}

// Validate checks raw against the schedule forms and the cron grammar.
func Validate(raw string) (ParsedSpec, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return ParsedSpec{}, err
	}
	if _, err := specParser.Parse(ps.Expr()); err != nil {
		return ParsedSpec{}, fmt.Errorf("schedule %q: %w", raw, err)
	}
	return ps, nil
}

// Add registers a named job. Jobs added after Start are scheduled immediately.
func (s *Service) Add(name, raw string, job Job) error {
	ps, err := Validate(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.name == name {
			return fmt.Errorf("schedule %q already registered", name)
		}
	}
	s.defs = append(s.defs, scheduleDef{name: name, spec: ps, job: job})
	if s.c != nil {
		return s.addCronLocked(&s.defs[len(s.defs)-1])
	}
	return nil
}

// Start begins triggering. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}

	loc := s.loadLocationLocked()
	s.loc = loc
	clog := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule registration failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and waits for running jobs to finish, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	s.log.Info("stop requested")

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("running jobs did not finish before stop deadline", logx.Duration("took", time.Since(start)))
		return ctx.Err()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	return nil
}

// Snapshot lists registered schedules with their next and previous fire times.
func (s *Service) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec.Expr()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out = append(out, it)
	}
	return out
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, job, timeout := d.name, d.job, s.cfg.JobTimeout
	log := s.log.With(logx.String("job", name))
	id, err := s.c.AddFunc(d.spec.Expr(), func() {
		// Runs are detached from shutdown: a notification in flight is not cut off.
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		if err := job(ctx); err != nil {
			log.Warn("scheduled job failed", logx.Err(err), logx.Duration("took", time.Since(start)))
			return
		}
		log.Debug("scheduled job done", logx.Duration("took", time.Since(start)))
	})
	if err != nil {
		return err
	}
	d.entryID = id
	if preview := s.previewNextRunsLocked(d.spec.Expr(), 3); preview != "" {
		log.Debug("schedule registered", logx.String("spec", d.spec.Expr()), logx.String("next", preview))
	}
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Any("err", err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked renders the next n fire times. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// cronLogger adapts logx to cron.Logger. cron's own info chatter goes to debug.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
