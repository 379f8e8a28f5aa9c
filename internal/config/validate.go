package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"slotwatch/internal/scheduler"
)

const (
	DefaultDayCron   = "*/5 * * * *"
	DefaultNightCron = "*/30 * * * *"
)

// Resolved holds the parsed, defaulted values the app wires from.
type Resolved struct {
	PollTimeout    time.Duration
	PollRetryDelay time.Duration
	JobTimeout     time.Duration
	RequestTimeout time.Duration

	DayCron   string
	NightCron string

	SiteLocation *time.Location
}

// Resolve parses every duration, zone and schedule in cfg and applies defaults.
// All problems are reported together.
func Resolve(cfg *Config) (Resolved, error) {
	if cfg == nil {
		return Resolved{}, errors.New("config is nil")
	}
	var (
		r    Resolved
		errs []error
		err  error
	)
	add := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token: required"))
	}
	r.PollTimeout, err = pollTimeoutField.parse(cfg.Telegram.PollTimeout)
	add(err)
	r.PollRetryDelay, err = pollRetryDelayField.parse(cfg.Telegram.PollRetryDelay)
	add(err)
	r.JobTimeout, err = jobTimeoutField.parse(cfg.Scheduler.JobTimeout)
	add(err)

	r.DayCron = strings.TrimSpace(cfg.Scheduler.DayCron)
	if r.DayCron == "" {
		r.DayCron = DefaultDayCron
	}
	r.NightCron = strings.TrimSpace(cfg.Scheduler.NightCron)
	if r.NightCron == "" {
		r.NightCron = DefaultNightCron
	}
	if _, err := scheduler.Validate(r.DayCron); err != nil {
		add(fmt.Errorf("scheduler.day_cron: %w", err))
	}
	if _, err := scheduler.Validate(r.NightCron); err != nil {
		add(fmt.Errorf("scheduler.night_cron: %w", err))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	src, err := ResolveSource(cfg)
	add(err)
	r.SiteLocation, r.RequestTimeout = src.Location, src.RequestTimeout

	if cfg.History.Capacity < 0 {
		add(errors.New("history.capacity: must be >= 0"))
	}
	if cfg.Notify.RatePerSec < 0 {
		add(errors.New("notify.rate_per_sec: must be >= 0"))
	}
	if cfg.MQTT.Enabled && strings.TrimSpace(cfg.MQTT.Broker) == "" {
		add(errors.New("mqtt.broker: required when mqtt.enabled"))
	}
	if cfg.Status.Enabled && strings.TrimSpace(cfg.Status.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(cfg.Status.Addr)); err != nil {
			add(fmt.Errorf("status.addr: %w", err))
		}
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChatID == 0 {
		add(errors.New("telegram.log_chat_id: required when logging.telegram.enabled"))
	}

	if len(errs) > 0 {
		return Resolved{}, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return r, nil
}

// SourceSettings are the resolved values of the source section.
type SourceSettings struct {
	Location       *time.Location
	RequestTimeout time.Duration
}

// ResolveSource resolves only the source section (one-shot checks need
// nothing else).
func ResolveSource(cfg *Config) (SourceSettings, error) {
	var errs []error
	if u, err := url.Parse(strings.TrimSpace(cfg.Source.BaseURL)); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("source.base_url: absolute http(s) url required, got %q", cfg.Source.BaseURL))
	}
	s := SourceSettings{Location: time.UTC}
	if tz := strings.TrimSpace(cfg.Source.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			errs = append(errs, fmt.Errorf("source.timezone: %w", err))
		} else {
			s.Location = loc
		}
	}
	d, err := requestTimeoutField.parse(cfg.Source.RequestTimeout)
	if err != nil {
		errs = append(errs, err)
	}
	s.RequestTimeout = d
	return s, errors.Join(errs...)
}

// Validate reports whether cfg resolves cleanly.
func Validate(cfg *Config) error {
	_, err := Resolve(cfg)
	return err
}
