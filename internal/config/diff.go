package config

import (
	"reflect"
	"strings"

	logx "slotwatch/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured
// fields for logging. Secrets (bot token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		strings.TrimSpace(ot.APIURL) != strings.TrimSpace(nt.APIURL) ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		strings.TrimSpace(ot.PollRetryDelay) != strings.TrimSpace(nt.PollRetryDelay) ||
		ot.PollingEnabled() != nt.PollingEnabled() ||
		ot.LogChatID != nt.LogChatID {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.poll_enabled", nt.PollingEnabled()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.day_cron", newCfg.Scheduler.DayCron),
			logx.String("scheduler.night_cron", newCfg.Scheduler.NightCron),
		)
	}

	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs, logx.String("source.base_url", newCfg.Source.BaseURL))
	}
	if !reflect.DeepEqual(oldCfg.Subscribers, newCfg.Subscribers) {
		changed = append(changed, "subscribers")
		attrs = append(attrs, logx.Int("subscribers.count", len(newCfg.Subscribers)))
	}
	if oldCfg.History != newCfg.History {
		changed = append(changed, "history")
	}
	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
	}
	if oldCfg.MQTT != newCfg.MQTT {
		changed = append(changed, "mqtt")
		attrs = append(attrs, logx.Bool("mqtt.enabled", newCfg.MQTT.Enabled))
	}
	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", newCfg.Status.Addr),
			logx.Bool("status.token_changed", oldCfg.Status.Token != newCfg.Status.Token),
		)
	}
	return changed, attrs
}

// RestartRequired reports the changed sections that are only read at startup.
func RestartRequired(changed []string) []string {
	out := make([]string, 0, len(changed))
	for _, s := range changed {
		if s != "logging" {
			out = append(out, s)
		}
	}
	return out
}
