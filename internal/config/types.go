package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "30s", "2m") or whole seconds ("30").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Source    SourceConfig    `json:"source"`

	// Subscribers are the chat ids notified when slots are found.
	Subscribers []int64 `json:"subscribers"`

	History HistoryConfig `json:"history,omitempty"`
	Notify  NotifyConfig  `json:"notify,omitempty"`
	MQTT    MQTTConfig    `json:"mqtt,omitempty"`
	Systemd SystemdConfig `json:"systemd,omitempty"`
	Status  StatusConfig  `json:"status,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL overrides the Bot API endpoint (local bot API server).
	APIURL string `json:"api_url,omitempty"`

	// PollTimeout is the long-poll wait (default "30s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// PollRetryDelay is slept after a failed poll (default "0s": retry immediately).
	PollRetryDelay string `json:"poll_retry_delay,omitempty"`
	// PollEnabled turns the inbound command loop on or off. Omitted means on.
	PollEnabled *bool `json:"poll_enabled,omitempty"`

	// LogChatID receives forwarded log records when logging.telegram is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
}

// PollingEnabled reports poll_enabled, defaulting to true.
func (t TelegramConfig) PollingEnabled() bool {
	return t.PollEnabled == nil || *t.PollEnabled
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the day and night check triggers.
//
// Defaults:
//   - day_cron: "*/5 * * * *"
//   - night_cron: "*/30 * * * *"
//   - timezone: Local
//   - job_timeout: "0s" (unbounded)
type SchedulerConfig struct {
	Enabled    bool   `json:"enabled"`
	DayCron    string `json:"day_cron,omitempty"`
	NightCron  string `json:"night_cron,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	JobTimeout string `json:"job_timeout,omitempty"`
}

// SourceConfig describes the appointment site.
//
// Example:
//
//	"source": {
//	  "base_url": "https://hague.kdmid.ru/",
//	  "timezone": "Europe/Amsterdam",
//	  "slot_selector": "td.slot[data-datetime]"
//	}
type SourceConfig struct {
	BaseURL        string `json:"base_url"`
	Timezone       string `json:"timezone"`
	RequestTimeout string `json:"request_timeout,omitempty"`
	Container      string `json:"container,omitempty"`
	SlotSelector   string `json:"slot_selector,omitempty"`
	DateAttr       string `json:"date_attr,omitempty"`
	DateLayout     string `json:"date_layout,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

type HistoryConfig struct {
	// Capacity bounds the /log history (default 200).
	Capacity int `json:"capacity,omitempty"`
}

type NotifyConfig struct {
	// RatePerSec paces subscriber pushes (default 3).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker,omitempty"`
	Topic    string `json:"topic,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING/WATCHDOG to the service manager when
	// NOTIFY_SOCKET is set.
	Notify bool `json:"notify"`
}

// StatusConfig controls the local HTTP status endpoint.
//
// A non-loopback addr requires token unless allow_insecure is set.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:8089"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
