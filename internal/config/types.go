package config

// Config is the on-disk configuration. JSON and YAML share this shape; YAML is
// coerced to JSON before the strict decode.
//
// Durations are Go duration strings ("500ms", "2m", "168h").
type Config struct {
	Telegram TelegramConfig   `json:"telegram"`
	Logging  LoggingConfig    `json:"logging"`
	Outbox   OutboxConfig     `json:"outbox"`
	Storage  StorageConfig    `json:"storage"`
	HTTP     HTTPConfig       `json:"http"`
	Marks    MarksConfig      `json:"marks"`
	Aliases  map[int64]string `json:"aliases,omitempty"`
	Reminder ReminderConfig   `json:"reminder"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through RVBOT_TELEGRAM_TOKEN.
	Token        string  `json:"token"`
	GroupChat    int64   `json:"group_chat"`
	GroupThread  int     `json:"group_thread,omitempty"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	BotName      string  `json:"bot_name,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	// CommandTimeout bounds one command handler. Default 15s.
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards records at or above MinLevel to the group chat as
// throttled messages.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// OutboxConfig tunes the send queue. Zero values keep the built-in defaults.
type OutboxConfig struct {
	IdleInterval      string `json:"idle_interval,omitempty"`
	ThrottleWait      string `json:"throttle_wait,omitempty"`
	SendInterval      string `json:"send_interval,omitempty"`
	RateLimitDefault  string `json:"rate_limit_default,omitempty"`
	Hold              string `json:"hold,omitempty"`
	MergeBusyInterval string `json:"merge_busy_interval,omitempty"`
	MergeIdleInterval string `json:"merge_idle_interval,omitempty"`
	MaxText           int    `json:"max_text,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./rvbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HTTPConfig controls the CI trigger API. Token may come from RVBOT_HTTP_TOKEN.
type HTTPConfig struct {
	Enabled        bool   `json:"enabled"`
	Addr           string `json:"addr,omitempty"` // default ":30644"
	Token          string `json:"token,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
	// Pprof exposes /debug/pprof behind the same token.
	Pprof bool `json:"pprof,omitempty"`
}

type MarksConfig struct {
	// Timezone renders comment timestamps. Default Asia/Shanghai.
	Timezone string `json:"timezone,omitempty"`
	// LogURL is a build log template; {pkgname} is replaced.
	LogURL string `json:"log_url,omitempty"`
}

type ReminderConfig struct {
	Enabled   bool   `json:"enabled"`
	Schedule  string `json:"schedule,omitempty"`   // default "0 10 * * 1"
	IdleAfter string `json:"idle_after,omitempty"` // default "168h"
	Timezone  string `json:"timezone,omitempty"`   // default marks.timezone
}
