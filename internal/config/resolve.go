package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultHTTPAddr         = ":30644"
	DefaultTimezone         = "Asia/Shanghai"
	DefaultReminderSchedule = "0 10 * * 1"
	DefaultReminderIdle     = 7 * 24 * time.Hour
	DefaultCommandTimeout   = 15 * time.Second
)

// Resolved is Config with durations parsed, locations loaded and defaults
// filled in. It is what the app wires from.
type Resolved struct {
	Telegram struct {
		Token          string
		GroupChat      int64
		GroupThread    int
		Admins         []int64
		BotName        string
		PollTimeout    time.Duration
		CommandTimeout time.Duration
	}
	Outbox struct {
		IdleInterval      time.Duration
		ThrottleWait      time.Duration
		SendInterval      time.Duration
		RateLimitDefault  time.Duration
		Hold              time.Duration
		MergeBusyInterval time.Duration
		MergeIdleInterval time.Duration
		MaxText           int
	}
	Storage struct {
		Driver      string
		Path        string
		BusyTimeout time.Duration
	}
	HTTP struct {
		Enabled        bool
		Addr           string
		Token          string
		RequestTimeout time.Duration
		Pprof          bool
	}
	Marks struct {
		Location *time.Location
		LogURL   string
	}
	Reminder struct {
		Enabled   bool
		Schedule  string
		IdleAfter time.Duration
		Location  *time.Location
	}
	Aliases map[int64]string
}

// Resolve validates cfg and returns its typed form. All problems are reported
// together.
func Resolve(cfg *Config) (*Resolved, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var (
		r    Resolved
		errs []error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := parseDuration(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	t := cfg.Telegram
	r.Telegram.Token = strings.TrimSpace(t.Token)
	if r.Telegram.Token == "" {
		errs = append(errs, fmt.Errorf("telegram.token: required (or set %s)", EnvTelegramToken))
	}
	if t.GroupChat == 0 {
		errs = append(errs, errors.New("telegram.group_chat: required"))
	}
	r.Telegram.GroupChat = t.GroupChat
	r.Telegram.GroupThread = t.GroupThread
	r.Telegram.Admins = append([]int64(nil), t.AdminUserIDs...)
	r.Telegram.BotName = strings.TrimPrefix(strings.TrimSpace(t.BotName), "@")
	r.Telegram.PollTimeout = dur("telegram.poll_timeout", t.PollTimeout, 10*time.Second)
	r.Telegram.CommandTimeout = dur("telegram.command_timeout", t.CommandTimeout, DefaultCommandTimeout)

	// Zero outbox durations mean "package default".
	o := cfg.Outbox
	r.Outbox.IdleInterval = dur("outbox.idle_interval", o.IdleInterval, 0)
	r.Outbox.ThrottleWait = dur("outbox.throttle_wait", o.ThrottleWait, 0)
	r.Outbox.SendInterval = dur("outbox.send_interval", o.SendInterval, 0)
	r.Outbox.RateLimitDefault = dur("outbox.rate_limit_default", o.RateLimitDefault, 0)
	r.Outbox.Hold = dur("outbox.hold", o.Hold, 0)
	r.Outbox.MergeBusyInterval = dur("outbox.merge_busy_interval", o.MergeBusyInterval, 0)
	r.Outbox.MergeIdleInterval = dur("outbox.merge_idle_interval", o.MergeIdleInterval, 0)
	if o.MaxText < 0 {
		errs = append(errs, errors.New("outbox.max_text: must be >= 0"))
	}
	r.Outbox.MaxText = o.MaxText

	s := cfg.Storage
	r.Storage.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	switch r.Storage.Driver {
	case "":
		r.Storage.Driver = "file"
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
	}
	r.Storage.Path = strings.TrimSpace(s.Path)
	if r.Storage.Path == "" {
		if r.Storage.Driver == "sqlite" {
			r.Storage.Path = "./rvbot.db"
		} else {
			r.Storage.Path = "./rvbot_store"
		}
	}
	r.Storage.BusyTimeout = dur("storage.busy_timeout", s.BusyTimeout, 0)

	h := cfg.HTTP
	r.HTTP.Enabled = h.Enabled
	r.HTTP.Addr = strings.TrimSpace(h.Addr)
	if r.HTTP.Addr == "" {
		r.HTTP.Addr = DefaultHTTPAddr
	}
	r.HTTP.Token = strings.TrimSpace(h.Token)
	if h.Enabled && r.HTTP.Token == "" {
		errs = append(errs, fmt.Errorf("http.token: required when http is enabled (or set %s)", EnvHTTPToken))
	}
	r.HTTP.RequestTimeout = dur("http.request_timeout", h.RequestTimeout, 0)
	r.HTTP.Pprof = h.Pprof

	tz := strings.TrimSpace(cfg.Marks.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Errorf("marks.timezone: %w", err))
	}
	r.Marks.Location = loc
	r.Marks.LogURL = strings.TrimSpace(cfg.Marks.LogURL)

	rm := cfg.Reminder
	r.Reminder.Enabled = rm.Enabled
	r.Reminder.Schedule = strings.TrimSpace(rm.Schedule)
	if r.Reminder.Schedule == "" {
		r.Reminder.Schedule = DefaultReminderSchedule
	}
	r.Reminder.IdleAfter = dur("reminder.idle_after", rm.IdleAfter, DefaultReminderIdle)
	r.Reminder.Location = loc
	if z := strings.TrimSpace(rm.Timezone); z != "" {
		rl, err := time.LoadLocation(z)
		if err != nil {
			errs = append(errs, fmt.Errorf("reminder.timezone: %w", err))
		}
		r.Reminder.Location = rl
	}

	r.Aliases = make(map[int64]string, len(cfg.Aliases))
	for uid, a := range cfg.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			r.Aliases[uid] = a
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &r, nil
}

// parseDuration reads a Go duration string. Empty or zero yields def.
func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return def, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return def, fmt.Errorf("%s: negative duration %q", path, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
