package config

import (
	"reflect"

	logx "rvbot/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs along
// with log fields describing the new values. Tokens are reported only as
// "set" flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	ot.Token, nt.Token = "", ""
	if !reflect.DeepEqual(ot, nt) || (oldCfg.Telegram.Token == "") != (newCfg.Telegram.Token == "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.group_chat", nt.GroupChat),
			logx.Int("telegram.admin_count", len(nt.AdminUserIDs)),
			logx.String("telegram.poll_timeout", nt.PollTimeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}
	if oldCfg.Outbox != newCfg.Outbox {
		changed = append(changed, "outbox")
		attrs = append(attrs, logx.String("outbox.hold", newCfg.Outbox.Hold))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh != nh {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", nh.Addr),
			logx.Bool("http.token_set", nh.Token != ""),
		)
	}
	if oldCfg.Marks != newCfg.Marks {
		changed = append(changed, "marks")
		attrs = append(attrs, logx.String("marks.timezone", newCfg.Marks.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.Aliases, newCfg.Aliases) {
		changed = append(changed, "aliases")
		attrs = append(attrs, logx.Int("aliases.count", len(newCfg.Aliases)))
	}
	if oldCfg.Reminder != newCfg.Reminder {
		changed = append(changed, "reminder")
		attrs = append(attrs,
			logx.Bool("reminder.enabled", newCfg.Reminder.Enabled),
			logx.String("reminder.schedule", newCfg.Reminder.Schedule),
		)
	}
	return changed, attrs
}

// RestartRequired reports changes that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram.token/poll_timeout")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Outbox != newCfg.Outbox {
		out = append(out, "outbox")
	}
	if oldCfg.Marks != newCfg.Marks {
		out = append(out, "marks")
	}
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh.Enabled != nh.Enabled || oh.Addr != nh.Addr || oh.Pprof != nh.Pprof || oh.RequestTimeout != nh.RequestTimeout {
		out = append(out, "http.enabled/addr/pprof/request_timeout")
	}
	return out
}
