package app

import (
	"rvbot/internal/config"
	"rvbot/internal/httpapi"
	"rvbot/internal/marks"
	"rvbot/internal/outbox"
	"rvbot/internal/reminder"
	"rvbot/internal/storage"
	kit "rvbot/internal/transport"
	telegram "rvbot/internal/transport/telegram/adapter"
	"rvbot/internal/transport/telegram/router"
	logx "rvbot/pkg/logx"
)

// Mapping from the resolved config to each component's own Config.

func groupChat(r *config.Resolved) kit.ChatTarget {
	return kit.ChatTarget{ChatID: r.Telegram.GroupChat, ThreadID: r.Telegram.GroupThread}
}

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func mapAdapter(r *config.Resolved) telegram.Config {
	return telegram.Config{Token: r.Telegram.Token, PollTimeout: r.Telegram.PollTimeout}
}

func mapStorage(r *config.Resolved) storage.Config {
	return storage.Config{Driver: r.Storage.Driver, Path: r.Storage.Path, BusyTimeout: r.Storage.BusyTimeout}
}

func mapOutbox(cfg *config.Config, r *config.Resolved) outbox.Config {
	o := r.Outbox
	out := outbox.Config{
		IdleInterval:      o.IdleInterval,
		ThrottleWait:      o.ThrottleWait,
		SendInterval:      o.SendInterval,
		RateLimitDefault:  o.RateLimitDefault,
		Hold:              o.Hold,
		MergeBusyInterval: o.MergeBusyInterval,
		MergeIdleInterval: o.MergeIdleInterval,
		MaxText:           o.MaxText,
	}
	if cfg.Logging.Chat.Enabled {
		out.LogChat = kit.ChatTarget{ChatID: r.Telegram.GroupChat, ThreadID: cfg.Logging.Chat.ThreadID}
	}
	return out
}

func mapMarks(r *config.Resolved, botID int64) marks.Config {
	return marks.Config{
		Chat:     groupChat(r),
		BotID:    botID,
		Location: r.Marks.Location,
		LogURL:   r.Marks.LogURL,
		Aliases:  r.Aliases,
	}
}

func mapRouter(r *config.Resolved, botName string) router.Settings {
	name := r.Telegram.BotName
	if name == "" {
		name = botName
	}
	return router.Settings{
		Group:   groupChat(r),
		Admins:  r.Telegram.Admins,
		BotName: name,
		Timeout: r.Telegram.CommandTimeout,
	}
}

func mapHTTP(r *config.Resolved) httpapi.Config {
	return httpapi.Config{Addr: r.HTTP.Addr, Token: r.HTTP.Token, RequestTimeout: r.HTTP.RequestTimeout, Pprof: r.HTTP.Pprof}
}

func mapReminder(r *config.Resolved) reminder.Config {
	return reminder.Config{
		Enabled:   r.Reminder.Enabled,
		Schedule:  r.Reminder.Schedule,
		IdleAfter: r.Reminder.IdleAfter,
		Location:  r.Reminder.Location,
	}
}
