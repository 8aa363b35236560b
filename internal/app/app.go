// Package app wires the bot together: config, logging, storage, the outbox,
// the mark engine, the Telegram router, the CI HTTP API and the reminder.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rvbot/internal/barrier"
	"rvbot/internal/config"
	"rvbot/internal/eventbus"
	"rvbot/internal/httpapi"
	"rvbot/internal/marks"
	"rvbot/internal/outbox"
	"rvbot/internal/reminder"
	rtsup "rvbot/internal/runtime/supervisor"
	"rvbot/internal/state"
	"rvbot/internal/storage"
	kit "rvbot/internal/transport"
	telegram "rvbot/internal/transport/telegram/adapter"
	"rvbot/internal/transport/telegram/router"
	logx "rvbot/pkg/logx"
	"rvbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	backend storage.Backend
	store   *state.Store

	adapter Telegram
	out     *outbox.Outbox
	eng     *marks.Engine
	cmdm    *router.Manager
	api     *httpapi.Server
	rem     *reminder.Service

	updates chan kit.Update
}

// Telegram is the chat connection the app drives.
type Telegram interface {
	kit.Adapter
	kit.CommandMenuUpdater
	BotID() int64
	Username() string
}

// connectors open the external endpoints. Tests replace them.
type connectors struct {
	dialTelegram func(telegram.Config, logx.Logger) (Telegram, error)
	openStorage  func(storage.Config, logx.Logger) (storage.Backend, error)
}

var liveConnectors = connectors{
	dialTelegram: func(cfg telegram.Config, log logx.Logger) (Telegram, error) {
		ad, err := telegram.New(cfg, log)
		if err != nil {
			return nil, err
		}
		return ad, nil
	},
	openStorage: storage.Open,
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	return build(cfgPath, liveConnectors)
}

func build(cfgPath string, conn connectors) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	ad, err := conn.dialTelegram(mapAdapter(res), log)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	backend, err := conn.openStorage(mapStorage(res), log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", res.Storage.Driver), logx.String("path", res.Storage.Path))

	store := state.New(backend, log)
	out := outbox.New(mapOutbox(cfg, res), ad, log, bus)
	logSvc.SetChatPoster(out)

	eng := marks.New(mapMarks(res, ad.BotID()), nil, store, out, barrier.New(), log, bus)
	cmdm := router.NewManager(log, eng, out, mapRouter(res, ad.Username()))
	cmdm.SetMenuUpdater(ad)

	var api *httpapi.Server
	if res.HTTP.Enabled {
		api = httpapi.New(mapHTTP(res), eng, log)
	}
	rem := reminder.New(mapReminder(res), eng, log)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		backend: backend,
		store:   store,
		adapter: ad,
		out:     out,
		eng:     eng,
		cmdm:    cmdm,
		api:     api,
		rem:     rem,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) validate(_ context.Context, cfg *config.Config) error {
	res, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	if res.Reminder.Enabled {
		if err := a.rem.Validate(res.Reminder.Schedule); err != nil {
			return fmt.Errorf("reminder.schedule: %w", err)
		}
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(a.validate)
	if err := a.validate(run, a.cfgm.Get()); err != nil {
		return err
	}

	if err := a.store.Load(run); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	a.out.Start(run)
	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	if err := a.cmdm.PublishMenu(run); err != nil {
		a.log.Warn("command menu not published", logx.Err(err))
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	if a.api != nil {
		a.sup.Go("http.api", a.api.Run)
	}
	if err := a.rem.Start(run); err != nil {
		return err
	}

	a.startEventLog()
	a.startConfigReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, func() bool { return a.sup.Err() == nil })
	})
	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("started",
		logx.Int64("bot_id", a.adapter.BotID()),
		logx.String("bot", a.adapter.Username()),
		logx.Bool("http", a.api != nil),
	)
	return nil
}

// startEventLog logs bus events at debug level.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// startConfigReload applies what can change live: logging, aliases, router
// settings, the API token and the reminder schedule.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, cfg)
				last = cfg
			}
		}
	})
}

func (a *App) applyConfig(old, cfg *config.Config) {
	res, err := config.Resolve(cfg)
	if err != nil {
		a.log.Warn("config apply skipped", logx.Err(err))
		return
	}
	changed, attrs := config.SummarizeChange(old, cfg)
	if len(changed) == 0 {
		return
	}

	a.logs.Apply(mapLogging(cfg))
	a.eng.SetAliases(res.Aliases)
	a.cmdm.SetSettings(mapRouter(res, a.adapter.Username()))
	if a.api != nil {
		a.api.SetToken(res.HTTP.Token)
	}
	if err := a.rem.Apply(mapReminder(res)); err != nil {
		a.log.Warn("reminder not rescheduled", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config applied", fields...)
	if restart := config.RestartRequired(old, cfg); len(restart) > 0 {
		a.log.Warn("config changes need a restart", logx.String("keys", strings.Join(restart, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigApplied, Time: time.Now(), Data: changed})
}

// Stop shuts down in dependency order: intake first (Telegram, HTTP,
// reminder), then the outbox drains, then state is flushed and the backend
// closed. Each step is bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	step("reminder", time.Second, func(c context.Context) error { a.rem.Stop(c); return nil })
	// Cancelling the supervisor ends dispatch, the HTTP server and config watching.
	a.sup.Cancel()
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("outbox", 10*time.Second, func(c context.Context) error { a.out.Stop(c); return nil })
	step("state", 3*time.Second, a.store.Flush)
	step("storage", time.Second, func(context.Context) error { return a.backend.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
