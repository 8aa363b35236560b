// Package reminder nudges contributors whose claimed packages have been idle
// for too long. Reminders are throttled notifications, so a burst of them is
// merged into a few messages by the outbox.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rvbot/internal/marks"
	logx "rvbot/pkg/logx"
	"rvbot/pkg/tgui"
)

// Source is the part of *marks.Engine the reminder reads and posts through.
type Source interface {
	Status() []marks.StatusEntry
	Mention(uid int64) tgui.H
	Notify(ctx context.Context, h tgui.H, throttle bool)
}

type Config struct {
	Enabled bool
	// Schedule is a cron spec (5 or 6 fields, or a descriptor like @daily).
	Schedule  string
	IdleAfter time.Duration
	Location  *time.Location
}

type Service struct {
	src    Source
	log    logx.Logger
	parser cron.Parser
	now    func() time.Time

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
	ctx context.Context
}

func New(cfg Config, src Source, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		src: src,
		log: log.With(logx.String("comp", "reminder")),
		// SecondOptional allows both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
		cfg:    cfg,
	}
}

// Validate checks a schedule without starting anything.
func (s *Service) Validate(spec string) error {
	_, err := s.parser.Parse(spec)
	return err
}

// Start schedules the reminder job. ctx bounds every run.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	ctx := s.ctx
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		n := s.RunOnce(ctx)
		s.log.Debug("reminder run", logx.Int("users", n))
	}); err != nil {
		return fmt.Errorf("reminder schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("service started", logx.String("schedule", s.cfg.Schedule), logx.Duration("idle_after", s.cfg.IdleAfter))
	return nil
}

func (s *Service) stopLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	s.c = nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

// Apply swaps the config and restarts the schedule when it changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.ctx == nil {
		return nil
	}
	if old.Enabled == cfg.Enabled && old.Schedule == cfg.Schedule && old.Location.String() == cfg.Location.String() {
		return nil
	}
	s.stopLocked(s.ctx)
	return s.startLocked()
}

// RunOnce posts one reminder per user holding idle packages and returns the
// number of users reminded.
func (s *Service) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	idle := s.cfg.IdleAfter
	s.mu.Unlock()
	if idle <= 0 {
		return 0
	}
	now := s.now()
	users := 0
	for _, e := range s.src.Status() {
		var stale []tgui.H
		for _, p := range e.Packages {
			age := now.Sub(p.LastActiveTime())
			if age < idle {
				continue
			}
			stale = append(stale, tgui.JoinH(" ", tgui.Code(p.Name), tgui.I("("+formatAge(age)+")")))
		}
		if len(stale) == 0 {
			continue
		}
		users++
		s.src.Notify(ctx, tgui.JoinH(" ",
			tgui.Raw("Reminder"), s.src.Mention(e.UserID)+":",
			tgui.Raw("no activity on"), tgui.JoinH(", ", stale...),
		), true)
	}
	return users
}

func formatAge(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	if days >= 1 {
		return fmt.Sprintf("%dd", days)
	}
	return strings.TrimSuffix(d.Round(time.Hour).String(), "0m0s")
}
