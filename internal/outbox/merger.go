package outbox

import (
	"context"

	"rvbot/internal/eventbus"
	logx "rvbot/pkg/logx"
)

// Merger flushes aged throttled backlogs, one chat per tick.
type Merger struct {
	q   *Queue
	cfg Config
	log logx.Logger
	bus eventbus.Bus
}

func NewMerger(q *Queue, cfg Config, log logx.Logger, bus eventbus.Bus) *Merger {
	return &Merger{q: q, cfg: cfg.withDefaults(), log: log, bus: bus}
}

func (m *Merger) Run(ctx context.Context) error {
	for {
		wait := m.cfg.MergeIdleInterval
		if _, ok := m.Tick(); ok {
			wait = m.cfg.MergeBusyInterval
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// Tick runs one merge pass.
func (m *Merger) Tick() (MergeResult, bool) {
	res, ok := m.q.flushDue(m.cfg.Hold)
	if !ok {
		return res, false
	}
	m.log.Debug("throttled backlog flushed",
		logx.Int64("chat_id", res.Chat.ChatID),
		logx.Int("selected", res.Selected),
		logx.Int("emitted", res.Emitted),
	)
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.OutboxMerged, Data: map[string]any{
			"chat_id":  res.Chat.ChatID,
			"selected": res.Selected,
			"emitted":  res.Emitted,
		}})
	}
	return res, true
}
