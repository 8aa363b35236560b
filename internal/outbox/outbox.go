package outbox

import (
	"context"
	"sync"
	"time"

	"rvbot/internal/eventbus"
	rtsup "rvbot/internal/runtime/supervisor"
	"rvbot/internal/transport"
	logx "rvbot/pkg/logx"
)

// Outbox owns the queue and runs the Dispatcher and Merger loops.
//
// It is safe for concurrent use.
type Outbox struct {
	mu sync.Mutex

	cfg        Config
	log        logx.Logger
	queue      *Queue
	dispatcher *Dispatcher
	merger     *Merger

	sup     *rtsup.Supervisor
	stopped bool
}

func New(cfg Config, sender transport.Sender, log logx.Logger, bus eventbus.Bus) *Outbox {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	log = log.With(logx.String("comp", "outbox"))
	q := NewQueue(cfg.MaxText)
	return &Outbox{
		cfg:        cfg,
		log:        log,
		queue:      q,
		dispatcher: NewDispatcher(q, sender, cfg, log, bus),
		merger:     NewMerger(q, cfg, log, bus),
	}
}

// Start launches the loops. It is idempotent.
func (o *Outbox) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sup != nil || o.stopped {
		return
	}
	o.sup = rtsup.New(ctx, rtsup.WithLogger(o.log), rtsup.WithCancelOnError(false))
	o.sup.GoRestart("dispatcher", o.dispatcher.Run, rtsup.WithPublishFirstError(true))
	o.sup.GoRestart("merger", o.merger.Run, rtsup.WithPublishFirstError(true))
}

// Stop rejects new messages, stops the loops, releases every throttled
// backlog and delivers what it can until ctx ends. Anything left is
// rejected with ErrStopped.
func (o *Outbox) Stop(ctx context.Context) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	sup := o.sup
	o.mu.Unlock()

	o.queue.close()
	if sup != nil {
		_ = sup.Stop(ctx)
	}
	released := o.queue.releaseThrottled()
	sent := o.dispatcher.Drain(ctx)
	dropped := o.queue.rejectAll(ErrStopped)
	o.log.Info("outbox stopped",
		logx.Int("released", released),
		logx.Int("drained", sent),
		logx.Int("dropped", dropped),
	)
}

// Enqueue queues a single message that already fits the ceiling.
func (o *Outbox) Enqueue(msg Message) (*Receipt, error) {
	return o.queue.Enqueue(msg)
}

// Send splits msg when needed and queues the parts in order.
func (o *Outbox) Send(ctx context.Context, msg Message) ([]*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parts := SplitText(msg.Text, o.cfg.MaxText)
	out := make([]*Receipt, 0, len(parts))
	for _, p := range parts {
		m := msg
		m.Text = p
		r, err := o.queue.Enqueue(m)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// SendWait sends msg and waits for every part to be delivered.
func (o *Outbox) SendWait(ctx context.Context, msg Message) (transport.MessageRef, error) {
	rs, err := o.Send(ctx, msg)
	if err != nil {
		return transport.MessageRef{}, err
	}
	var last transport.MessageRef
	for _, r := range rs {
		ref, err := r.Wait(ctx)
		if err != nil {
			return last, err
		}
		last = ref
	}
	return last, nil
}

// ForceFlush makes the chat's throttled backlog due at the next merge pass.
func (o *Outbox) ForceFlush(chat transport.ChatTarget) int {
	n := o.queue.ForceFlush(chat, o.cfg.Hold)
	if n > 0 {
		o.log.Info("throttled backlog forced", logx.Int64("chat_id", chat.ChatID), logx.Int("entries", n))
	}
	return n
}

func (o *Outbox) Pending() []PendingInfo { return o.queue.Pending() }

func (o *Outbox) Len() int { return o.queue.Len() }

// Hold is the configured throttle hold.
func (o *Outbox) Hold() time.Duration { return o.cfg.Hold }

// Tasks exposes the loop states for operator views.
func (o *Outbox) Tasks() []rtsup.TaskState {
	o.mu.Lock()
	sup := o.sup
	o.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Tasks()
}

// PostLog implements logx.ChatPoster: records become throttled plain-text
// messages to the log chat.
func (o *Outbox) PostLog(text string) {
	if o.cfg.LogChat.ChatID == 0 {
		return
	}
	for _, p := range SplitText(text, o.cfg.MaxText) {
		if _, err := o.queue.Enqueue(Message{
			Chat:     o.cfg.LogChat,
			Text:     p,
			Options:  transport.SendOptions{DisablePreview: true, DisableNotification: true},
			Throttle: true,
		}); err != nil {
			return
		}
	}
}
