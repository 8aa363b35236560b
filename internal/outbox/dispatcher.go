package outbox

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"rvbot/internal/eventbus"
	"rvbot/internal/transport"
	logx "rvbot/pkg/logx"
)

// Dispatcher drains deliverable entries one at a time, head to tail.
type Dispatcher struct {
	q       *Queue
	sender  transport.Sender
	cfg     Config
	limiter *rate.Limiter
	log     logx.Logger
	bus     eventbus.Bus
}

func NewDispatcher(q *Queue, sender transport.Sender, cfg Config, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		q:       q,
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.SendInterval), 1),
		log:     log,
		bus:     bus,
	}
}

// Run loops until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.q.Len() == 0 {
			if err := sleepCtx(ctx, d.cfg.IdleInterval); err != nil {
				return err
			}
			continue
		}
		sent, err := d.step(ctx)
		if err != nil {
			return err
		}
		if !sent {
			if err := sleepCtx(ctx, d.cfg.ThrottleWait); err != nil {
				return err
			}
		}
	}
}

// Drain delivers whatever is deliverable until the queue holds no more
// deliverable entries or ctx ends. Used during shutdown.
func (d *Dispatcher) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		sent, err := d.step(ctx)
		if err != nil || !sent {
			break
		}
		n++
	}
	return n
}

// step takes the first deliverable entry and delivers it. sent is false
// when nothing was deliverable. A non-nil error means ctx ended before the
// entry had an outcome; the entry is back at the head of the queue.
func (d *Dispatcher) step(ctx context.Context) (sent bool, err error) {
	e := d.q.popReady()
	if e == nil {
		return false, nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		d.q.pushFront(e)
		return false, err
	}
	if err := d.deliver(ctx, e); err != nil {
		d.q.pushFront(e)
		return false, err
	}
	return true, nil
}

func (d *Dispatcher) deliver(ctx context.Context, e *entry) error {
	opts := e.msg.Options
	ref, err := d.sender.SendText(ctx, e.msg.Chat, e.msg.Text, &opts)
	if err == nil {
		d.succeed(e, ref, 1)
		return nil
	}

	if wait, limited := transport.RetryAfter(err); limited {
		if wait <= 0 {
			wait = d.cfg.RateLimitDefault
		}
		d.log.Warn("rate limited, backing off",
			logx.Int64("chat_id", e.msg.Chat.ChatID),
			logx.Duration("wait", wait),
		)
		if serr := sleepCtx(ctx, wait); serr != nil {
			return serr
		}
	} else {
		d.log.Debug("send failed, retrying with fallback options",
			logx.Int64("chat_id", e.msg.Chat.ChatID),
			logx.Err(err),
		)
	}

	fb := e.fallback
	ref, err2 := d.sender.SendText(ctx, e.msg.Chat, e.msg.Text, &fb)
	if err2 == nil {
		d.succeed(e, ref, 2)
		return nil
	}
	if errors.Is(err2, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}

	derr := &DeliveryError{Chat: e.msg.Chat, Attempts: 2, Err: err2}
	e.resolve(transport.MessageRef{}, derr)
	d.log.Error("delivery failed",
		logx.Int64("chat_id", e.msg.Chat.ChatID),
		logx.Int("receipts", len(e.receipts)),
		logx.Err(err2),
	)
	d.publish(eventbus.OutboxFailed, e, derr)
	return nil
}

func (d *Dispatcher) succeed(e *entry, ref transport.MessageRef, attempts int) {
	e.resolve(ref, nil)
	d.log.Debug("message sent",
		logx.Int64("chat_id", e.msg.Chat.ChatID),
		logx.Int("message_id", ref.MessageID),
		logx.Int("attempts", attempts),
	)
	d.publish(eventbus.OutboxSent, e, nil)
}

func (d *Dispatcher) publish(typ string, e *entry, err error) {
	if d.bus == nil {
		return
	}
	data := map[string]any{
		"chat_id":   e.msg.Chat.ChatID,
		"thread_id": e.msg.Chat.ThreadID,
		"receipts":  len(e.receipts),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
