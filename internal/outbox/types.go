package outbox

import (
	"context"
	"sync"
	"time"

	"rvbot/internal/transport"
)

// MaxText is the platform ceiling for a single message, in runes.
const MaxText = 4000

type Message struct {
	Chat     transport.ChatTarget
	Text     string
	Options  transport.SendOptions
	Throttle bool
}

// Receipt is the delivery handle returned by Enqueue. It is resolved exactly
// once, by the Dispatcher or by shutdown.
type Receipt struct {
	once sync.Once
	done chan struct{}
	ref  transport.MessageRef
	err  error
}

func newReceipt() *Receipt { return &Receipt{done: make(chan struct{})} }

func (r *Receipt) resolve(ref transport.MessageRef, err error) {
	r.once.Do(func() {
		r.ref = ref
		r.err = err
		close(r.done)
	})
}

// Done is closed once the message was delivered or failed.
func (r *Receipt) Done() <-chan struct{} { return r.done }

// Wait blocks until the receipt resolves or ctx ends.
func (r *Receipt) Wait(ctx context.Context) (transport.MessageRef, error) {
	select {
	case <-r.done:
		return r.ref, r.err
	case <-ctx.Done():
		return transport.MessageRef{}, ctx.Err()
	}
}

// Err returns the delivery error of a resolved receipt (nil while pending).
func (r *Receipt) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

type entry struct {
	seq        uint64
	msg        Message
	fallback   transport.SendOptions
	enqueuedAt time.Time
	receipts   []*Receipt
}

func (e *entry) resolve(ref transport.MessageRef, err error) {
	for _, r := range e.receipts {
		r.resolve(ref, err)
	}
}

// PendingInfo describes one queued entry for operator views.
type PendingInfo struct {
	Chat     transport.ChatTarget
	Throttle bool
	Age      time.Duration
	Merged   int // number of original messages carried by the entry
	Preview  string
}

// Config holds the timing knobs of the outbox loops.
type Config struct {
	IdleInterval      time.Duration // dispatcher sleep while the queue is empty
	ThrottleWait      time.Duration // dispatcher sleep while only throttled entries remain
	SendInterval      time.Duration // minimum spacing between two sends
	RateLimitDefault  time.Duration // wait when a rate-limit error carries no retry-after
	Hold              time.Duration // age at which a chat's throttled backlog is flushed
	MergeBusyInterval time.Duration // merger cadence right after a flush
	MergeIdleInterval time.Duration // merger cadence otherwise
	MaxText           int

	// LogChat receives records from the log chat sink (zero disables it).
	LogChat transport.ChatTarget
}

func (c Config) withDefaults() Config {
	if c.IdleInterval <= 0 {
		c.IdleInterval = 200 * time.Millisecond
	}
	if c.ThrottleWait <= 0 {
		c.ThrottleWait = 500 * time.Millisecond
	}
	if c.SendInterval <= 0 {
		c.SendInterval = 800 * time.Millisecond
	}
	if c.RateLimitDefault <= 0 {
		c.RateLimitDefault = 3 * time.Second
	}
	if c.Hold <= 0 {
		c.Hold = 120 * time.Second
	}
	if c.MergeBusyInterval <= 0 {
		c.MergeBusyInterval = 100 * time.Millisecond
	}
	if c.MergeIdleInterval <= 0 {
		c.MergeIdleInterval = time.Second
	}
	if c.MaxText <= 0 || c.MaxText > MaxText {
		c.MaxText = MaxText
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
