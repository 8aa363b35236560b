package outbox

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"rvbot/internal/transport"
)

// Queue is the ordered buffer shared by the Dispatcher and the Merger.
// Every scan-and-mutate sequence runs under one lock acquisition.
type Queue struct {
	mu      sync.Mutex
	entries []*entry
	seq     uint64
	closed  bool

	maxText int
	now     func() time.Time
}

func NewQueue(maxText int) *Queue {
	if maxText <= 0 || maxText > MaxText {
		maxText = MaxText
	}
	return &Queue{maxText: maxText, now: time.Now}
}

// Enqueue appends msg to the tail. Text longer than the ceiling is rejected;
// callers pre-split with SplitText.
func (q *Queue) Enqueue(msg Message) (*Receipt, error) {
	if n := utf8.RuneCountInString(msg.Text); n > q.maxText {
		return nil, fmt.Errorf("%w: %d > %d runes", ErrTooLong, n, q.maxText)
	}
	r := newReceipt()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrStopped
	}
	q.seq++
	q.entries = append(q.entries, &entry{
		seq:        q.seq,
		msg:        msg,
		fallback:   msg.Options.Fallback(),
		enqueuedAt: q.now(),
		receipts:   []*Receipt{r},
	})
	return r, nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending lists queued entries head to tail.
func (q *Queue) Pending() []PendingInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	out := make([]PendingInfo, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, PendingInfo{
			Chat:     e.msg.Chat,
			Throttle: e.msg.Throttle,
			Age:      now.Sub(e.enqueuedAt),
			Merged:   len(e.receipts),
			Preview:  preview(e.msg.Text, 40),
		})
	}
	return out
}

// popReady removes and returns the first non-throttled entry, or nil.
func (q *Queue) popReady() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.msg.Throttle {
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return e
	}
	return nil
}

// pushFront puts an entry back at the head. Used when delivery was
// interrupted by shutdown before any outcome was known.
func (q *Queue) pushFront(e *entry) {
	q.mu.Lock()
	q.entries = append([]*entry{e}, q.entries...)
	q.mu.Unlock()
}

// ForceFlush ages every throttled entry of chat so the next merge pass
// flushes it. It returns how many entries were touched.
func (q *Queue) ForceFlush(chat transport.ChatTarget, hold time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	at := q.now().Add(-hold)
	n := 0
	for _, e := range q.entries {
		if e.msg.Throttle && e.msg.Chat == chat {
			e.enqueuedAt = at
			n++
		}
	}
	return n
}

// MergeResult reports one merge pass.
type MergeResult struct {
	Chat     transport.ChatTarget
	Selected int // throttled entries taken out of the queue
	Emitted  int // merged entries appended to the tail
}

// flushDue performs one merge pass: it picks the first chat (queue order)
// whose oldest throttled entry is at least hold old, merges all of that
// chat's throttled entries and appends the result as deliverable.
func (q *Queue) flushDue(hold time.Duration) (MergeResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var order []transport.ChatTarget
	oldest := map[transport.ChatTarget]time.Time{}
	for _, e := range q.entries {
		if !e.msg.Throttle {
			continue
		}
		t, seen := oldest[e.msg.Chat]
		if !seen {
			order = append(order, e.msg.Chat)
			oldest[e.msg.Chat] = e.enqueuedAt
			continue
		}
		if e.enqueuedAt.Before(t) {
			oldest[e.msg.Chat] = e.enqueuedAt
		}
	}

	var (
		chat  transport.ChatTarget
		found bool
	)
	for _, c := range order {
		if now.Sub(oldest[c]) >= hold {
			chat, found = c, true
			break
		}
	}
	if !found {
		return MergeResult{}, false
	}

	var (
		idx   []int
		batch []*entry
	)
	for i, e := range q.entries {
		if e.msg.Throttle && e.msg.Chat == chat {
			idx = append(idx, i)
			batch = append(batch, e)
		}
	}

	merged := mergeEntries(batch, q.maxText)
	for i := len(idx) - 1; i >= 0; i-- {
		j := idx[i]
		q.entries = append(q.entries[:j], q.entries[j+1:]...)
	}
	for _, m := range merged {
		q.seq++
		m.seq = q.seq
		m.enqueuedAt = now
		m.msg.Throttle = false
		q.entries = append(q.entries, m)
	}
	return MergeResult{Chat: chat, Selected: len(batch), Emitted: len(merged)}, true
}

// mergeEntries folds adjacent entries with equal options while the
// newline-joined text stays within maxText.
func mergeEntries(batch []*entry, maxText int) []*entry {
	var (
		out  []*entry
		cur  *entry
		size int
		text strings.Builder
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.msg.Text = text.String()
		out = append(out, cur)
		cur = nil
	}
	for _, e := range batch {
		n := utf8.RuneCountInString(e.msg.Text)
		if cur != nil &&
			cur.msg.Options == e.msg.Options &&
			cur.fallback == e.fallback &&
			size+1+n <= maxText {
			text.WriteByte('\n')
			text.WriteString(e.msg.Text)
			size += 1 + n
			cur.receipts = append(cur.receipts, e.receipts...)
			continue
		}
		flush()
		cur = &entry{
			msg:      e.msg,
			fallback: e.fallback,
			receipts: append([]*Receipt(nil), e.receipts...),
		}
		text.Reset()
		text.WriteString(e.msg.Text)
		size = n
	}
	flush()
	return out
}

// releaseThrottled merges every throttled backlog regardless of age.
func (q *Queue) releaseThrottled() int {
	n := 0
	for {
		res, ok := q.flushDue(0)
		if !ok {
			return n
		}
		n += res.Selected
	}
}

// close stops intake. Already queued entries stay.
func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// rejectAll fails every remaining entry with err and empties the queue.
func (q *Queue) rejectAll(err error) int {
	q.mu.Lock()
	rest := q.entries
	q.entries = nil
	q.mu.Unlock()
	for _, e := range rest {
		e.resolve(transport.MessageRef{}, err)
	}
	return len(rest)
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", `\n`)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
