package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"rvbot/internal/transport"
	logx "rvbot/pkg/logx"
)

type sendCall struct {
	chat transport.ChatTarget
	text string
	opt  transport.SendOptions
}

// fakeSender records every call; fail, when set, decides the outcome of
// each attempt by its zero-based index.
type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	fail  func(i int, c sendCall) error
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := sendCall{chat: to, text: text}
	if opt != nil {
		c.opt = *opt
	}
	i := len(f.calls)
	f.calls = append(f.calls, c)
	if f.fail != nil {
		if err := f.fail(i, c); err != nil {
			return transport.MessageRef{}, err
		}
	}
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: i + 1}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.text
	}
	return out
}

func testConfig() Config {
	return Config{
		IdleInterval:      time.Millisecond,
		ThrottleWait:      time.Millisecond,
		SendInterval:      time.Microsecond,
		RateLimitDefault:  time.Millisecond,
		Hold:              120 * time.Second,
		MergeBusyInterval: time.Millisecond,
		MergeIdleInterval: time.Millisecond,
	}
}

var (
	chatA = transport.ChatTarget{ChatID: 100}
	chatB = transport.ChatTarget{ChatID: 200}
)

func mustEnqueue(t *testing.T, q *Queue, m Message) *Receipt {
	t.Helper()
	r, err := q.Enqueue(m)
	if err != nil {
		t.Fatalf("Enqueue(%q): %v", m.Text, err)
	}
	return r
}

func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.Drain(ctx)
}

func TestDispatcherFIFOSkipsThrottled(t *testing.T) {
	t.Parallel()
	q := NewQueue(0)
	s := &fakeSender{}
	d := NewDispatcher(q, s, testConfig(), logx.Nop(), nil)

	mustEnqueue(t, q, Message{Chat: chatA, Text: "1"})
	mustEnqueue(t, q, Message{Chat: chatA, Text: "quiet", Throttle: true})
	mustEnqueue(t, q, Message{Chat: chatA, Text: "2"})
	mustEnqueue(t, q, Message{Chat: chatB, Text: "3"})
	drain(t, d)

	got := strings.Join(s.texts(), ",")
	if got != "1,2,3" {
		t.Fatalf("delivered %q, want 1,2,3", got)
	}
	if q.Len() != 1 {
		t.Fatalf("throttled entry must stay queued, len=%d", q.Len())
	}
}

func TestDispatcherRateLimitRetriesWithFallback(t *testing.T) {
	t.Parallel()
	q := NewQueue(0)
	s := &fakeSender{fail: func(i int, _ sendCall) error {
		if i == 0 {
			return &transport.RateLimitError{RetryAfter: time.Millisecond}
		}
		return nil
	}}
	d := NewDispatcher(q, s, testConfig(), logx.Nop(), nil)

	r := mustEnqueue(t, q, Message{Chat: chatA, Text: "hi", Options: transport.SendOptions{
		ParseMode: transport.ParseModeMarkdownV2, ReplyTo: 9, DisableNotification: true,
	}})
	drain(t, d)

	ref, err := r.Wait(context.Background())
	if err != nil {
		t.Fatalf("receipt err = %v", err)
	}
	if ref.MessageID != 2 {
		t.Fatalf("ref = %+v, want the retry's message", ref)
	}
	want := transport.SendOptions{ParseMode: transport.ParseModeMarkdown, DisableNotification: true}
	if got := s.calls[1].opt; got != want {
		t.Fatalf("retry options = %+v, want %+v", got, want)
	}
}

func TestDispatcherGenericFailureRetriesOnceThenFails(t *testing.T) {
	t.Parallel()
	q := NewQueue(0)
	platformErr := errors.New("Bad Request: can't parse entities")
	s := &fakeSender{fail: func(int, sendCall) error { return platformErr }}
	d := NewDispatcher(q, s, testConfig(), logx.Nop(), nil)

	r := mustEnqueue(t, q, Message{Chat: chatA, Text: "*broken"})
	next := mustEnqueue(t, q, Message{Chat: chatA, Text: "next"})
	s.fail = func(i int, c sendCall) error {
		if c.text == "next" {
			return nil
		}
		return platformErr
	}
	drain(t, d)

	_, err := r.Wait(context.Background())
	if !errors.Is(err, ErrDeliveryFailed) || !errors.Is(err, platformErr) {
		t.Fatalf("err = %v, want DeliveryFailed wrapping platform error", err)
	}
	var de *DeliveryError
	if !errors.As(err, &de) || de.Attempts != 2 {
		t.Fatalf("err = %#v, want *DeliveryError with 2 attempts", err)
	}
	if _, err := next.Wait(context.Background()); err != nil {
		t.Fatalf("later message should still be delivered: %v", err)
	}
	if n := len(s.calls); n != 3 {
		t.Fatalf("calls = %d, want 3 (two attempts + next)", n)
	}
}

func TestQueueRejectsTooLong(t *testing.T) {
	t.Parallel()
	q := NewQueue(10)
	if _, err := q.Enqueue(Message{Chat: chatA, Text: strings.Repeat("x", 11)}); !errors.Is(err, ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
	if _, err := q.Enqueue(Message{Chat: chatA, Text: strings.Repeat("é", 10)}); err != nil {
		t.Fatalf("10 runes must fit: %v", err)
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedQueue(maxText int) (*Queue, *clock) {
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(maxText)
	q.now = c.now
	return q, c
}

func TestMergerFlushesWholeBacklogOfAgedChat(t *testing.T) {
	t.Parallel()
	q, c := newClockedQueue(0)
	m := NewMerger(q, testConfig(), logx.Nop(), nil)

	r1 := mustEnqueue(t, q, Message{Chat: chatA, Text: "a1", Throttle: true})
	c.advance(100 * time.Second)
	r2 := mustEnqueue(t, q, Message{Chat: chatA, Text: "a2", Throttle: true})
	mustEnqueue(t, q, Message{Chat: chatB, Text: "b1", Throttle: true})

	if _, ok := m.Tick(); ok {
		t.Fatal("nothing is older than hold yet")
	}
	c.advance(20 * time.Second)
	res, ok := m.Tick()
	if !ok || res.Chat != chatA || res.Selected != 2 || res.Emitted != 1 {
		t.Fatalf("Tick() = %+v, %v", res, ok)
	}

	p := q.Pending()
	if len(p) != 2 || p[0].Chat != chatB || !p[0].Throttle || p[1].Chat != chatA || p[1].Throttle || p[1].Merged != 2 {
		t.Fatalf("pending after merge = %+v", p)
	}

	s := &fakeSender{}
	d := NewDispatcher(q, s, testConfig(), logx.Nop(), nil)
	drain(t, d)
	if got := s.texts(); len(got) != 1 || got[0] != "a1\na2" {
		t.Fatalf("delivered %q", got)
	}
	ref1, err1 := r1.Wait(context.Background())
	ref2, err2 := r2.Wait(context.Background())
	if err1 != nil || err2 != nil || ref1 != ref2 {
		t.Fatalf("merged receipts must resolve together: %v %v %+v %+v", err1, err2, ref1, ref2)
	}
}

func TestMergerRespectsCeilingAndOptions(t *testing.T) {
	t.Parallel()
	q, c := newClockedQueue(10)
	m := NewMerger(q, testConfig(), logx.Nop(), nil)

	html := transport.SendOptions{ParseMode: transport.ParseModeHTML}
	mustEnqueue(t, q, Message{Chat: chatA, Text: "aaaa", Throttle: true})
	mustEnqueue(t, q, Message{Chat: chatA, Text: "bbbbb", Throttle: true}) // 4+1+5 = 10 fits
	mustEnqueue(t, q, Message{Chat: chatA, Text: "c", Throttle: true})     // would be 12
	mustEnqueue(t, q, Message{Chat: chatA, Text: "d", Throttle: true, Options: html})
	mustEnqueue(t, q, Message{Chat: chatA, Text: "e", Throttle: true})
	c.advance(121 * time.Second)

	res, ok := m.Tick()
	if !ok || res.Selected != 5 || res.Emitted != 4 {
		t.Fatalf("Tick() = %+v, %v", res, ok)
	}
	s := &fakeSender{}
	drain(t, NewDispatcher(q, s, testConfig(), logx.Nop(), nil))
	got := s.texts()
	want := []string{"aaaa\nbbbbb", "c", "d", "e"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("delivered %q, want %q", got, want)
	}
	for _, txt := range got {
		if len([]rune(txt)) > 10 {
			t.Fatalf("merged body exceeds ceiling: %q", txt)
		}
	}
	if s.calls[2].opt != html {
		t.Fatalf("entry with different options must keep them, got %+v", s.calls[2].opt)
	}
}

func TestForceFlush(t *testing.T) {
	t.Parallel()
	q, _ := newClockedQueue(0)
	cfg := testConfig()
	m := NewMerger(q, cfg, logx.Nop(), nil)
	mustEnqueue(t, q, Message{Chat: chatA, Text: "x", Throttle: true})
	mustEnqueue(t, q, Message{Chat: chatB, Text: "y", Throttle: true})

	if n := q.ForceFlush(chatB, cfg.Hold); n != 1 {
		t.Fatalf("ForceFlush touched %d entries, want 1", n)
	}
	res, ok := m.Tick()
	if !ok || res.Chat != chatB {
		t.Fatalf("Tick() = %+v, %v; want chat B flushed", res, ok)
	}
	if _, ok := m.Tick(); ok {
		t.Fatal("chat A is not due")
	}
}

func TestSplitTextBalancesFences(t *testing.T) {
	t.Parallel()
	body := "```" + strings.Repeat("x", 30) + "```"
	parts := SplitText(body, 20)
	if len(parts) < 2 {
		t.Fatalf("expected several parts, got %q", parts)
	}
	for _, p := range parts {
		if n := len([]rune(p)); n > 20 {
			t.Fatalf("part too long (%d): %q", n, p)
		}
		if strings.Count(p, "```")%2 != 0 {
			t.Fatalf("unbalanced fences in %q", p)
		}
	}
	if got := SplitText("short", 20); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text must be untouched, got %q", got)
	}
}

func TestOutboxSendSplitsAndDelivers(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	cfg := testConfig()
	cfg.MaxText = 10
	o := New(cfg, s, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	if _, err := o.SendWait(wctx, Message{Chat: chatA, Text: "0123456789abcdef"}); err != nil {
		t.Fatalf("SendWait: %v", err)
	}
	if got := strings.Join(s.texts(), ""); got != "0123456789abcdef" {
		t.Fatalf("parts reassemble to %q", got)
	}
	o.Stop(wctx)
}

func TestOutboxStopReleasesThrottledAndRejectsLate(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	o := New(testConfig(), s, logx.Nop(), nil)
	r, err := o.Enqueue(Message{Chat: chatA, Text: "later", Throttle: true})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	o.Stop(ctx)

	if _, err := r.Wait(ctx); err != nil {
		t.Fatalf("throttled entry should be delivered on stop: %v", err)
	}
	if _, err := o.Enqueue(Message{Chat: chatA, Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after Stop = %v, want ErrStopped", err)
	}
}

func TestPostLogQueuesThrottled(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.LogChat = transport.ChatTarget{ChatID: 7}
	o := New(cfg, &fakeSender{}, logx.Nop(), nil)
	o.PostLog("[WARN] something")
	p := o.Pending()
	if len(p) != 1 || !p[0].Throttle || p[0].Chat.ChatID != 7 {
		t.Fatalf("pending = %+v", p)
	}
}
