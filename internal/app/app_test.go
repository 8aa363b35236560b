package app

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"rvbot/internal/outbox"
	"rvbot/internal/storage"
	kit "rvbot/internal/transport"
	telegram "rvbot/internal/transport/telegram/adapter"
	logx "rvbot/pkg/logx"
)

// journal records side effects from every fake in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeTelegram struct {
	j *journal
}

func (f *fakeTelegram) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.j.add("send:" + text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeTelegram) Start(context.Context, chan<- kit.Update) error {
	f.j.add("telegram.start")
	return nil
}

func (f *fakeTelegram) Stop(context.Context) error {
	f.j.add("telegram.stop")
	return nil
}

func (f *fakeTelegram) UpdateMenuCommands(context.Context, []kit.BotCommand) error {
	f.j.add("menu")
	return nil
}

func (f *fakeTelegram) BotID() int64     { return 99 }
func (f *fakeTelegram) Username() string { return "rvbot" }

type journalBackend struct {
	j *journal
}

func (b *journalBackend) Load(context.Context, storage.Kind) ([]byte, error) { return nil, nil }

func (b *journalBackend) Save(_ context.Context, kind storage.Kind, _ []byte) error {
	b.j.add("save:" + string(kind))
	return nil
}

func (b *journalBackend) Close() error {
	b.j.add("close")
	return nil
}

const testConfig = `{
  "telegram": {"token": "1:abc", "group_chat": -100, "admin_user_ids": [7]},
  "logging": {"level": "error"},
  "outbox": {"hold": "1h", "send_interval": "10ms"},
  "storage": {"driver": "file"},
  "marks": {"timezone": "UTC"},
  "reminder": {"enabled": false}
}`

func newTestApp(t *testing.T) (*App, *journal) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	j := &journal{}
	a, err := build(path, connectors{
		dialTelegram: func(telegram.Config, logx.Logger) (Telegram, error) { return &fakeTelegram{j: j}, nil },
		openStorage:  func(storage.Config, logx.Logger) (storage.Backend, error) { return &journalBackend{j: j}, nil },
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return a, j
}

func indexOf(entries []string, s string) int { return slices.Index(entries, s) }

func lastIndexOf(entries []string, s string) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i] == s {
			return i
		}
	}
	return -1
}

func TestStartStopDrainsOutboxBeforeFlush(t *testing.T) {
	a, j := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := j.all(); indexOf(got, "telegram.start") < 0 || indexOf(got, "menu") < 0 {
		t.Fatalf("start did not reach telegram: %q", got)
	}

	// Held for an hour by the merger; only shutdown releases it.
	if _, err := a.out.Send(ctx, outbox.Message{Chat: kit.ChatTarget{ChatID: -100}, Text: "held", Throttle: true}); err != nil {
		t.Fatal(err)
	}

	sctx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer scancel()
	if err := a.Stop(sctx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := j.all()
	stop, sent := indexOf(got, "telegram.stop"), indexOf(got, "send:held")
	claims, marks := lastIndexOf(got, "save:claims"), lastIndexOf(got, "save:marks")
	closed := indexOf(got, "close")
	switch {
	case stop < 0 || sent < 0 || claims < 0 || marks < 0 || closed < 0:
		t.Fatalf("missing shutdown steps: %q", got)
	case stop > sent:
		t.Fatalf("intake must stop before the outbox drains: %q", got)
	case sent > claims || sent > marks:
		t.Fatalf("outbox must drain before state is flushed: %q", got)
	case closed < claims || closed < marks || closed != len(got)-1:
		t.Fatalf("backend must close last: %q", got)
	}
	if err := a.Err(); err != nil {
		t.Fatalf("Err after clean stop = %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"telegram": {"token": "1:abc"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := build(path, connectors{
		dialTelegram: func(telegram.Config, logx.Logger) (Telegram, error) {
			t.Fatal("telegram must not be dialed with an invalid config")
			return nil, nil
		},
		openStorage: storage.Open,
	})
	if err == nil {
		t.Fatal("expected error for missing group_chat")
	}
}

func TestMappingCarriesGroupAndAdmins(t *testing.T) {
	a, _ := newTestApp(t)
	s := a.cmdm.Settings()
	if s.Group.ChatID != -100 || !slices.Equal(s.Admins, []int64{7}) || s.BotName != "rvbot" {
		t.Fatalf("router settings = %+v", s)
	}
}
