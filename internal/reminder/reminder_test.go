package reminder

import (
	"context"
	"strings"
	"testing"
	"time"

	"rvbot/internal/marks"
	"rvbot/internal/storage"
	logx "rvbot/pkg/logx"
	"rvbot/pkg/tgui"
)

type fakeSource struct {
	entries []marks.StatusEntry
	sent    []tgui.H
}

func (f *fakeSource) Status() []marks.StatusEntry { return f.entries }
func (f *fakeSource) Mention(uid int64) tgui.H {
	return tgui.Mention("u", uid)
}
func (f *fakeSource) Notify(_ context.Context, h tgui.H, throttle bool) {
	if !throttle {
		panic("reminders must be throttled")
	}
	f.sent = append(f.sent, h)
}

func TestRunOnceRemindsIdleOwners(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{entries: []marks.StatusEntry{
		{UserID: 1, Alias: "alice", Packages: []storage.PackageRef{
			{Name: "gcc", LastActive: now.Add(-10 * 24 * time.Hour).UnixMilli()},
			{Name: "zlib", LastActive: now.Add(-time.Hour).UnixMilli()},
		}},
		{UserID: 2, Alias: "bob", Packages: []storage.PackageRef{
			{Name: "llvm", LastActive: now.Add(-time.Minute).UnixMilli()},
		}},
	}}
	s := New(Config{IdleAfter: 7 * 24 * time.Hour}, src, logx.Nop())
	s.now = func() time.Time { return now }

	if n := s.RunOnce(context.Background()); n != 1 {
		t.Fatalf("reminded %d users, want 1", n)
	}
	if len(src.sent) != 1 {
		t.Fatalf("sent = %v", src.sent)
	}
	msg := src.sent[0].String()
	if !strings.Contains(msg, "<code>gcc</code>") || !strings.Contains(msg, "10d") || strings.Contains(msg, "zlib") {
		t.Fatalf("reminder = %q", msg)
	}
}

func TestRunOnceDisabledWithoutIdleThreshold(t *testing.T) {
	t.Parallel()
	src := &fakeSource{entries: []marks.StatusEntry{
		{UserID: 1, Packages: []storage.PackageRef{{Name: "gcc"}}},
	}}
	s := New(Config{}, src, logx.Nop())
	if n := s.RunOnce(context.Background()); n != 0 || len(src.sent) != 0 {
		t.Fatalf("n = %d, sent = %v", n, src.sent)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Schedule: "not a cron"}, &fakeSource{}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
	if err := s.Validate("@daily"); err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if err := s.Validate("0 30 9 * * *"); err != nil {
		t.Fatalf("six fields: %v", err)
	}
}

func TestApplyRestartsSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeSource{}, logx.Nop())
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if s.c != nil {
		t.Fatal("disabled service must not schedule")
	}
	if err := s.Apply(Config{Enabled: true, Schedule: "@hourly", IdleAfter: time.Hour}); err != nil {
		t.Fatal(err)
	}
	if s.c == nil {
		t.Fatal("apply must start the schedule")
	}
	s.Stop(ctx)
	if s.c != nil {
		t.Fatal("stop must clear the schedule")
	}
}
