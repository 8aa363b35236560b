package adapter

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "rvbot/internal/transport"
)

func TestMapSendErrorFlood(t *testing.T) {
	// FloodError built outside telebot has no message, so it is never
	// formatted here.
	err := mapSendError(tele.FloodError{RetryAfter: 7})
	var rl *kit.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("want RateLimitError, got %T", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Fatalf("retry after = %v", rl.RetryAfter)
	}

	plain := errors.New("bad request")
	if got := mapSendError(plain); got != plain {
		t.Fatalf("non-flood error changed: %v", got)
	}
}

func TestTeleOptions(t *testing.T) {
	chat := &tele.Chat{ID: -100}
	so := teleOptions(chat, 9, &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true, ReplyTo: 42})
	if so.ThreadID != 9 || so.ParseMode != tele.ModeHTML || !so.DisableWebPagePreview {
		t.Fatalf("options = %+v", so)
	}
	if so.ReplyTo == nil || so.ReplyTo.ID != 42 || so.ReplyTo.Chat != chat {
		t.Fatalf("reply = %+v", so.ReplyTo)
	}
	if so := teleOptions(chat, 0, nil); so.ReplyTo != nil || so.ParseMode != "" {
		t.Fatalf("nil options = %+v", so)
	}
}

func TestMenuListLimitsAndHash(t *testing.T) {
	var cmds []kit.BotCommand
	for i := 0; i < 120; i++ {
		cmds = append(cmds, kit.BotCommand{Command: fmt.Sprintf("c%d", i)})
	}
	cmds[0].Description = strings.Repeat("x", 300)
	cmds = append([]kit.BotCommand{{Command: ""}}, cmds...)

	list, sum := menuList(cmds)
	if len(list) != maxMenuCommands {
		t.Fatalf("len = %d", len(list))
	}
	if len(list[0].Description) != maxMenuDescription {
		t.Fatalf("description not truncated: %d", len(list[0].Description))
	}
	if list[1].Description != "c1" {
		t.Fatalf("empty description should default to the command, got %q", list[1].Description)
	}
	if _, again := menuList(cmds); again != sum {
		t.Fatal("hash is not stable")
	}
	if _, other := menuList(cmds[:10]); other == sum {
		t.Fatal("different menus hash equal")
	}
}
