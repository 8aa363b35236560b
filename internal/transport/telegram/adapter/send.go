package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "rvbot/internal/transport"
	logx "rvbot/pkg/logx"
)

// Telegram limits for setMyCommands.
const (
	maxMenuCommands    = 100
	maxMenuDescription = 256
)

// SendText sends text as is; the outbox has already split it.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	chat := &tele.Chat{ID: to.ChatID}
	msg, err := a.bot.Send(chat, text, teleOptions(chat, to.ThreadID, opt))
	if err != nil {
		return kit.MessageRef{}, mapSendError(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func teleOptions(chat *tele.Chat, thread int, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: thread}
	if opt == nil {
		return so
	}
	so.ParseMode = tele.ParseMode(opt.ParseMode)
	so.DisableWebPagePreview = opt.DisablePreview
	so.DisableNotification = opt.DisableNotification
	if opt.ReplyTo != 0 {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
	}
	return so
}

// mapSendError reports flood control as *kit.RateLimitError so the
// dispatcher can honour retry_after.
func mapSendError(err error) error {
	retry := -1
	var fe tele.FloodError
	var fp *tele.FloodError
	switch {
	case errors.As(err, &fe):
		retry = fe.RetryAfter
	case errors.As(err, &fp) && fp != nil:
		retry = fp.RetryAfter
	}
	if retry < 0 {
		return err
	}
	return &kit.RateLimitError{RetryAfter: time.Duration(retry) * time.Second, Err: err}
}

// UpdateMenuCommands publishes the command menu. Unchanged lists are not
// sent again.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	list, sum := menuList(cmds)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuSum {
		return nil
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuSum = sum
	a.log.Info("command menu published", logx.Int("count", len(list)))
	return nil
}

func menuList(cmds []kit.BotCommand) ([]tele.Command, uint64) {
	h := fnv.New64a()
	list := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	for _, c := range cmds {
		if len(list) == maxMenuCommands {
			break
		}
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if len(desc) > maxMenuDescription {
			desc = desc[:maxMenuDescription]
		}
		h.Write([]byte(c.Command + "\x00" + desc + "\x00"))
		list = append(list, tele.Command{Text: c.Command, Description: desc})
	}
	return list, h.Sum64()
}
