package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rvbot/internal/marks"
	logx "rvbot/pkg/logx"
	"rvbot/pkg/tgui"
)

func (m *Manager) defaultCommands() []Command {
	return []Command{
		{Name: "add", Description: "claim packages", Usage: "/add pkg [pkg...]", Handle: m.handleAdd},
		{Name: "merge", Description: "release packages after they were merged", Usage: "/merge pkg [pkg...]", Handle: m.handleRelease},
		{Name: "drop", Description: "give up packages", Usage: "/drop pkg [pkg...]", Handle: m.handleRelease},
		{Name: "mark", Description: "mark a package", Usage: "/mark pkg mark [comment]", Handle: m.handleMark},
		{Name: "unmark", Description: "remove a mark, or all of yours", Usage: "/unmark pkg mark|all", Handle: m.handleUnmark},
		{Name: "status", Description: "who works on what", Usage: "/status", Handle: m.handleStatus},
		{Name: "more", Description: "details of a package, or the mark list", Usage: "/more [pkg]", Handle: m.handleMore},
		{Name: "queue", Description: "pending outbound messages", Usage: "/queue", Access: AccessAdminOnly, Handle: m.handleQueue},
		{Name: "flush", Description: "deliver the group's throttled messages now", Usage: "/flush", Access: AccessAdminOnly, Handle: m.handleFlush},
		{Name: "help", Description: "show this help", Usage: "/help [command]", Handle: m.handleHelp},
	}
}

func usage(ctx context.Context, req *Request) error {
	if c, ok := req.m.lookup(req.Command); ok {
		return req.Reply(ctx, tgui.JoinH(" ", tgui.Raw("usage:"), tgui.Code(c.Usage)))
	}
	return nil
}

func (m *Manager) handleAdd(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return usage(ctx, req)
	}
	var claimed []tgui.H
	var notes tgui.Lines
	for _, pkg := range req.Args {
		res, err := m.eng.Claim(ctx, pkg, req.Actor)
		if err != nil {
			notes.Add(tgui.Esc(marks.Reason(err)))
			continue
		}
		claimed = append(claimed, tgui.Code(pkg))
		if len(res.ExistingMarks) > 0 {
			notes.Add(tgui.JoinH(" ", tgui.B("heads up:"), tgui.Code(pkg), tgui.Raw("is marked"), m.eng.FormatMarks(res.ExistingMarks)))
		}
	}
	return m.replyBatch(ctx, req, "claimed", claimed, notes)
}

// replyBatch answers a multi-package command: one summary line for the
// packages that succeeded, mirrored to the group, then the notes.
func (m *Manager) replyBatch(ctx context.Context, req *Request, verb string, done []tgui.H, notes tgui.Lines) error {
	if len(done) == 0 {
		return req.Reply(ctx, notes.H())
	}
	line := tgui.JoinH(" ", tgui.Raw(verb), tgui.JoinH(", ", done...))
	req.Mirror(ctx, tgui.JoinH(" ", m.eng.Mention(req.FromID), line))
	return req.Reply(ctx, tgui.JoinH("\n", line, notes.H()))
}

func (m *Manager) handleRelease(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return usage(ctx, req)
	}
	verb := "dropped"
	if req.Command == "merge" {
		verb = "merged"
	}
	var done []tgui.H
	var notes tgui.Lines
	for _, pkg := range req.Args {
		if err := m.eng.Release(ctx, pkg, req.Actor); err != nil {
			notes.Add(tgui.Esc(marks.Reason(err)))
			continue
		}
		done = append(done, tgui.Code(pkg))
	}
	return m.replyBatch(ctx, req, verb, done, notes)
}

func (m *Manager) handleMark(ctx context.Context, req *Request) error {
	words, comment := splitArgs(req.Rest, 2)
	if len(words) < 2 {
		return usage(ctx, req)
	}
	pkg, mark := words[0], strings.ToLower(words[1])
	res, err := m.eng.SetMark(ctx, pkg, mark, comment, req.Actor)
	if err != nil {
		return req.Reply(ctx, tgui.Esc(marks.Reason(err)))
	}
	rec, _ := m.eng.Store().Mark(pkg, mark)
	reply := tgui.JoinH(" ", tgui.Code(pkg), tgui.Raw("is now"), m.eng.FormatMark(rec))
	if t := res.Triggered(); len(t) > 0 {
		reply = tgui.JoinH("\n", reply, describeTriggered(t))
	}
	reply = tgui.JoinH("\n", reply, m.touch(ctx, req, pkg))
	req.Mirror(ctx, tgui.JoinH(" ", m.eng.Mention(req.FromID)+":", reply))
	return req.Reply(ctx, reply)
}

// touch refreshes the owner's activity time. A failed claims write is logged
// and returned as a note for the reply.
func (m *Manager) touch(ctx context.Context, req *Request, pkg string) tgui.H {
	err := m.eng.Touch(ctx, pkg)
	if err == nil {
		return ""
	}
	req.Logger.Warn("activity not saved", logx.String("pkg", pkg), logx.Err(err))
	return tgui.I(marks.Reason(err))
}

func describeTriggered(changes []marks.Change) tgui.H {
	parts := make([]tgui.H, len(changes))
	for i, c := range changes {
		sign := "+"
		if c.Op == marks.OpUnmark {
			sign = "-"
		}
		parts[i] = tgui.Esc(sign + "#" + c.Mark)
	}
	return tgui.JoinH(" ", tgui.I("also:"), tgui.JoinH(" ", parts...))
}

func (m *Manager) handleUnmark(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		return usage(ctx, req)
	}
	pkg, mark := req.Args[0], strings.ToLower(req.Args[1])
	if mark == "all" {
		outcomes, err := m.eng.ClearAllUserClearable(ctx, pkg, req.Actor)
		if len(outcomes) == 0 && err != nil {
			return req.Reply(ctx, tgui.Esc(marks.Reason(err)))
		}
		var cleared []tgui.H
		for _, o := range outcomes {
			if o.Err == nil {
				cleared = append(cleared, tgui.Esc("#"+o.Mark))
			}
		}
		var l tgui.Lines
		if len(cleared) > 0 {
			l.Add(tgui.JoinH(" ", tgui.Code(pkg), tgui.Raw("cleared"), tgui.JoinH(" ", cleared...)))
		}
		if err != nil {
			l.Add(tgui.Esc(marks.Reason(err)))
		}
		if l.Len() == 0 {
			l.Add(tgui.JoinH(" ", tgui.Raw("nothing on"), tgui.Code(pkg), tgui.Raw("you can clear")))
		}
		return req.Reply(ctx, tgui.JoinH("\n", l.H(), m.touch(ctx, req, pkg)))
	}

	res, err := m.eng.ClearMark(ctx, pkg, mark, req.Actor)
	if err != nil {
		return req.Reply(ctx, tgui.Esc(marks.Reason(err)))
	}
	reply := tgui.JoinH(" ", tgui.Code(pkg), tgui.Raw("is no longer marked as"), tgui.Esc("#"+mark))
	if t := res.Triggered(); len(t) > 0 {
		reply = tgui.JoinH("\n", reply, describeTriggered(t))
	}
	reply = tgui.JoinH("\n", reply, m.touch(ctx, req, pkg))
	req.Mirror(ctx, tgui.JoinH(" ", m.eng.Mention(req.FromID)+":", reply))
	return req.Reply(ctx, reply)
}

func (m *Manager) handleStatus(ctx context.Context, req *Request) error {
	entries := m.eng.Status()
	if len(entries) == 0 {
		return req.Reply(ctx, tgui.I("nobody claimed anything"))
	}
	var l tgui.Lines
	for _, e := range entries {
		names := make([]tgui.H, len(e.Packages))
		for i, p := range e.Packages {
			names[i] = tgui.Code(p.Name)
		}
		l.Add(tgui.JoinH(" ", tgui.B(e.Alias+":"), tgui.JoinH(" ", names...)))
	}
	return req.Reply(ctx, l.H())
}

func (m *Manager) handleMore(ctx context.Context, req *Request) error {
	if len(req.Args) > 0 {
		var parts []tgui.H
		for _, pkg := range req.Args {
			parts = append(parts, m.eng.Describe(pkg))
		}
		return req.Reply(ctx, tgui.JoinH("\n\n", parts...))
	}
	defs := m.eng.Definitions()
	var l tgui.Lines
	l.Add(tgui.B("marks"))
	for _, name := range defs.Names() {
		d, _ := defs.Get(name)
		flags := []string{}
		if d.CommentRequired {
			flags = append(flags, "comment required")
		}
		if !d.UserCanSet {
			flags = append(flags, "set by CI only")
		}
		line := tgui.JoinH(" ", tgui.Code(name), tgui.Esc(d.Description))
		if len(flags) > 0 {
			line = tgui.JoinH(" ", line, tgui.I("("+strings.Join(flags, ", ")+")"))
		}
		l.Add(line)
	}
	return req.Reply(ctx, l.H())
}

func (m *Manager) handleQueue(ctx context.Context, req *Request) error {
	pending := m.out.Pending()
	if len(pending) == 0 {
		return req.Reply(ctx, tgui.I("outbox empty"))
	}
	var l tgui.Lines
	l.Add(tgui.B(fmt.Sprintf("%d pending", len(pending))))
	for i, p := range pending {
		if i == 20 {
			l.Add(tgui.I(fmt.Sprintf("… %d more", len(pending)-i)))
			break
		}
		kind := "send"
		if p.Throttle {
			kind = "hold"
		}
		l.Add(tgui.JoinH(" ",
			tgui.Code(fmt.Sprintf("%d/%d", p.Chat.ChatID, p.Chat.ThreadID)),
			tgui.Esc(kind),
			tgui.Esc(p.Age.Round(time.Second).String()),
			tgui.Esc(tgui.TruncRunes(p.Preview, 60)),
		))
	}
	return req.Reply(ctx, l.H())
}

func (m *Manager) handleFlush(ctx context.Context, req *Request) error {
	chat := m.Settings().Group
	if chat.ChatID == 0 {
		chat = req.Chat
	}
	n := m.out.ForceFlush(chat)
	return req.Reply(ctx, tgui.Esc(fmt.Sprintf("%d throttled messages due now", n)))
}

func (m *Manager) handleHelp(ctx context.Context, req *Request) error {
	return req.Reply(ctx, m.helpText(req.Args))
}
