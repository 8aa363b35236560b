package marks

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"rvbot/internal/barrier"
	"rvbot/internal/storage"
	logx "rvbot/pkg/logx"
	"rvbot/pkg/tgui"
)

// DependentChange is what OnBuilt did to a package whose dependency mark
// referenced the built package.
type DependentChange struct {
	Package string
	Mark    string
	// Op is OpUnmark when the comment was only the reference, OpMark when
	// the comment was rewritten.
	Op      Op
	Comment string
}

// Report summarises a batch propagation. Err joins every failure; the batch
// never stops at the first one.
type Report struct {
	Package    string
	Owner      int64
	OwnerFound bool
	Cleared    []string
	Released   bool
	Dependents []DependentChange
	Mentions   []int64
	Err        error
}

// OnBuilt handles a "package built" signal. Under the fence it pings the
// owner, clears the terminal marks of pkg, releases the claim and settles
// dependency marks of other packages that reference pkg as "[pkg]". Those
// details go out after one consolidated ping of everyone who set them.
func (e *Engine) OnBuilt(ctx context.Context, pkg string) Report {
	e.fence.Lock()
	defer e.fence.Unlock()

	rep := Report{Package: pkg}
	var errs []error
	bot := e.BotActor()

	owner, found := e.store.Owner(pkg)
	if found {
		rep.Owner, rep.OwnerFound = owner.UserID, true
		e.notify(ctx, tgui.JoinH(" ", tgui.Raw("Ping"), e.Mention(owner.UserID)+":",
			tgui.Raw("[auto-merge]"), tgui.Code(pkg), tgui.Raw("built")), false)
	}

	for _, name := range TerminalMarks {
		if _, ok := e.store.Mark(pkg, name); !ok {
			continue
		}
		if _, err := e.clearMarkLocked(ctx, pkg, name, bot); err != nil {
			errs = append(errs, err)
			continue
		}
		rep.Cleared = append(rep.Cleared, name)
		e.notify(ctx, tgui.JoinH(" ", tgui.Code(pkg), tgui.Raw("is no longer marked as"), tgui.Esc("#"+name)), false)
	}

	if found {
		if err := e.releaseLocked(ctx, pkg, bot); err != nil {
			errs = append(errs, err)
			e.notify(ctx, tgui.JoinH(" ", tgui.Raw("auto-merge of"), tgui.Code(pkg), tgui.Raw("failed:"), tgui.Esc(Reason(err))), false)
		} else {
			rep.Released = true
		}
	}

	key := barrier.NewKey()
	tag := "[" + pkg + "]"
	tagRe := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(tag))
	for _, pm := range e.store.AllMarks() {
		if pm.Package == pkg {
			continue
		}
		for _, m := range pm.Marks {
			if !slices.Contains(DependencyMarks, m.Name) || !tagRe.MatchString(m.Comment) {
				continue
			}
			change, err := e.settleDependent(ctx, pm.Package, m, tag, tagRe)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rep.Dependents = append(rep.Dependents, change)
			if m.By != nil && m.By.UID != 0 && !slices.Contains(rep.Mentions, m.By.UID) {
				rep.Mentions = append(rep.Mentions, m.By.UID)
			}
			detail := e.dependentDetail(pkg, change)
			if err := e.barrier.Add(ctx, key, func(ctx context.Context) error {
				return e.send(ctx, detail, false)
			}); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(rep.Mentions) > 0 {
		parts := []tgui.H{tgui.Raw("Ping")}
		for _, uid := range rep.Mentions {
			parts = append(parts, e.Mention(uid))
		}
		parts = append(parts, tgui.Raw("dependencies of your marked packages were built"))
		e.notify(ctx, tgui.JoinH(" ", parts...), false)
	}
	if err := e.barrier.Resolve(ctx, key); err != nil {
		errs = append(errs, err)
	}

	rep.Err = joinErrors(errs)
	e.log.Info("build propagated",
		logx.String("package", pkg),
		logx.Int("cleared", len(rep.Cleared)),
		logx.Bool("released", rep.Released),
		logx.Int("dependents", len(rep.Dependents)),
		logx.Int("mentions", len(rep.Mentions)),
	)
	return rep
}

// settleDependent clears m when its comment is only the tag, otherwise
// rewrites the comment without the tag and keeps the original setter.
func (e *Engine) settleDependent(ctx context.Context, pkg string, m storage.MarkRecord, tag string, tagRe *regexp.Regexp) (DependentChange, error) {
	if strings.EqualFold(strings.TrimSpace(m.Comment), tag) {
		if _, err := e.clearMarkLocked(ctx, pkg, m.Name, e.BotActor()); err != nil {
			return DependentChange{}, err
		}
		return DependentChange{Package: pkg, Mark: m.Name, Op: OpUnmark}, nil
	}
	rest := strings.TrimSpace(tagRe.ReplaceAllString(m.Comment, ""))
	m.Comment = rest
	e.store.PutMark(pkg, m)
	if err := e.persistMarks(ctx); err != nil {
		return DependentChange{}, err
	}
	e.publish(Result{Changes: []Change{{Package: pkg, Mark: m.Name, Op: OpMark, Comment: rest}}})
	return DependentChange{Package: pkg, Mark: m.Name, Op: OpMark, Comment: rest}, nil
}

func (e *Engine) dependentDetail(built string, c DependentChange) tgui.H {
	if c.Op == OpUnmark {
		return tgui.JoinH(" ", tgui.Code(c.Package), tgui.Raw("is no longer marked as"), tgui.Esc("#"+c.Mark),
			tgui.Raw("since"), tgui.Code(built), tgui.Raw("was built"))
	}
	return tgui.JoinH(" ", tgui.Code(c.Package), tgui.Esc("#"+c.Mark), tgui.Raw("now reads"),
		tgui.Esc("“"+c.Comment+"”"), tgui.Raw("since"), tgui.Code(built), tgui.Raw("was built"))
}

// OnFailing handles a CI failure report: the owner is pinged first, then
// pkg is marked failing by the bot and the resulting changes are announced.
func (e *Engine) OnFailing(ctx context.Context, pkg string) Report {
	e.fence.Lock()
	defer e.fence.Unlock()

	rep := Report{Package: pkg}
	var errs []error
	key := barrier.NewKey()

	owner, found := e.store.Owner(pkg)
	if found {
		rep.Owner, rep.OwnerFound = owner.UserID, true
	}

	res, err := e.setMarkLocked(ctx, pkg, MarkFailing, "", e.BotActor())
	if err != nil {
		errs = append(errs, err)
	}
	for _, c := range res.Changes {
		verb := "is now marked as"
		if c.Op == OpUnmark {
			verb = "is no longer marked as"
			rep.Cleared = append(rep.Cleared, c.Mark)
		}
		h := tgui.JoinH(" ", tgui.Code(c.Package), tgui.Raw(verb), tgui.Esc("#"+c.Mark))
		if err := e.barrier.Add(ctx, key, func(ctx context.Context) error {
			return e.send(ctx, h, false)
		}); err != nil {
			errs = append(errs, err)
		}
	}

	if found {
		e.notify(ctx, tgui.JoinH(" ", tgui.Raw("Ping"), e.Mention(owner.UserID)+":",
			tgui.Raw("[ci]"), tgui.Code(pkg), tgui.Raw("is failing")), false)
	}
	if err := e.barrier.Resolve(ctx, key); err != nil {
		errs = append(errs, err)
	}
	rep.Err = joinErrors(errs)
	return rep
}
