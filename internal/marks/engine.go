package marks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"rvbot/internal/barrier"
	"rvbot/internal/eventbus"
	"rvbot/internal/outbox"
	"rvbot/internal/state"
	"rvbot/internal/storage"
	"rvbot/internal/transport"
	logx "rvbot/pkg/logx"
	"rvbot/pkg/tgui"
)

// Notifier queues outbound messages. *outbox.Outbox implements it.
type Notifier interface {
	Send(ctx context.Context, msg outbox.Message) ([]*outbox.Receipt, error)
}

// Actor is whoever asks for a change.
type Actor struct {
	UserID      int64
	DisplayName string
	// Privileged actors (admins, CI, the bot itself) bypass user permissions.
	Privileged bool
}

type Config struct {
	// Chat receives every engine notification.
	Chat transport.ChatTarget
	// BotID attributes marks the bot sets on its own.
	BotID int64
	// Location renders appended timestamps. Defaults to Asia/Shanghai.
	Location *time.Location
	// LogURL is a build log link template with a {pkgname} placeholder.
	LogURL  string
	Aliases map[int64]string
}

// Change is one applied mutation.
type Change struct {
	Package string
	Mark    string
	Op      Op
	Comment string
	// Trigger is set when the change was caused by another mark's trigger.
	Trigger bool
}

// Result lists the primary change first, then trigger changes.
type Result struct {
	Changes []Change
}

func (r Result) Triggered() []Change {
	if len(r.Changes) <= 1 {
		return nil
	}
	return r.Changes[1:]
}

// Outcome is the result of one attempted mark in a bulk operation.
type Outcome struct {
	Mark string
	Err  error
}

type Engine struct {
	fence sync.Mutex

	defs    *Registry
	store   *state.Store
	out     Notifier
	barrier *barrier.Barrier
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time

	cfgMu sync.RWMutex
	cfg   Config
}

func New(cfg Config, defs *Registry, store *state.Store, out Notifier, b *barrier.Barrier, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if defs == nil {
		defs = MustDefaultRegistry()
	}
	if b == nil {
		b = barrier.New()
	}
	if cfg.Location == nil {
		cfg.Location = defaultLocation()
	}
	return &Engine{
		defs:    defs,
		store:   store,
		out:     out,
		barrier: b,
		log:     log.With(logx.String("comp", "marks")),
		bus:     bus,
		now:     time.Now,
		cfg:     cfg,
	}
}

func defaultLocation() *time.Location {
	if loc, err := time.LoadLocation("Asia/Shanghai"); err == nil {
		return loc
	}
	return time.FixedZone("UTC+8", 8*3600)
}

// SetAliases swaps the alias table. Used on config reload.
func (e *Engine) SetAliases(aliases map[int64]string) {
	cp := make(map[int64]string, len(aliases))
	for k, v := range aliases {
		cp[k] = v
	}
	e.cfgMu.Lock()
	e.cfg.Aliases = cp
	e.cfgMu.Unlock()
}

func (e *Engine) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Alias returns the configured alias of uid, or "uid=N".
func (e *Engine) Alias(uid int64) string {
	e.cfgMu.RLock()
	a, ok := e.cfg.Aliases[uid]
	e.cfgMu.RUnlock()
	if ok && a != "" {
		return a
	}
	return fmt.Sprintf("uid=%d", uid)
}

func (e *Engine) Definitions() *Registry { return e.defs }

func (e *Engine) Store() *state.Store { return e.store }

// BotActor is the privileged identity used for automatic changes.
func (e *Engine) BotActor() Actor {
	return Actor{UserID: e.config().BotID, DisplayName: "bot", Privileged: true}
}

func (e *Engine) setter(a Actor) *storage.Setter {
	return &storage.Setter{URL: tgui.UserURL(a.UserID), UID: a.UserID, Alias: e.Alias(a.UserID)}
}

// ---- SetMark / ClearMark ----

func (e *Engine) SetMark(ctx context.Context, pkg, mark, comment string, actor Actor) (Result, error) {
	e.fence.Lock()
	defer e.fence.Unlock()
	return e.setMarkLocked(ctx, pkg, mark, comment, actor)
}

func (e *Engine) setMarkLocked(ctx context.Context, pkg, mark, comment string, actor Actor) (Result, error) {
	def, ok := e.defs.Get(mark)
	if !ok {
		return Result{}, newError(ErrUnknownMark, "unknown mark %q, available: %s", mark, strings.Join(e.defs.Names(), ", "))
	}
	comment = strings.TrimSpace(comment)
	if def.CommentRequired && comment == "" {
		return Result{}, newError(ErrCommentRequired, "mark %s requires a comment", mark)
	}
	if !def.UserCanSet && !actor.Privileged {
		return Result{}, newError(ErrNotUserSettable, "mark %s cannot be set by hand", mark)
	}
	if def.AppendTimestamp {
		comment = appendTimestamp(comment, e.now(), e.config().Location)
	}

	e.store.PutMark(pkg, storage.MarkRecord{Name: mark, By: e.setter(actor), Comment: comment})
	res := Result{Changes: []Change{{Package: pkg, Mark: mark, Op: OpMark, Comment: comment}}}
	res.Changes = append(res.Changes, e.applyTriggers(pkg, def, OpMark, actor)...)

	if err := e.persistMarks(ctx); err != nil {
		return res, err
	}
	e.publish(res)
	return res, nil
}

func (e *Engine) ClearMark(ctx context.Context, pkg, mark string, actor Actor) (Result, error) {
	e.fence.Lock()
	defer e.fence.Unlock()
	return e.clearMarkLocked(ctx, pkg, mark, actor)
}

func (e *Engine) clearMarkLocked(ctx context.Context, pkg, mark string, actor Actor) (Result, error) {
	if e.store.Marks(pkg) == nil {
		return Result{}, newError(ErrNotFound, "package %s has no marks", pkg)
	}
	if _, ok := e.store.Mark(pkg, mark); !ok {
		return Result{}, newError(ErrNotFound, "package %s is not marked as %s", pkg, mark)
	}
	def, known := e.defs.Get(mark)
	if known && !def.UserCanClear && !actor.Privileged {
		return Result{}, newError(ErrNotUserClearable, "mark %s cannot be cleared by hand", mark)
	}

	prev, _ := e.store.DeleteMark(pkg, mark)
	res := Result{Changes: []Change{{Package: pkg, Mark: mark, Op: OpUnmark, Comment: prev.Comment}}}
	if known {
		res.Changes = append(res.Changes, e.applyTriggers(pkg, def, OpUnmark, actor)...)
	}

	if err := e.persistMarks(ctx); err != nil {
		return res, err
	}
	e.publish(res)
	return res, nil
}

// ClearAllUserClearable clears every mark on pkg the actor may clear.
// It attempts each eligible mark and joins the failures.
func (e *Engine) ClearAllUserClearable(ctx context.Context, pkg string, actor Actor) ([]Outcome, error) {
	e.fence.Lock()
	defer e.fence.Unlock()

	present := e.store.Marks(pkg)
	if present == nil {
		return nil, newError(ErrNotFound, "package %s has no marks", pkg)
	}
	var (
		outcomes []Outcome
		errs     []error
	)
	for _, m := range present {
		def, known := e.defs.Get(m.Name)
		if known && !def.UserCanClear && !actor.Privileged {
			continue
		}
		// An earlier clear may have removed it through a trigger.
		if _, still := e.store.Mark(pkg, m.Name); !still {
			continue
		}
		_, err := e.clearMarkLocked(ctx, pkg, m.Name, actor)
		outcomes = append(outcomes, Outcome{Mark: m.Name, Err: err})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return outcomes, joinErrors(errs)
}

// applyTriggers runs the definition's triggers for on, once, without
// permission checks and without following the triggered marks' own
// triggers. Missing targets of an unmark are skipped.
func (e *Engine) applyTriggers(pkg string, def Definition, on Op, actor Actor) []Change {
	var out []Change
	for _, t := range def.Triggers {
		if t.On != on {
			continue
		}
		switch t.Op {
		case OpUnmark:
			prev, ok := e.store.DeleteMark(pkg, t.Mark)
			if !ok {
				continue
			}
			out = append(out, Change{Package: pkg, Mark: t.Mark, Op: OpUnmark, Comment: prev.Comment, Trigger: true})
		case OpMark:
			if _, exists := e.store.Mark(pkg, t.Mark); exists {
				continue
			}
			e.store.PutMark(pkg, storage.MarkRecord{Name: t.Mark, By: e.setter(actor)})
			out = append(out, Change{Package: pkg, Mark: t.Mark, Op: OpMark, Trigger: true})
		}
	}
	return out
}

func (e *Engine) persistMarks(ctx context.Context) error {
	if err := e.store.SaveMarks(ctx); err != nil {
		e.log.Error("marks write failed", logx.Err(err))
		return &Error{Kind: ErrStoreWrite, Reason: "failed to write marks to storage", Err: err}
	}
	return nil
}

func (e *Engine) persistClaims(ctx context.Context) error {
	if err := e.store.SaveClaims(ctx); err != nil {
		e.log.Error("claims write failed", logx.Err(err))
		return &Error{Kind: ErrStoreWrite, Reason: "failed to write claims to storage", Err: err}
	}
	return nil
}

func (e *Engine) publish(res Result) {
	if e.bus == nil {
		return
	}
	for _, c := range res.Changes {
		e.bus.Publish(eventbus.Event{Type: eventbus.MarksChanged, Data: map[string]any{
			"package": c.Package,
			"mark":    c.Mark,
			"op":      c.Op.String(),
			"trigger": c.Trigger,
		}})
	}
}

// ---- notifications ----

// send queues an HTML message to the engine chat.
func (e *Engine) send(ctx context.Context, h tgui.H, throttle bool) error {
	if e.out == nil {
		return nil
	}
	_, err := e.out.Send(ctx, outbox.Message{
		Chat:     e.config().Chat,
		Text:     h.String(),
		Options:  transport.SendOptions{ParseMode: transport.ParseModeHTML, DisablePreview: true},
		Throttle: throttle,
	})
	return err
}

// notify is send with the error logged: notifications never undo state
// changes.
func (e *Engine) notify(ctx context.Context, h tgui.H, throttle bool) {
	if err := e.send(ctx, h, throttle); err != nil {
		e.log.Warn("notification not queued", logx.Err(err))
	}
}

// Notify lets callers outside the engine post to the engine chat.
func (e *Engine) Notify(ctx context.Context, h tgui.H, throttle bool) {
	e.notify(ctx, h, throttle)
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return &joined{errs: errs}
}

// joined keeps every error reachable through errors.Is/As and renders the
// reasons one per line.
type joined struct{ errs []error }

func (j *joined) Error() string {
	parts := make([]string, len(j.errs))
	for i, err := range j.errs {
		parts[i] = Reason(err)
	}
	return strings.Join(parts, "\n")
}

func (j *joined) Unwrap() []error { return j.errs }
