package router

import (
	"context"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"rvbot/internal/marks"
	"rvbot/internal/outbox"
	rtsup "rvbot/internal/runtime/supervisor"
	kit "rvbot/internal/transport"
	logx "rvbot/pkg/logx"
	"rvbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Outbox is the part of *outbox.Outbox the commands use.
type Outbox interface {
	Send(ctx context.Context, msg outbox.Message) ([]*outbox.Receipt, error)
	ForceFlush(chat kit.ChatTarget) int
	Pending() []outbox.PendingInfo
	Len() int
}

// Settings are the hot-reloadable parts of the router configuration.
type Settings struct {
	// Group is the chat commands are mirrored to.
	Group   kit.ChatTarget
	Admins  []int64
	BotName string
	// Timeout applies to commands without their own.
	Timeout time.Duration
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Rest is the text after the command word, spacing preserved.
	Rest  string
	Args  []string
	Actor marks.Actor
	ReqID string

	Logger logx.Logger
	m      *Manager
}

// Reply answers in the request's chat.
func (r *Request) Reply(ctx context.Context, h tgui.H) error {
	opt := kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true}
	if r.Message != nil {
		opt.ReplyTo = r.Message.ID
	}
	_, err := r.m.out.Send(ctx, outbox.Message{Chat: r.Chat, Text: h.String(), Options: opt})
	return err
}

// InGroup reports whether the request came from the configured group.
func (r *Request) InGroup() bool { return r.Chat.ChatID == r.m.Settings().Group.ChatID }

// Mirror repeats h in the group when the request came from elsewhere.
func (r *Request) Mirror(ctx context.Context, h tgui.H) {
	s := r.m.Settings()
	if s.Group.ChatID == 0 || r.InGroup() {
		return
	}
	_, err := r.m.out.Send(ctx, outbox.Message{
		Chat:     s.Group,
		Text:     h.String(),
		Options:  kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true},
		Throttle: true,
	})
	if err != nil {
		r.Logger.Warn("mirror not queued", logx.Err(err))
	}
}

type Manager struct {
	log logx.Logger
	eng *marks.Engine
	out Outbox

	mu       sync.RWMutex
	commands map[string]*Command
	ordered  []*Command
	settings Settings

	menu kit.CommandMenuUpdater

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewManager(log logx.Logger, eng *marks.Engine, out Outbox, s Settings) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		log:      log.With(logx.String("comp", "telegram.router")),
		eng:      eng,
		out:      out,
		settings: cloneSettings(s),
		jobs:     make(chan func(), 256),
	}
	m.SetCommands(m.defaultCommands())
	return m
}

func cloneSettings(s Settings) Settings {
	s.Admins = append([]int64(nil), s.Admins...)
	return s
}

// SetSettings swaps settings. Safe during hot reload.
func (m *Manager) SetSettings(s Settings) {
	m.mu.Lock()
	m.settings = cloneSettings(s)
	m.mu.Unlock()
}

func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// SetMenuUpdater enables best-effort publication of the command menu.
func (m *Manager) SetMenuUpdater(u kit.CommandMenuUpdater) { m.menu = u }

// SetCommands replaces the command table. /help is always present.
func (m *Manager) SetCommands(cmds []Command) {
	table := map[string]*Command{}
	ordered := make([]*Command, 0, len(cmds)+1)
	add := func(c Command) {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			return
		}
		c.Name = name
		cc := &c
		ordered = append(ordered, cc)
		table[name] = cc
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, taken := table[a]; !taken {
					table[a] = cc
				}
			}
		}
	}
	for _, c := range cmds {
		add(c)
	}
	if _, ok := table["help"]; !ok {
		add(Command{Name: "help", Description: "show this help", Usage: "/help [command]", Handle: m.handleHelp})
	}
	m.mu.Lock()
	m.commands = table
	m.ordered = ordered
	m.mu.Unlock()
}

func (m *Manager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commands[word]
	return c, ok
}

func (m *Manager) commandList() []*Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Command(nil), m.ordered...)
}

// PublishMenu pushes the command list to the platform menu.
func (m *Manager) PublishMenu(ctx context.Context) error {
	if m.menu == nil {
		return nil
	}
	var cmds []kit.BotCommand
	for _, c := range m.commandList() {
		name := menuName(c.Name)
		if name == "" {
			continue
		}
		desc := c.Description
		if c.Access == AccessAdminOnly {
			desc = "🔒 " + desc
		}
		cmds = append(cmds, kit.BotCommand{Command: name, Description: desc})
	}
	return m.menu.UpdateMenuCommands(ctx, cmds)
}

func (m *Manager) isAdmin(id int64) bool {
	return slices.Contains(m.Settings().Admins, id)
}

// tryEnqueue is a panic-safe enqueue (the jobs channel may be closed).
func (m *Manager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates to a bounded worker pool until ctx ends or
// updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	m.runMu.Lock()
	m.sup, m.running = sup, true
	m.runMu.Unlock()
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		close(m.jobs)
		m.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				m.routeMessage(ctx, up.Message)
			}
		}
	}
}

func (m *Manager) routeMessage(ctx context.Context, msg *kit.Message) {
	s := m.Settings()
	word, rest, ok := splitCommand(msg.Text, s.BotName)
	if !ok {
		return
	}
	cmd, ok := m.lookup(word)
	if !ok {
		m.log.Debug("unknown command ignored", logx.String("cmd", word))
		return
	}
	req := m.newRequest(msg, cmd, rest)
	if cmd.Access == AccessAdminOnly && !req.Actor.Privileged {
		_ = req.Reply(ctx, tgui.Esc("unauthorized"))
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = s.Timeout
	}
	final := chain(cmd.Handle,
		logRequests,
		replyOnError,
		recoverPanic,
		withTimeout(timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_ = req.Reply(ctx, tgui.Esc("busy, try again"))
	}
}

func (m *Manager) newRequest(msg *kit.Message, cmd *Command, rest string) *Request {
	rid := newReqID()
	return &Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Name,
		Rest:    rest,
		Args:    tokenize(rest),
		Actor: marks.Actor{
			UserID:      msg.FromID,
			DisplayName: displayName(msg),
			Privileged:  m.isAdmin(msg.FromID),
		},
		ReqID: rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		m: m,
	}
}

func displayName(msg *kit.Message) string {
	if msg.FromUsername != "" {
		return msg.FromUsername
	}
	return strings.TrimSpace(msg.FromFirstName + " " + msg.FromLastName)
}
