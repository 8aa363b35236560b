package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID            int
	ChatID        int64
	ThreadID      int // telegram forum topic thread id (0 if none)
	FromID        int64
	FromUsername  string
	FromFirstName string
	FromLastName  string
	Text          string
}

// ChatTarget identifies a chat (and optional forum topic).
// It is comparable and used as the outbox grouping key.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

const (
	ParseModeNone       = ""
	ParseModeHTML       = "HTML"
	ParseModeMarkdown   = "Markdown"
	ParseModeMarkdownV2 = "MarkdownV2"
)

// SendOptions must stay comparable: the outbox merges queued messages only
// when their options are equal.
type SendOptions struct {
	ParseMode           string
	DisablePreview      bool
	DisableNotification bool
	ReplyTo             int // message id to reply to (0 if none)
}

// Fallback returns the reduced option set used for the single retry after a
// failed delivery. Reply and preview settings are dropped, and MarkdownV2 is
// downgraded to the more tolerant legacy Markdown parser.
func (o SendOptions) Fallback() SendOptions {
	fb := SendOptions{DisableNotification: o.DisableNotification}
	switch o.ParseMode {
	case ParseModeMarkdownV2, ParseModeMarkdown:
		fb.ParseMode = ParseModeMarkdown
	default:
		fb.ParseMode = o.ParseMode
	}
	return fb
}

// Sender delivers a single message. Text must already fit the platform limit.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
