package tgui

import (
	"fmt"
	"html"
	"strings"
)

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks a string as already-safe HTML. Use sparingly.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Pre renders a preformatted block.
func Pre(s string) H {
	return H("<pre>" + html.EscapeString(s) + "</pre>")
}

// Link builds an HTML link.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// Mention links to a Telegram user ID.
func Mention(name string, userID int64) H {
	return Link(name, UserURL(userID))
}

// UserURL is the deep link that opens a user's profile.
func UserURL(userID int64) string {
	return fmt.Sprintf("tg://user?id=%d", userID)
}

// JoinH joins non-blank safe HTML parts with sep.
func JoinH(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, sep))
}

// Lines accumulates message lines.
type Lines struct {
	parts []H
}

func (l *Lines) Add(h H) *Lines {
	l.parts = append(l.parts, h)
	return l
}

func (l *Lines) Addf(format string, args ...any) *Lines {
	return l.Add(H(fmt.Sprintf(format, args...)))
}

func (l *Lines) Len() int { return len(l.parts) }

func (l *Lines) H() H {
	ss := make([]string, len(l.parts))
	for i, p := range l.parts {
		ss[i] = p.String()
	}
	return H(strings.Join(ss, "\n"))
}
