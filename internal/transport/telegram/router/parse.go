package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

func newReqID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// splitCommand splits "/cmd@bot rest of line" into the command word and the
// untouched remainder. ok is false when text is not a command or is
// addressed to another bot.
func splitCommand(text, botName string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head := text
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, rest = text[:i], strings.TrimSpace(text[i:])
	}
	word = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		target := word[i+1:]
		word = word[:i]
		if botName != "" && !strings.EqualFold(target, botName) {
			return "", "", false
		}
	}
	word = strings.ToLower(word)
	return word, rest, word != ""
}

// splitArgs takes up to n whitespace separated words from s and returns
// them with the remainder, whose inner spacing is kept.
func splitArgs(s string, n int) (words []string, rest string) {
	rest = strings.TrimSpace(s)
	for len(words) < n && rest != "" {
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			words = append(words, rest)
			rest = ""
			break
		}
		words = append(words, rest[:i])
		rest = strings.TrimSpace(rest[i:])
	}
	return words, rest
}

// tokenize splits s on whitespace. Single or double quotes group words and
// a backslash takes the next byte literally:
//
//	gcc "two words" a\ b  ->  [gcc] [two words] [a b]
func tokenize(s string) []string {
	var (
		out   []string
		cur   []byte
		quote byte
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			cur = append(cur, s[i])
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
			cur = append(cur, c)
		case c == '"' || c == '\'':
			quote = c
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if len(cur) > 0 {
				out = append(out, string(cur))
			}
			cur = cur[:0]
		default:
			cur = append(cur, c)
		}
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

// menuName maps a command name onto Telegram's [a-z0-9_]{1,32}. Separators
// collapse into one underscore and a leading digit gets a "cmd_" prefix.
func menuName(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
		case r == '_', r == '-', r == '/', unicode.IsSpace(r):
			sep = true
		}
	}
	name := b.String()
	if name != "" && name[0] <= '9' {
		name = "cmd_" + name
	}
	if len(name) > 32 {
		name = strings.TrimRight(name[:32], "_")
	}
	return name
}
