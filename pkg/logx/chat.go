package logx

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// The chat sink posts through the outbox, so outbox records would loop.
	chatSkipComponent = "outbox"

	chatMaxText  = 3500
	chatMaxField = 600
	chatMaxStack = 900
)

// chatWriter is a zerolog.LevelWriter that posts rate limited records to the
// group chat.
type chatWriter struct{ svc *Service }

func (w *chatWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if w.svc == nil {
		return len(p), nil
	}
	w.svc.mu.Lock()
	poster, lim, floor := w.svc.poster, w.svc.limiter, w.svc.minLevel
	w.svc.mu.Unlock()

	if poster == nil || lim == nil || level < floor {
		return len(p), nil
	}
	if text, ok := renderRecord(p); ok && lim.Allow() {
		poster.PostLog(text)
	}
	return len(p), nil
}

// renderRecord turns one JSON log line into "[LEVEL] message" followed by
// "- key=value" lines in key order. Lines that are not JSON pass through.
func renderRecord(p []byte) (string, bool) {
	line := strings.TrimSpace(string(p))
	if line == "" {
		return "", false
	}
	var rec map[string]any
	if json.Unmarshal([]byte(line), &rec) != nil {
		return truncate(line, chatMaxText), true
	}
	if rec["comp"] == chatSkipComponent {
		return "", false
	}

	var b strings.Builder
	if lvl, _ := rec["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec["message"].(string)
	b.WriteString(msg)

	delete(rec, "time")
	delete(rec, "level")
	delete(rec, "message")
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		val := fmt.Sprint(rec[k])
		if k == "stack" {
			fmt.Fprintf(&b, "\n- stack=\n%s", truncate(val, chatMaxStack))
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(val, chatMaxField))
	}
	return truncate(b.String(), chatMaxText), true
}

// truncate cuts s to n bytes, ending with "..." when there is room for it.
func truncate(s string, n int) string {
	switch {
	case n <= 0, len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
