package transport

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// RateLimitError is returned by adapters when the platform rejected a send
// with "too many requests". RetryAfter is zero when the platform did not say.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

var retryAfterRe = regexp.MustCompile(`(?i)too many requests.*retry after (\d+)`)

// RetryAfter reports whether err is a rate-limit rejection and how long the
// platform asked to wait. Errors that only carry the text shape
// ("429 Too Many Requests: retry after N") are recognised too.
// A zero duration with ok=true means "rate limited, wait unknown".
func RetryAfter(err error) (wait time.Duration, ok bool) {
	if err == nil {
		return 0, false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	m := retryAfterRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	n, convErr := strconv.Atoi(m[1])
	if convErr != nil || n < 0 {
		return 0, true
	}
	return time.Duration(n) * time.Second, true
}
