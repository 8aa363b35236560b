package outbox

import (
	"errors"
	"fmt"

	"rvbot/internal/transport"
)

var (
	ErrDeliveryFailed = errors.New("outbox: delivery failed")
	ErrTooLong        = errors.New("outbox: message too long")
	ErrStopped        = errors.New("outbox: stopped")
)

// DeliveryError is the permanent failure of a queued message after its
// retry was exhausted. It matches ErrDeliveryFailed and unwraps to the last
// platform error.
type DeliveryError struct {
	Chat     transport.ChatTarget
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("outbox: delivery to %d/%d failed after %d attempts: %v", e.Chat.ChatID, e.Chat.ThreadID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() []error { return []error{ErrDeliveryFailed, e.Err} }
