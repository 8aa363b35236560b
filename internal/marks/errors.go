package marks

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownMark      = errors.New("unknown mark")
	ErrCommentRequired  = errors.New("comment required")
	ErrNotUserSettable  = errors.New("mark not user settable")
	ErrNotUserClearable = errors.New("mark not user clearable")
	ErrNotFound         = errors.New("not found")
	ErrStoreWrite       = errors.New("store write failed")
	ErrMergeConflict    = errors.New("merge conflict")
	ErrAlreadyClaimed   = errors.New("already claimed")
)

// Error carries a sentinel Kind plus a Reason meant for the chat, verbatim.
type Error struct {
	Kind   error
	Reason string
	Err    error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Reason returns the user-facing text of err.
func Reason(err error) string {
	var me *Error
	if errors.As(err, &me) {
		return me.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
