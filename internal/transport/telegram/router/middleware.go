package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "rvbot/pkg/logx"
	"rvbot/pkg/tgui"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// slowCommand promotes successful request logs from debug to info.
const slowCommand = 750 * time.Millisecond

// chain wraps h so that mws[0] runs first.
func chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// recoverPanic turns a handler panic into an error carrying the stack in the
// log.
func recoverPanic(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if r := recover(); r != nil {
				req.Logger.Error("command panicked",
					logx.Any("panic", r),
					logx.Stack(logx.StackTrace(3, 32)),
				)
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return next(ctx, req)
	}
}

// logRequests records each command with its duration and outcome.
func logRequests(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		took := time.Since(start)
		switch {
		case err != nil:
			req.Logger.Warn("command failed", logx.Duration("dur", took), logx.Int("args", len(req.Args)), logx.Err(err))
		case took >= slowCommand:
			req.Logger.Info("command slow", logx.Duration("dur", took), logx.Int("args", len(req.Args)))
		default:
			req.Logger.Debug("command ok", logx.Duration("dur", took))
		}
		return err
	}
}

// replyOnError tells the sender that something went wrong on our side.
// Handlers answer user mistakes themselves, so anything reaching here is
// internal.
func replyOnError(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		err := next(ctx, req)
		if err == nil {
			return nil
		}
		text := "internal error, ref " + req.ReqID
		if errors.Is(err, context.DeadlineExceeded) {
			text = "timed out, ref " + req.ReqID
		}
		// The handler context may be done; the reply gets its own.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if rerr := req.Reply(rctx, tgui.Esc(text)); rerr != nil {
			req.Logger.Debug("error reply not queued", logx.Err(rerr))
		}
		return err
	}
}
