package driver

import (
	"context"
	"errors"
	"strings"

	"github.com/use-agent/contextpool/pool"
)

// classify maps a raw rod/CDP error into one of the pool's error kinds, the
// same way the teacher's categorizeError narrows net/browser failures down
// to a small, stable error surface.
func classify(err error, op string) *pool.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return pool.NewError(pool.ErrScriptTimeout, op+" timed out", err)
	case errors.Is(err, context.Canceled):
		return pool.NewError(pool.ErrScriptTimeout, op+" canceled", err)
	case isTargetGone(err):
		return pool.NewError(pool.ErrDriverCrash, op+": browser target gone", err)
	case op == "evaluate":
		return pool.NewError(pool.ErrScriptFailure, op+" failed", err)
	default:
		return pool.NewError(pool.ErrNavigationFailure, op+" failed", err)
	}
}

// isTargetGone reports whether err looks like the CDP target (page, browser
// context, or the whole browser) has disappeared out from under us — the
// rod client surfaces this as a plain string rather than a typed error.
func isTargetGone(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "context not found") ||
		strings.Contains(msg, "no such target") ||
		strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "connection closed")
}
