// Package retryexec implements the generic bounded-retry primitive used to
// drive a single phase executor or task attempt through a fixed number of
// attempts with an optional per-attempt recovery hook.
package retryexec

import (
	"errors"
	"log/slog"

	cadreerrors "github.com/randalmurphal/cadre/internal/errors"
)

// Func is the operation being retried. attempt is 1-indexed.
type Func[T any] func(attempt int) (T, error)

// OnFixNeeded is invoked between a failed attempt and the next one, e.g. to
// launch a fix agent. It may itself fail; its error is logged but does not
// abort the retry loop early — the next attempt is still made.
type OnFixNeeded func(attempt int, failure error) error

// Result is the outcome envelope returned by Run.
type Result[T any] struct {
	Success      bool
	Value        T
	Err          error
	Attempts     int
	RecoveryUsed bool
}

// Options configures a Run call.
type Options[T any] struct {
	Description string
	MaxAttempts int
	OnFixNeeded OnFixNeeded
	Log         *slog.Logger
}

// Run executes fn up to MaxAttempts times (no backoff between attempts).
// On a failed attempt, OnFixNeeded (if set) is invoked for recovery before
// the next attempt. RecoveryUsed is true iff OnFixNeeded was invoked at
// least once. Validation errors of kind schema are logged as a warning
// carrying the offending field path; other errors are logged as-is.
func Run[T any](opts Options[T], fn Func[T]) Result[T] {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	recoveryUsed := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := fn(attempt)
		if err == nil {
			return Result[T]{Success: true, Value: value, Attempts: attempt, RecoveryUsed: recoveryUsed}
		}

		lastErr = err
		logAttemptFailure(log, opts.Description, attempt, err)

		if attempt == maxAttempts {
			break
		}
		if opts.OnFixNeeded != nil {
			recoveryUsed = true
			if fixErr := opts.OnFixNeeded(attempt, err); fixErr != nil {
				log.Warn("recovery hook failed", "description", opts.Description, "attempt", attempt, "error", fixErr)
			}
		}
	}

	return Result[T]{Success: false, Err: lastErr, Attempts: maxAttempts, RecoveryUsed: recoveryUsed}
}

func logAttemptFailure(log *slog.Logger, description string, attempt int, err error) {
	var verrs *cadreerrors.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs.Errors {
			log.Warn("validation failure", "description", description, "attempt", attempt, "field", fe.Field, "message", fe.Message)
		}
		return
	}
	var verr *cadreerrors.ValidationError
	if errors.As(err, &verr) {
		log.Warn("validation failure", "description", description, "attempt", attempt, "field", verr.Field, "message", verr.Message)
		return
	}
	log.Warn("attempt failed", "description", description, "attempt", attempt, "error", err)
}
