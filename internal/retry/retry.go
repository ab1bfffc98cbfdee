// Package retry implements bounded retries with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do unwraps it on return.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, up to attempts times. The wait doubles
// after each failure, jittered by up to a quarter in either direction so
// synchronized callers spread out. A Permanent error or a cancelled ctx
// stops the loop early; otherwise the last error is returned.
func Do(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		if i == attempts-1 {
			break
		}

		sleep := delay
		if q := delay / 4; q > 0 {
			sleep += rand.N(2*q) - q
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
	}
	return err
}
