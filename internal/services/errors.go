package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rydar/internal/geo"
	"rydar/internal/repository"
)

var (
	ErrTransientStore   = errors.New("presence store temporarily unavailable")
	ErrPresenceNotFound = errors.New("driver is not broadcasting")
	ErrRouteNotFound    = repository.ErrRouteNotFound
	ErrRouteExists      = repository.ErrRouteExists
)

// ValidationError reports a rejected input field. Handlers turn it into a 400
// naming the field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// withRetry runs op and, if it fails with geo.ErrTransient, runs it once more
// after backoff. A second transient failure comes back as ErrTransientStore.
//
// Go Learning Note: Timers and Context
// time.NewTimer plus select lets the wait end early when the request context
// is canceled, which time.Sleep cannot do. Stopping the timer in a defer
// releases it if ctx wins the race.
func withRetry(ctx context.Context, backoff time.Duration, op func() error) error {
	err := op()
	if err == nil || !errors.Is(err, geo.ErrTransient) {
		return err
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err = op(); err != nil && errors.Is(err, geo.ErrTransient) {
		return fmt.Errorf("%w: %w", ErrTransientStore, err)
	}
	return err
}
