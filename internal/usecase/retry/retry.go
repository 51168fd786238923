// Package retry runs a step a bounded number of times and reports the result
// as a tagged Outcome instead of a bare value/error pair.
package retry

import (
	"context"
	"errors"
)

// Outcome is either a success (Err == nil) or a failure carrying the last
// error seen. Attempts counts every step invocation.
type Outcome[T any] struct {
	Value    T
	Err      error
	Attempts int
}

func (o Outcome[T]) Ok() bool {
	return o.Err == nil
}

// Step is invoked with a 1-based attempt number.
type Step[T any] func(ctx context.Context, attempt int) (T, error)

type fatalError struct {
	err error
}

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal marks err as non-retryable. Bounded stops immediately and reports the
// unwrapped error.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Bounded calls step until it succeeds, returns a Fatal error, the context is
// cancelled, or max attempts have been made.
func Bounded[T any](ctx context.Context, max int, step Step[T]) Outcome[T] {
	if max < 1 {
		max = 1
	}

	var out Outcome[T]
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}

		out.Attempts = attempt
		value, err := step(ctx, attempt)
		if err == nil {
			out.Value = value
			out.Err = nil
			return out
		}

		var fatal *fatalError
		if errors.As(err, &fatal) {
			out.Err = fatal.err
			return out
		}
		out.Err = err
	}
	return out
}
