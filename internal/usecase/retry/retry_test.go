package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundedSucceedsFirstTry(t *testing.T) {
	out := Bounded(context.Background(), 5, func(ctx context.Context, attempt int) (string, error) {
		return "ok", nil
	})

	assert.True(t, out.Ok())
	assert.Equal(t, "ok", out.Value)
	assert.Equal(t, 1, out.Attempts)
}

func TestBoundedRetriesUntilSuccess(t *testing.T) {
	out := Bounded(context.Background(), 5, func(ctx context.Context, attempt int) (int, error) {
		if attempt < 3 {
			return 0, fmt.Errorf("attempt %d failed", attempt)
		}
		return attempt, nil
	})

	assert.True(t, out.Ok())
	assert.Equal(t, 3, out.Value)
	assert.Equal(t, 3, out.Attempts)
}

func TestBoundedExhausts(t *testing.T) {
	calls := 0
	out := Bounded(context.Background(), 5, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d failed", attempt)
	})

	assert.False(t, out.Ok())
	assert.Equal(t, 5, calls)
	assert.Equal(t, 5, out.Attempts)
	assert.EqualError(t, out.Err, "attempt 5 failed")
}

func TestBoundedStopsOnFatal(t *testing.T) {
	boom := errors.New("service down")
	calls := 0
	out := Bounded(context.Background(), 5, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, Fatal(boom)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, boom, out.Err)
}

func TestBoundedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := Bounded(ctx, 5, func(ctx context.Context, attempt int) (int, error) {
		cancel()
		return 0, errors.New("retry me")
	})

	assert.Equal(t, 1, out.Attempts)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestFatalNil(t *testing.T) {
	assert.NoError(t, Fatal(nil))
}
