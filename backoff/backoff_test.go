package backoff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Exponential(100*time.Millisecond, 0))
	assert.Equal(t, 400*time.Millisecond, Exponential(100*time.Millisecond, 2))
	assert.Equal(t, 100*time.Millisecond, Exponential(100*time.Millisecond, -5))
	assert.Equal(t, time.Duration(0), Exponential(0, 3))
}

func TestExponential_OverflowClamped(t *testing.T) {
	assert.Equal(t, time.Duration(math.MaxInt64), Exponential(time.Hour, 60))
}

func TestFullJitter_WithinRange(t *testing.T) {
	for n := 0; n < 100; n++ {
		delay := FullJitter(time.Second)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.Less(t, delay, time.Second)
	}

	assert.Equal(t, time.Duration(0), FullJitter(0))
	assert.Equal(t, time.Duration(0), FullJitter(-time.Second))
}

func TestExponentialWithJitter_WithinRange(t *testing.T) {
	for attempt := 0; attempt < 5; attempt++ {
		delay := ExponentialWithJitter(10*time.Millisecond, attempt)
		assert.Less(t, delay, Exponential(10*time.Millisecond, attempt))
	}
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithContext(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepWithContext_ZeroDuration(t *testing.T) {
	assert.NoError(t, SleepWithContext(context.Background(), 0))
}
