package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-commerce/orchestrator/log"
)

var errDownstream = errors.New("downstream unavailable")

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		ResetTimeout:        50 * time.Millisecond,
		HalfOpenMaxRequests: 1,
	}
}

func fallbackValue() any { return "fallback" }

func TestRegistry_StartsClosed(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), log.NewNop())
	reg.GetOrCreate("user-module", testConfig())

	assert.Equal(t, StateClosed, reg.State("user-module"))
	assert.True(t, reg.Healthy("user-module"))
}

func TestRegistry_OpensAfterThresholdFailures(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), log.NewNop())
	reg.GetOrCreate("user-module", testConfig())

	for n := 0; n < 3; n++ {
		result := reg.Execute(context.Background(), "user-module",
			func() (any, error) { return nil, errDownstream },
			fallbackValue)
		assert.Equal(t, "fallback", result)
	}

	require.Equal(t, StateOpen, reg.State("user-module"))

	// While open, the operation must not be invoked at all.
	var invoked atomic.Bool

	result := reg.Execute(context.Background(), "user-module",
		func() (any, error) {
			invoked.Store(true)
			return "real", nil
		},
		fallbackValue)

	assert.Equal(t, "fallback", result)
	assert.False(t, invoked.Load(), "operation must be short-circuited while open")
}

func TestRegistry_HalfOpenTrialSuccessCloses(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), log.NewNop())
	reg.GetOrCreate("order-module", testConfig())

	for n := 0; n < 3; n++ {
		reg.Execute(context.Background(), "order-module",
			func() (any, error) { return nil, errDownstream },
			fallbackValue)
	}

	require.Equal(t, StateOpen, reg.State("order-module"))

	time.Sleep(60 * time.Millisecond)

	result := reg.Execute(context.Background(), "order-module",
		func() (any, error) { return "recovered", nil },
		fallbackValue)

	assert.Equal(t, "recovered", result)
	assert.Equal(t, StateClosed, reg.State("order-module"))
	assert.Zero(t, reg.Counts("order-module").ConsecutiveFailures)
}

func TestRegistry_HalfOpenTrialFailureReopens(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), log.NewNop())
	reg.GetOrCreate("order-module", testConfig())

	for n := 0; n < 3; n++ {
		reg.Execute(context.Background(), "order-module",
			func() (any, error) { return nil, errDownstream },
			fallbackValue)
	}

	time.Sleep(60 * time.Millisecond)

	result := reg.Execute(context.Background(), "order-module",
		func() (any, error) { return nil, errDownstream },
		fallbackValue)

	assert.Equal(t, "fallback", result)
	assert.Equal(t, StateOpen, reg.State("order-module"))
}

func TestRegistry_SuccessResetsConsecutiveFailures(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), log.NewNop())
	reg.GetOrCreate("catalog-module", testConfig())

	for n := 0; n < 2; n++ {
		reg.Execute(context.Background(), "catalog-module",
			func() (any, error) { return nil, errDownstream },
			fallbackValue)
	}

	reg.Execute(context.Background(), "catalog-module",
		func() (any, error) { return "ok", nil },
		fallbackValue)

	assert.Equal(t, StateClosed, reg.State("catalog-module"))
	assert.Zero(t, reg.Counts("catalog-module").ConsecutiveFailures)
}

func TestRegistry_ResetForcesClosed(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), log.NewNop())
	reg.GetOrCreate("user-module", testConfig())

	for n := 0; n < 3; n++ {
		reg.Execute(context.Background(), "user-module",
			func() (any, error) { return nil, errDownstream },
			fallbackValue)
	}

	require.Equal(t, StateOpen, reg.State("user-module"))

	reg.Reset("user-module")

	assert.Equal(t, StateClosed, reg.State("user-module"))
	assert.Zero(t, reg.Counts("user-module").ConsecutiveFailures)

	result := reg.Execute(context.Background(), "user-module",
		func() (any, error) { return "ok", nil },
		fallbackValue)
	assert.Equal(t, "ok", result)
}

func TestRegistry_RecordFailureTripsBreaker(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), log.NewNop())
	reg.GetOrCreate("events", testConfig())

	for n := 0; n < 3; n++ {
		reg.RecordFailure("events", errDownstream)
	}

	assert.Equal(t, StateOpen, reg.State("events"))
}

func TestRegistry_RecordFailureIgnoresNil(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), log.NewNop())
	reg.GetOrCreate("events", testConfig())

	reg.RecordFailure("events", nil)

	assert.Zero(t, reg.Counts("events").Requests)
}

func TestRegistry_ConcurrentExecuteIsSafe(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), log.NewNop())
	reg.GetOrCreate("shared", Config{FailureThreshold: 100, ResetTimeout: time.Second})

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			reg.Execute(context.Background(), "shared", func() (any, error) {
				if i%2 == 0 {
					return nil, errDownstream
				}

				return "ok", nil
			}, fallbackValue)
		}(i)
	}

	wg.Wait()

	counts := reg.Counts("shared")
	assert.Equal(t, uint32(50), counts.Requests)
	assert.Equal(t, uint32(25), counts.TotalFailures)
	assert.Equal(t, uint32(25), counts.TotalSuccesses)
}

func TestRegistry_ExecuteCreatesBreakerLazily(t *testing.T) {
	reg := NewRegistry(testConfig(), log.NewNop())

	result := reg.Execute(context.Background(), "lazy",
		func() (any, error) { return "ok", nil },
		fallbackValue)

	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, reg.State("lazy"))
}
