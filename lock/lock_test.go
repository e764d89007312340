package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptionsValidation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"defaults", DefaultOptions(), true},
		{"zero expiry", Options{Tries: 1, DriftFactor: 0.01}, false},
		{"zero tries", Options{Expiry: time.Second, DriftFactor: 0.01}, false},
		{"too many tries", Options{Expiry: time.Second, Tries: maxTries + 1, DriftFactor: 0.01}, false},
		{"negative retry delay", Options{Expiry: time.Second, Tries: 1, RetryDelay: -time.Millisecond}, false},
		{"drift factor at one", Options{Expiry: time.Second, Tries: 1, DriftFactor: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidOptions)
			}
		})
	}
}

func TestWithLock_GuardClauses(t *testing.T) {
	ctx := context.Background()

	var nilMgr *Manager

	assert.ErrorIs(t, nilMgr.WithLock(ctx, "k", func(context.Context) error { return nil }), ErrNilManager)

	empty := &Manager{}
	assert.ErrorIs(t, empty.WithLock(ctx, "k", func(context.Context) error { return nil }), ErrNotInitialized)

	_, _, err := empty.TryLock(ctx, "k")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestNewManager_RequiresClient(t *testing.T) {
	_, err := NewManager(nil, nil)
	assert.Error(t, err)
}

func TestHandle_UnlockNil(t *testing.T) {
	var hd *Handle

	assert.ErrorIs(t, hd.Unlock(context.Background()), ErrNotInitialized)
	assert.ErrorIs(t, (&Handle{}).Unlock(context.Background()), ErrNotInitialized)
}

func TestSafeKeyForLogs_Truncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'k'
	}

	safe := safeKeyForLogs(string(long))
	assert.LessOrEqual(t, len(safe), 128+len("...(truncated)"))
	assert.Contains(t, safe, "truncated")
}
