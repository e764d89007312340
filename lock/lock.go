// Package lock provides distributed mutual exclusion over Redis using the
// RedLock algorithm. The orchestration layer uses it to serialize inventory
// reservation between availability checks and order creation, so two
// concurrent orders cannot both pass the stock check for the last unit.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"

	"github.com/meridian-commerce/orchestrator/log"
)

const maxTries = 1000

var (
	// ErrNilManager is returned when a method is called on a nil Manager.
	ErrNilManager = errors.New("lock manager is nil")

	// ErrNotInitialized is returned when the manager has no redsync backend.
	ErrNotInitialized = errors.New("lock manager is not initialized")

	// ErrNilFn is returned when a nil function is passed to WithLock.
	ErrNilFn = errors.New("lock function is nil")

	// ErrEmptyKey is returned when an empty lock key is provided.
	ErrEmptyKey = errors.New("lock key cannot be empty")

	// ErrNotHeld is returned when unlock finds the lock already expired.
	ErrNotHeld = errors.New("lock was not held or already expired")

	// ErrInvalidOptions is returned when lock options fail validation.
	ErrInvalidOptions = errors.New("invalid lock options")
)

// Options configures acquisition behavior.
type Options struct {
	// Expiry is how long the lock is held before auto-expiring.
	Expiry time.Duration

	// Tries is the number of acquisition attempts before giving up.
	Tries int

	// RetryDelay is the delay between attempts.
	RetryDelay time.Duration

	// DriftFactor accounts for clock drift between Redis nodes.
	DriftFactor float64
}

// DefaultOptions returns acquisition defaults tuned for short critical
// sections such as inventory reservation.
func DefaultOptions() Options {
	return Options{
		Expiry:      10 * time.Second,
		Tries:       3,
		RetryDelay:  200 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

// Manager serializes critical sections across service instances.
type Manager struct {
	redsync *redsync.Redsync
	logger  log.Logger
}

// NewManager creates a lock manager over the given Redis client.
func NewManager(client goredislib.UniversalClient, logger log.Logger) (*Manager, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &Manager{
		redsync: redsync.New(goredis.NewPool(client)),
		logger:  logger,
	}, nil
}

// WithLock runs fn while holding the named lock, using default options. The
// lock is released when fn returns, even if it panics.
func (mgr *Manager) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if mgr == nil {
		return ErrNilManager
	}

	return mgr.WithLockOptions(ctx, key, DefaultOptions(), fn)
}

// WithLockOptions runs fn while holding the named lock with custom options.
func (mgr *Manager) WithLockOptions(ctx context.Context, key string, opts Options, fn func(context.Context) error) error {
	if mgr == nil {
		return ErrNilManager
	}

	if mgr.redsync == nil {
		return ErrNotInitialized
	}

	if fn == nil {
		return ErrNilFn
	}

	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}

	if err := opts.validate(); err != nil {
		return err
	}

	safeKey := safeKeyForLogs(key)

	mutex := mgr.redsync.NewMutex(key,
		redsync.WithExpiry(opts.Expiry),
		redsync.WithTries(opts.Tries),
		redsync.WithRetryDelay(opts.RetryDelay),
		redsync.WithDriftFactor(opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		mgr.logger.Log(ctx, log.LevelError, "failed to acquire lock",
			log.String("lock_key", safeKey), log.Err(err))

		return fmt.Errorf("acquire lock %s: %w", safeKey, err)
	}

	defer func() {
		if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
			mgr.logger.Log(ctx, log.LevelError, "failed to release lock",
				log.String("lock_key", safeKey), log.Bool("unlock_ok", ok), log.Err(err))
		}
	}()

	if err := fn(ctx); err != nil {
		return fmt.Errorf("under lock %s: %w", safeKey, err)
	}

	return nil
}

// TryLock attempts a single acquisition without retrying. It reports false
// when another holder owns the lock; errors are reserved for real failures
// such as network problems or context cancellation.
func (mgr *Manager) TryLock(ctx context.Context, key string) (*Handle, bool, error) {
	if mgr == nil {
		return nil, false, ErrNilManager
	}

	if mgr.redsync == nil {
		return nil, false, ErrNotInitialized
	}

	if strings.TrimSpace(key) == "" {
		return nil, false, ErrEmptyKey
	}

	safeKey := safeKeyForLogs(key)

	mutex := mgr.redsync.NewMutex(key,
		redsync.WithExpiry(DefaultOptions().Expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) || strings.Contains(err.Error(), "lock already taken") {
			mgr.logger.Log(ctx, log.LevelDebug, "lock held elsewhere", log.String("lock_key", safeKey))

			return nil, false, nil
		}

		return nil, false, fmt.Errorf("try lock %s: %w", safeKey, err)
	}

	return &Handle{mutex: mutex, logger: mgr.logger}, true, nil
}

// Handle is an acquired lock returned by TryLock.
type Handle struct {
	mutex  *redsync.Mutex
	logger log.Logger
}

// Unlock releases the lock.
func (hd *Handle) Unlock(ctx context.Context) error {
	if hd == nil || hd.mutex == nil {
		return ErrNotInitialized
	}

	ok, err := hd.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}

	if !ok {
		return ErrNotHeld
	}

	return nil
}

func (opts Options) validate() error {
	switch {
	case opts.Expiry <= 0:
		return fmt.Errorf("%w: expiry must be positive", ErrInvalidOptions)
	case opts.Tries < 1:
		return fmt.Errorf("%w: tries must be at least 1", ErrInvalidOptions)
	case opts.Tries > maxTries:
		return fmt.Errorf("%w: tries exceeds maximum %d", ErrInvalidOptions, maxTries)
	case opts.RetryDelay < 0:
		return fmt.Errorf("%w: retry delay cannot be negative", ErrInvalidOptions)
	case opts.DriftFactor < 0 || opts.DriftFactor >= 1:
		return fmt.Errorf("%w: drift factor must be in [0, 1)", ErrInvalidOptions)
	}

	return nil
}

// safeKeyForLogs escapes and truncates a lock key before logging it.
func safeKeyForLogs(key string) string {
	const maxLen = 128

	safe := strconv.QuoteToASCII(key)
	if len(safe) <= maxLen {
		return safe
	}

	return safe[:maxLen] + "...(truncated)"
}
