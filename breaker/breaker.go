// Package breaker guards calls into downstream modules with circuit
// breakers. Every public orchestration operation runs through Execute, which
// short-circuits to a caller-supplied fallback when the downstream is
// considered unhealthy. The underlying error never reaches the caller.
package breaker

import (
	"context"
	"errors"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/meridian-commerce/orchestrator/log"
)

// ErrNilRegistry is returned when a method is called on a nil Registry.
var ErrNilRegistry = errors.New("breaker registry is nil")

// State represents the admission state of one circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Counts is a snapshot of one circuit breaker's statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Registry manages one circuit breaker per downstream call path.
type Registry struct {
	mu         sync.RWMutex
	breakers   map[string]*gobreaker.CircuitBreaker
	configs    map[string]Config
	defaultCfg Config
	logger     log.Logger
}

// NewRegistry creates a circuit breaker registry. Breakers created lazily by
// Execute use defaultCfg.
func NewRegistry(defaultCfg Config, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Registry{
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		configs:    make(map[string]Config),
		defaultCfg: defaultCfg.normalized(),
		logger:     logger,
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// config when absent.
func (reg *Registry) GetOrCreate(name string, config Config) *gobreaker.CircuitBreaker {
	reg.mu.RLock()
	cb, exists := reg.breakers[name]
	reg.mu.RUnlock()

	if exists {
		return cb
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	// Double-check after acquiring the write lock.
	if cb, exists = reg.breakers[name]; exists {
		return cb
	}

	config = config.normalized()
	cb = gobreaker.NewCircuitBreaker(reg.settings(name, config))
	reg.breakers[name] = cb
	reg.configs[name] = config

	reg.logger.Log(context.Background(), log.LevelInfo, "circuit breaker created",
		log.String("breaker", name))

	return cb
}

// Execute runs op through the breaker registered under name. When the breaker
// is open, or op returns an error, the fallback result is returned and the
// error is logged and swallowed. op is never invoked while the breaker is
// open.
func (reg *Registry) Execute(ctx context.Context, name string, op func() (any, error), fallback func() any) any {
	cb := reg.GetOrCreate(name, reg.defaultCfg)

	result, err := cb.Execute(op)
	if err == nil {
		return result
	}

	level := log.LevelWarn
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		level = log.LevelDebug
	}

	reg.logger.Log(ctx, level, "circuit breaker falling back",
		log.String("breaker", name),
		log.Err(err))

	return fallback()
}

// RecordFailure counts an out-of-band failure against the breaker registered
// under name. Used to couple event-handling health to call admission.
func (reg *Registry) RecordFailure(name string, cause error) {
	if cause == nil {
		return
	}

	cb := reg.GetOrCreate(name, reg.defaultCfg)

	// An open breaker rejects the probe without counting; that is fine, the
	// breaker is already tripped.
	_, _ = cb.Execute(func() (any, error) { return nil, cause })
}

// Reset forces the breaker registered under name back to closed with a zero
// failure counter. Used when an external signal indicates the downstream has
// recovered. gobreaker has no in-place reset, so the breaker is recreated
// with its stored configuration.
func (reg *Registry) Reset(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	config, exists := reg.configs[name]
	if !exists {
		return
	}

	reg.breakers[name] = gobreaker.NewCircuitBreaker(reg.settings(name, config))

	reg.logger.Log(context.Background(), log.LevelInfo, "circuit breaker reset",
		log.String("breaker", name))
}

// State returns the current admission state of the named breaker.
func (reg *Registry) State(name string) State {
	reg.mu.RLock()
	cb, exists := reg.breakers[name]
	reg.mu.RUnlock()

	if !exists {
		return StateUnknown
	}

	return convertState(cb.State())
}

// Counts returns a statistics snapshot for the named breaker.
func (reg *Registry) Counts(name string) Counts {
	reg.mu.RLock()
	cb, exists := reg.breakers[name]
	reg.mu.RUnlock()

	if !exists {
		return Counts{}
	}

	counts := cb.Counts()

	return Counts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// Healthy reports whether the named breaker admits calls normally.
func (reg *Registry) Healthy(name string) bool {
	return reg.State(name) == StateClosed
}

func (reg *Registry) settings(name string, config Config) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: config.HalfOpenMaxRequests,
		Interval:    config.Interval,
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			reg.logStateChange(name, convertState(from), convertState(to))
		},
	}
}

func (reg *Registry) logStateChange(name string, from, to State) {
	level := log.LevelInfo
	if to == StateOpen {
		level = log.LevelError
	}

	reg.logger.Log(context.Background(), level, "circuit breaker state changed",
		log.String("breaker", name),
		log.String("from", string(from)),
		log.String("to", string(to)))
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
