package breaker

import "time"

// Config holds circuit breaker thresholds for one downstream call path.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from closed to open.
	FailureThreshold uint32

	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open trial call.
	ResetTimeout time.Duration

	// Interval is the cyclic period in which closed-state counts are
	// cleared. Zero keeps counts for the lifetime of the closed state.
	Interval time.Duration

	// HalfOpenMaxRequests is the number of trial requests admitted while
	// half-open. The orchestrator uses a single trial.
	HalfOpenMaxRequests uint32
}

// DefaultConfig provides balanced settings for module clients.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		Interval:            2 * time.Minute,
		HalfOpenMaxRequests: 1,
	}
}

// AggressiveConfig trips fast; suited to latency-sensitive read paths.
func AggressiveConfig() Config {
	return Config{
		FailureThreshold:    3,
		ResetTimeout:        10 * time.Second,
		Interval:            time.Minute,
		HalfOpenMaxRequests: 1,
	}
}

func (cfg Config) normalized() Config {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}

	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}

	if cfg.HalfOpenMaxRequests == 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	return cfg
}
