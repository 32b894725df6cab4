package resilience

import "time"

// Circuit breaker configuration constants
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// OCR strategies: a missing tool or shortcut rarely appears within minutes,
	// and every failed attempt can cost a full strategy timeout.
	StrategyThreshold         = 3
	StrategyResetTimeout      = 5 * time.Minute
	StrategyHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig returns general-purpose defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// StrategyConfig returns settings for wrapping a single OCR strategy.
func StrategyConfig() Config {
	return Config{
		Threshold:         StrategyThreshold,
		ResetTimeout:      StrategyResetTimeout,
		HalfOpenSuccesses: StrategyHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
