package llm

import "time"

// RetryConfig bounds the per-endpoint retry loop for model requests.
// Only transient failures retry; fatal errors skip straight to the
// next endpoint in the fallback chain.
type RetryConfig struct {
	// MaxAttempts caps attempts against a single endpoint.
	MaxAttempts int

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier grows the delay between consecutive retries.
	BackoffMultiplier float64

	// MaxBackoff bounds the grown delay.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the standard retry posture: three
// attempts with 2s/4s pauses, never waiting longer than 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}
