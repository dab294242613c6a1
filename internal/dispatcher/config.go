package dispatcher

import "time"

// Config parameterizes one dispatcher (outbox or inbox) instance.
type Config struct {
	BatchSize     int
	LeaseDuration time.Duration
	MaxAttempts   int
	Backoff       BackoffPolicy
	OwnerPrefix   string
}
