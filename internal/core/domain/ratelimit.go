package domain

import "time"

// RateLimitDecision is the outcome of counting one request against a fixed window.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Count      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}
