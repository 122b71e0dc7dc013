package backoff

import (
	"time"

	"github.com/cfprelay/cfprelay/pkg/model"
)

// Delay returns how long to wait before retry attempt n (1-based):
// base * 2^(n-1), capped at model.MaxRetryDelay. Deterministic, no jitter;
// the scheduler relies on exact values.
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Shifting a duration past 32 doublings overflows int64 long before the
	// cap applies, so bail out early for large attempt counts.
	if attempt-1 > 32 {
		return model.MaxRetryDelay
	}
	delay := model.BaseRetryDelay << uint(attempt-1)
	if delay <= 0 || delay > model.MaxRetryDelay {
		return model.MaxRetryDelay
	}
	return delay
}
