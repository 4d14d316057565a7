package faults

import (
	"fmt"
	"time"
)

// Policy decides retryability per category and computes backoff delays.
// The category mapping is configuration, not a constant: deployments may
// reasonably treat service errors as terminal.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// RetryableCategories overrides the default mapping when non-nil.
	RetryableCategories map[Category]bool
}

// DefaultPolicy returns the standard policy: three retries, 1s base delay
// doubling up to 8s, network/service retryable.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   8 * time.Second,
	}
}

func (p Policy) retryable(c Category) bool {
	if p.RetryableCategories != nil {
		return p.RetryableCategories[c]
	}
	return c == CategoryNetwork || c == CategoryService
}

// Delay returns the backoff before retry attempt n (1-based). Growth is
// geometric from BaseDelay, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted returns the terminal error surfaced once the retry budget is
// spent. It is distinct from the original failure and never retryable.
func (p Policy) Exhausted(last *CategorizedError) *CategorizedError {
	cause := fmt.Errorf("retry budget exhausted after %d attempts", p.MaxRetries)
	if last != nil && last.Cause != nil {
		cause = fmt.Errorf("retry budget exhausted after %d attempts: last error: %w", p.MaxRetries, last.Cause)
	}
	return &CategorizedError{
		Category:    CategoryUnknown,
		Retryable:   false,
		UserMessage: fmt.Sprintf("Could not establish the call after %d attempts. Please try again later.", p.MaxRetries),
		Cause:       cause,
	}
}
