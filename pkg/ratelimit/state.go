// Package ratelimit tracks the Sentry API rate limit window and gates
// requests. It reads the X-Sentry-Rate-Limit-Remaining,
// X-Sentry-Rate-Limit-Limit and X-Sentry-Rate-Limit-Reset headers and keeps
// the state in Redis so concurrent tap runs against the same organization
// share one view of the budget.
package ratelimit

import (
	"time"
)

// Redis key suffixes for rate limit state storage. Keys are prefixed with
// the tracker's namespace.
const (
	keyRemaining = "remaining"
	keyLimit     = "limit"
	keyResetAt   = "reset_at"
	keyUpdatedAt = "updated_at"
)

// Thresholds on the requests remaining in the current window.
const (
	// RemainingCritical blocks requests until the window resets.
	RemainingCritical = 1

	// RemainingWarning applies throttling below this value.
	RemainingWarning = 5

	// RemainingHealthy indicates normal operation at or above this value.
	RemainingHealthy = 20
)

// State is the rate limit window as last reported by Sentry.
type State struct {
	// Remaining is the number of requests left in the window.
	Remaining int `json:"remaining"`

	// Limit is the window size, 0 when the header was absent.
	Limit int `json:"limit"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// UpdatedAt is when the state was last written.
	UpdatedAt time.Time `json:"updated_at"`

	// IsHealthy is true when Remaining >= RemainingHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// NeedsCriticalBlock returns true if requests must wait for the reset.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < RemainingCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < RemainingWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= RemainingHealthy
}
