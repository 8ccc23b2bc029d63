package license

import (
	"time"

	apperrors "entitle/internal/errors"
	"entitle/pkg/contracts/domain"
)

// DefaultTrialDays is the canonical trial length. The source system defined
// the trial in two places with different values; this policy is the single
// authority and the length is configurable in exactly one place.
const DefaultTrialDays = 7

// lifetimeYears is a practical "forever" sentinel, not a true unbounded value.
const lifetimeYears = 100

// Policy is the pure mapping from license tier to validity window.
type Policy struct {
	trialDays int
}

// NewPolicy creates a policy with the given trial length in days.
// Non-positive values fall back to the default.
func NewPolicy(trialDays int) *Policy {
	if trialDays < 1 {
		trialDays = DefaultTrialDays
	}
	return &Policy{trialDays: trialDays}
}

// ExpiryFrom computes the expiry for a license issued at issuedAt. Monthly
// and yearly tiers are calendar-aware (a monthly license issued Jan 31 is
// valid through the end of February, not 30 flat days).
func (p *Policy) ExpiryFrom(issuedAt time.Time, tier domain.Tier) (time.Time, error) {
	switch tier {
	case domain.TierTrial:
		return issuedAt.AddDate(0, 0, p.trialDays), nil
	case domain.TierMonthly:
		return issuedAt.AddDate(0, 1, 0), nil
	case domain.TierYearly:
		return issuedAt.AddDate(1, 0, 0), nil
	case domain.TierLifetime:
		return issuedAt.AddDate(lifetimeYears, 0, 0), nil
	default:
		return time.Time{}, apperrors.ErrInvalidTier
	}
}

// TrialDays returns the configured trial length.
func (p *Policy) TrialDays() int {
	return p.trialDays
}
