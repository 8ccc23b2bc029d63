// Package testutil provides shared fixtures and log-capture helpers for
// entitlement tests.
package testutil

import (
	"time"

	"entitle/pkg/contracts/domain"
)

// Canonical fixture values used across test packages.
const (
	FixtureEmail     = "test@example.com"
	FixtureMachineID = "fixture-machine-fingerprint-0001"
)

// ValidRecord returns an activated monthly license with 30 days left,
// bound to machineID.
func ValidRecord(machineID string) *domain.LicenseRecord {
	now := time.Now()
	activatedAt := now.Add(-24 * time.Hour)
	return &domain.LicenseRecord{
		LicenseKey:  "VALID-AAAAA-BBBBB-CCCCC-DDDDD",
		UserEmail:   FixtureEmail,
		UserName:    "Test User",
		Tier:        domain.TierMonthly,
		IssuedAt:    now.Add(-24 * time.Hour),
		ExpiresAt:   now.Add(30 * 24 * time.Hour),
		IsActive:    true,
		ActivatedAt: &activatedAt,
		MachineID:   machineID,
	}
}

// ExpiredRecord returns a license whose expiry passed ten days ago but whose
// IsActive flag has not been flipped yet, bound to machineID.
func ExpiredRecord(machineID string) *domain.LicenseRecord {
	now := time.Now()
	activatedAt := now.Add(-40 * 24 * time.Hour)
	return &domain.LicenseRecord{
		LicenseKey:  "EXPRD-AAAAA-BBBBB-CCCCC-DDDDD",
		UserEmail:   FixtureEmail,
		Tier:        domain.TierMonthly,
		IssuedAt:    now.Add(-40 * 24 * time.Hour),
		ExpiresAt:   now.Add(-10 * 24 * time.Hour),
		IsActive:    true,
		ActivatedAt: &activatedAt,
		MachineID:   machineID,
	}
}

// UnboundRecord returns a freshly issued yearly license that has never been
// activated on any machine.
func UnboundRecord() *domain.LicenseRecord {
	now := time.Now()
	return &domain.LicenseRecord{
		LicenseKey: "FRESH-AAAAA-BBBBB-CCCCC-DDDDD",
		UserEmail:  FixtureEmail,
		Tier:       domain.TierYearly,
		IssuedAt:   now,
		ExpiresAt:  now.AddDate(1, 0, 0),
		IsActive:   true,
	}
}
