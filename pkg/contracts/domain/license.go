// Package domain contains the core domain models for the entitlement
// subsystem. These types serve as the Single Source of Truth (SSOT) for the
// store, service, and transport layers.
package domain

import (
	"regexp"
	"time"
)

// Tier is the entitlement class of a license. Each tier maps to a fixed
// validity duration via the entitlement policy.
type Tier string

const (
	TierTrial    Tier = "trial"
	TierMonthly  Tier = "monthly"
	TierYearly   Tier = "yearly"
	TierLifetime Tier = "lifetime"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierTrial, TierMonthly, TierYearly, TierLifetime:
		return true
	}
	return false
}

// KeyPattern is the canonical license key format: five uppercase
// alphanumeric groups of five characters joined by hyphens.
var KeyPattern = regexp.MustCompile(`^[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}$`)

// ValidKeyFormat reports whether key matches the canonical format.
// Records are validated against this on import and on activation input.
func ValidKeyFormat(key string) bool {
	return KeyPattern.MatchString(key)
}

// LicenseRecord is the sole persisted entity of the subsystem.
//
// Invariants enforced by the lifecycle manager:
//   - ExpiresAt == IssuedAt + policy duration, computed once at issuance.
//   - MachineID is write-once: bound on first successful activation.
//   - IsActive flips to false exactly once when validation discovers expiry.
type LicenseRecord struct {
	ID          uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	LicenseKey  string         `json:"license_key" gorm:"uniqueIndex;size:29;not null" validate:"required"`
	UserEmail   string         `json:"user_email" gorm:"not null" validate:"required,email"`
	UserName    string         `json:"user_name,omitempty"`
	Tier        Tier           `json:"tier" gorm:"not null" validate:"required"`
	IssuedAt    time.Time      `json:"issued_at" gorm:"not null"`
	ExpiresAt   time.Time      `json:"expires_at" gorm:"not null"`
	IsActive    bool           `json:"is_active"`
	ActivatedAt *time.Time     `json:"activated_at,omitempty"`
	MachineID   string         `json:"machine_id,omitempty" gorm:"index"`
}

// Expired reports whether the record is past its expiry at the given time.
func (r *LicenseRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Activated reports whether the record has been bound to a machine.
func (r *LicenseRecord) Activated() bool {
	return r.ActivatedAt != nil
}

// IssueRequest is the payload for issuing a new license.
type IssueRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name,omitempty"`
	Tier  Tier   `json:"tier" validate:"required"`
}

// ActivateRequest is the payload for binding a license key to this machine.
type ActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
}

// ActivationResponse reports the outcome of an activation attempt. The
// boolean contract matches what the desktop caller expects; ErrorCode
// carries the specific failure kind that the source design used to discard.
type ActivationResponse struct {
	Activated bool           `json:"activated"`
	Message   string         `json:"message,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Record    *LicenseRecord `json:"record,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StatusResponse describes the license currently bound to this machine.
type StatusResponse struct {
	Licensed      bool           `json:"licensed"`
	RemainingDays int            `json:"remaining_days"`
	Degraded      bool           `json:"degraded_fingerprint,omitempty"`
	Record        *LicenseRecord `json:"record,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ValidationResponse is the result of a validation pass.
type ValidationResponse struct {
	Valid     bool      `json:"valid"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TrialResponse reports the outcome of the atomic first-run trial flow.
type TrialResponse struct {
	Issued bool           `json:"issued"`
	Record *LicenseRecord `json:"record,omitempty"`
}
