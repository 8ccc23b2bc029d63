// Package errors defines the entitlement error taxonomy and its HTTP
// rendering. The lifecycle manager preserves these kinds internally even
// where the caller-facing contract collapses to a boolean, so logs and tests
// can assert on why an operation failed, not just that it failed.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Sentinel errors for license operations.
var (
	// ErrLicenseNotFound - the key does not match any record.
	ErrLicenseNotFound = errors.New("license not found")
	// ErrLicenseExpired - the record was located but is past its expiry.
	ErrLicenseExpired = errors.New("license expired")
	// ErrMachineMismatch - the record is bound to a different fingerprint.
	ErrMachineMismatch = errors.New("license bound to a different machine")
	// ErrFingerprintDegraded - hardware probing failed and the fallback
	// fingerprint was used. Not fatal, but must stay observable.
	ErrFingerprintDegraded = errors.New("fingerprint degraded to fallback source")
	// ErrPersistence - the record store read or write failed. Distinct from
	// "definitely unlicensed" so callers can avoid failing closed on it.
	ErrPersistence = errors.New("license store operation failed")
	// ErrRateLimited - too many activation attempts.
	ErrRateLimited = errors.New("activation rate limited")
	// ErrInvalidKeyFormat - the key does not match the canonical format.
	ErrInvalidKeyFormat = errors.New("invalid license key format")
	// ErrKeyCollision - issuance generated a key that already exists.
	ErrKeyCollision = errors.New("license key collision")
	// ErrEmptyEmail - issuance requires a non-empty email.
	ErrEmptyEmail = errors.New("email is required")
	// ErrInvalidTier - unknown entitlement tier.
	ErrInvalidTier = errors.New("invalid license tier")
)

// Error codes surfaced to the caller alongside the boolean result.
const (
	CodeNotFound            = "LICENSE_NOT_FOUND"
	CodeExpired             = "LICENSE_EXPIRED"
	CodeMachineMismatch     = "MACHINE_MISMATCH"
	CodeFingerprintDegraded = "FINGERPRINT_DEGRADED"
	CodePersistence         = "PERSISTENCE_FAILURE"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInvalidFormat       = "INVALID_KEY_FORMAT"
	CodeKeyCollision        = "KEY_COLLISION"
	CodeEmptyEmail          = "EMAIL_REQUIRED"
	CodeInvalidTier         = "INVALID_TIER"
	CodeInternal            = "INTERNAL_ERROR"
)

// Code maps an error to its stable caller-facing code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrLicenseNotFound):
		return CodeNotFound
	case errors.Is(err, ErrLicenseExpired):
		return CodeExpired
	case errors.Is(err, ErrMachineMismatch):
		return CodeMachineMismatch
	case errors.Is(err, ErrFingerprintDegraded):
		return CodeFingerprintDegraded
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrInvalidKeyFormat):
		return CodeInvalidFormat
	case errors.Is(err, ErrKeyCollision):
		return CodeKeyCollision
	case errors.Is(err, ErrEmptyEmail):
		return CodeEmptyEmail
	case errors.Is(err, ErrInvalidTier):
		return CodeInvalidTier
	default:
		return CodeInternal
	}
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface.
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON includes extension members alongside the standard fields.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error.
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension member to the problem details.
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapLicenseError maps domain errors to HTTP problem details.
func MapLicenseError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	base := func(status int, problemType, title, detail string) *ProblemDetails {
		return NewProblemDetails(status, problemType, title, detail, instance).
			WithExtension("trace_id", traceID).
			WithExtension("error_code", Code(err))
	}

	switch {
	case errors.Is(err, ErrLicenseNotFound):
		return base(http.StatusNotFound, "/errors/license-not-found",
			"License Not Found",
			"The specified license key was not found.")
	case errors.Is(err, ErrLicenseExpired):
		return base(http.StatusForbidden, "/errors/license-expired",
			"License Expired",
			"Your license has expired. Please renew to continue.")
	case errors.Is(err, ErrMachineMismatch):
		return base(http.StatusConflict, "/errors/machine-mismatch",
			"Machine Mismatch",
			"This license is registered to a different machine.")
	case errors.Is(err, ErrInvalidKeyFormat):
		return base(http.StatusBadRequest, "/errors/invalid-license-format",
			"Invalid License Format",
			"License key must be in format: XXXXX-XXXXX-XXXXX-XXXXX-XXXXX.").
			WithExtension("expected_format", "XXXXX-XXXXX-XXXXX-XXXXX-XXXXX")
	case errors.Is(err, ErrRateLimited):
		return base(http.StatusTooManyRequests, "/errors/rate-limited",
			"Too Many Requests",
			"Too many activation attempts. Please try again later.").
			WithExtension("retry_after", 60)
	case errors.Is(err, ErrEmptyEmail):
		return base(http.StatusBadRequest, "/errors/email-required",
			"Email Required",
			"A non-empty email is required to issue a license.")
	case errors.Is(err, ErrInvalidTier):
		return base(http.StatusBadRequest, "/errors/invalid-tier",
			"Invalid Tier",
			"Tier must be one of: trial, monthly, yearly, lifetime.")
	case errors.Is(err, ErrPersistence):
		return base(http.StatusServiceUnavailable, "/errors/store-unavailable",
			"License Store Unavailable",
			"Could not determine licensing status. Please try again.")
	default:
		return base(http.StatusInternalServerError, "/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.")
	}
}
