// Package services contains the business-logic layer between the license
// lifecycle manager and the HTTP transport. Services own request validation,
// trace-id propagation and response shaping; the manager owns the lifecycle
// rules.
package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "entitle/internal/errors"
	"entitle/internal/fingerprint"
	"entitle/internal/infrastructure"
	"entitle/pkg/contracts/domain"
)

// LicenseManager is the slice of the lifecycle manager the service needs.
type LicenseManager interface {
	Issue(ctx context.Context, email, name string, tier domain.Tier) (*domain.LicenseRecord, error)
	IssueTrialIfAbsent(ctx context.Context, email, name string) (*domain.LicenseRecord, bool, error)
	Activate(ctx context.Context, key string) (bool, error)
	Validate(ctx context.Context) (bool, error)
	GetCurrent(ctx context.Context) (*domain.LicenseRecord, error)
	GetRemainingDays(ctx context.Context) (int, error)
	Fingerprint(ctx context.Context) (fingerprint.Fingerprint, error)
}

// LicenseService exposes the entitlement operations to the transport layer.
type LicenseService interface {
	Issue(ctx context.Context, req domain.IssueRequest) (*domain.LicenseRecord, error)
	Activate(ctx context.Context, key string) (*domain.ActivationResponse, error)
	Validate(ctx context.Context) (*domain.ValidationResponse, error)
	Status(ctx context.Context) (*domain.StatusResponse, error)
	Trial(ctx context.Context, req domain.IssueRequest) (*domain.TrialResponse, error)
}

type licenseService struct {
	manager  LicenseManager
	logger   *slog.Logger
	validate *validator.Validate
}

// NewLicenseService creates the license business-logic service.
func NewLicenseService(manager LicenseManager, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		manager:  manager,
		logger:   logger.With(slog.String("service", "license")),
		validate: validator.New(),
	}
}

// Issue creates a new license record after validating the request payload.
func (s *licenseService) Issue(ctx context.Context, req domain.IssueRequest) (*domain.LicenseRecord, error) {
	traceID := s.traceID(ctx)

	if err := s.validate.Struct(req); err != nil {
		s.logger.WarnContext(ctx, "issue request failed validation",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()))
		if strings.Contains(err.Error(), "Email") {
			return nil, apperrors.ErrEmptyEmail
		}
		return nil, apperrors.ErrInvalidTier
	}

	record, err := s.manager.Issue(ctx, req.Email, req.Name, req.Tier)
	if err != nil {
		s.logger.ErrorContext(ctx, "license issuance failed",
			slog.String("trace_id", traceID),
			slog.String("tier", string(req.Tier)),
			slog.String("error", err.Error()))
		return nil, err
	}

	s.logger.InfoContext(ctx, "license issued",
		slog.String("trace_id", traceID),
		slog.String("license_key", maskLicenseKey(record.LicenseKey)),
		slog.String("tier", string(record.Tier)))
	return record, nil
}

// Activate binds the given key to this machine. The response always carries
// the boolean outcome; on failure the error code names the specific kind and
// the error itself is returned for transport-level mapping.
func (s *licenseService) Activate(ctx context.Context, key string) (*domain.ActivationResponse, error) {
	traceID := s.traceID(ctx)

	activated, err := s.manager.Activate(ctx, key)
	resp := &domain.ActivationResponse{
		Activated: activated,
		TraceID:   traceID,
		Timestamp: time.Now(),
	}
	if err != nil {
		resp.ErrorCode = apperrors.Code(err)
		resp.Message = activationMessage(err)
		s.logger.WarnContext(ctx, "license activation failed",
			slog.String("trace_id", traceID),
			slog.String("license_key", maskLicenseKey(key)),
			slog.String("error_code", resp.ErrorCode))
		return resp, err
	}

	resp.Message = "license activated on this machine"
	if record, recErr := s.manager.GetCurrent(ctx); recErr == nil {
		resp.Record = record
	}
	s.logger.InfoContext(ctx, "license activated",
		slog.String("trace_id", traceID),
		slog.String("license_key", maskLicenseKey(key)))
	return resp, nil
}

// Validate runs a full validation pass against the record store.
func (s *licenseService) Validate(ctx context.Context) (*domain.ValidationResponse, error) {
	traceID := s.traceID(ctx)

	valid, err := s.manager.Validate(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "license validation failed",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()))
		return nil, err
	}

	return &domain.ValidationResponse{
		Valid:     valid,
		TraceID:   traceID,
		Timestamp: time.Now(),
	}, nil
}

// Status reports the license currently bound to this machine without
// mutating any record.
func (s *licenseService) Status(ctx context.Context) (*domain.StatusResponse, error) {
	traceID := s.traceID(ctx)

	record, err := s.manager.GetCurrent(ctx)
	if err != nil {
		return nil, err
	}

	resp := &domain.StatusResponse{
		Licensed:  record != nil,
		Record:    record,
		TraceID:   traceID,
		Timestamp: time.Now(),
	}
	if record != nil {
		days, err := s.manager.GetRemainingDays(ctx)
		if err != nil {
			return nil, err
		}
		resp.RemainingDays = days
	}
	if fp, err := s.manager.Fingerprint(ctx); err == nil {
		resp.Degraded = fp.Degraded
	}
	return resp, nil
}

// Trial runs the atomic first-run flow: issue a trial only when the store
// holds no records, otherwise report the existing license.
func (s *licenseService) Trial(ctx context.Context, req domain.IssueRequest) (*domain.TrialResponse, error) {
	traceID := s.traceID(ctx)

	if req.Email == "" {
		return nil, apperrors.ErrEmptyEmail
	}

	record, issued, err := s.manager.IssueTrialIfAbsent(ctx, req.Email, req.Name)
	if err != nil {
		s.logger.ErrorContext(ctx, "first-run trial flow failed",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()))
		return nil, err
	}

	if issued {
		s.logger.InfoContext(ctx, "first-run trial issued",
			slog.String("trace_id", traceID),
			slog.String("license_key", maskLicenseKey(record.LicenseKey)))
	}
	return &domain.TrialResponse{Issued: issued, Record: record}, nil
}

// traceID prefers the chi request id, then any trace id already on the
// context, and mints one otherwise so log lines always correlate.
func (s *licenseService) traceID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	if id := infrastructure.TraceIDFromContext(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

// maskLicenseKey keeps the first group for correlation and hides the rest.
func maskLicenseKey(key string) string {
	if len(key) < 5 {
		return "*****"
	}
	return key[:5] + "-*****-*****-*****-*****"
}

func activationMessage(err error) string {
	switch apperrors.Code(err) {
	case apperrors.CodeNotFound:
		return "license key not found"
	case apperrors.CodeExpired:
		return "license has expired"
	case apperrors.CodeMachineMismatch:
		return "license is bound to a different machine"
	case apperrors.CodeInvalidFormat:
		return "license key format is invalid"
	case apperrors.CodeRateLimited:
		return "too many activation attempts, try again later"
	default:
		return "activation failed"
	}
}
