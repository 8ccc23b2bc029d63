// Package license implements the entitlement lifecycle: key generation,
// issuance, machine-bound activation, and time-based validation of trial and
// paid licenses against a local record store.
package license

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	apperrors "entitle/internal/errors"
	"entitle/internal/fingerprint"
	"entitle/internal/infrastructure"
	"entitle/pkg/contracts/domain"
)

// Store is the durable collection of license records the manager runs
// against. Implementations must make each call atomic; the manager
// additionally serializes its own read-modify-write cycles.
type Store interface {
	FindAll(ctx context.Context) ([]domain.LicenseRecord, error)
	FindByKey(ctx context.Context, key string) (*domain.LicenseRecord, error)
	FindActiveByMachine(ctx context.Context, machineID string) ([]domain.LicenseRecord, error)
	Upsert(ctx context.Context, record *domain.LicenseRecord) error
	CreateIfKeyAbsent(ctx context.Context, record *domain.LicenseRecord) error
	CreateIfEmpty(ctx context.Context, record *domain.LicenseRecord) (bool, error)
}

// Resolver produces the current machine's fingerprint.
type Resolver interface {
	Resolve(ctx context.Context) (fingerprint.Fingerprint, error)
}

// ManagerConfig carries the manager's dependencies and knobs.
type ManagerConfig struct {
	Store    Store
	Resolver Resolver
	Policy   *Policy
	// Secret signs generated keys and the validation state file. Injected,
	// never embedded.
	Secret        string
	Clock         Clock
	Logger        *slog.Logger
	Metrics       *infrastructure.LicenseMetrics
	StateFilePath string
	// ActivationRate/ActivationBurst bound activation attempts per second.
	ActivationRate  float64
	ActivationBurst int
}

// Manager orchestrates issue, activate, validate and query operations. It is
// the only component that mutates license records.
//
// Record state machine: Issued -> Activated -> Expired, one-way. Expiry is
// discovered by Validate, which flips IsActive to false exactly once.
type Manager struct {
	store    Store
	resolver Resolver
	policy   *Policy
	secret   string
	clock    Clock
	logger   *slog.Logger
	metrics  *infrastructure.LicenseMetrics
	limiter  *rate.Limiter

	stateFilePath string

	// mu serializes read-modify-write cycles against the store so two
	// concurrent activations cannot clobber each other's writes.
	mu sync.Mutex
}

// NewManager creates a lifecycle manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("license manager requires a store")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("license manager requires a fingerprint resolver")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("license manager requires a signing secret")
	}
	if cfg.Policy == nil {
		cfg.Policy = NewPolicy(DefaultTrialDays)
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ActivationRate <= 0 {
		cfg.ActivationRate = 1
	}
	if cfg.ActivationBurst < 1 {
		cfg.ActivationBurst = 5
	}

	return &Manager{
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		policy:        cfg.Policy,
		secret:        cfg.Secret,
		clock:         cfg.Clock,
		logger:        cfg.Logger.With(slog.String("component", "license_manager")),
		metrics:       cfg.Metrics,
		limiter:       rate.NewLimiter(rate.Limit(cfg.ActivationRate), cfg.ActivationBurst),
		stateFilePath: cfg.StateFilePath,
	}, nil
}

// Issue creates and persists a new license record. ExpiresAt is computed
// here, once, from the entitlement policy; it is never recomputed. The new
// record starts active but unbound (no activation time, no machine).
func (m *Manager) Issue(ctx context.Context, email, name string, tier domain.Tier) (*domain.LicenseRecord, error) {
	if email == "" {
		return nil, apperrors.ErrEmptyEmail
	}
	if !tier.Valid() {
		return nil, apperrors.ErrInvalidTier
	}

	now := m.clock.Now()
	expiresAt, err := m.policy.ExpiryFrom(now, tier)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record := &domain.LicenseRecord{
		LicenseKey: GenerateKey(email, tier, m.clock.Tick(), m.secret),
		UserEmail:  email,
		UserName:   name,
		Tier:       tier,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
		IsActive:   true,
	}

	err = m.store.CreateIfKeyAbsent(ctx, record)
	if isKeyCollision(err) {
		// Negligible probability, but cheap to close: one retry with a
		// fresh tick yields a fresh digest.
		m.logger.WarnContext(ctx, "license key collision on issuance, retrying",
			slog.String("email", email))
		record.LicenseKey = GenerateKey(email, tier, m.clock.Tick(), m.secret)
		err = m.store.CreateIfKeyAbsent(ctx, record)
	}
	if err != nil {
		return nil, err
	}

	m.countIssued(ctx, tier)
	m.logger.InfoContext(ctx, "license issued",
		slog.String("license_key", record.LicenseKey),
		slog.String("tier", string(tier)),
		slog.Time("expires_at", record.ExpiresAt))
	return record, nil
}

// IssueTrialIfAbsent issues a trial license only when the store holds no
// records yet. The decision and the insert are one atomic store operation,
// so concurrent first launches cannot both issue a trial. The trial is bound
// to the current machine immediately; there is no separate activation step
// in the first-run flow. Returns the current record and whether this call
// issued it.
func (m *Manager) IssueTrialIfAbsent(ctx context.Context, email, name string) (*domain.LicenseRecord, bool, error) {
	if email == "" {
		return nil, false, apperrors.ErrEmptyEmail
	}

	now := m.clock.Now()
	expiresAt, err := m.policy.ExpiryFrom(now, domain.TierTrial)
	if err != nil {
		return nil, false, err
	}

	fp, err := m.resolveFingerprint(ctx)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record := &domain.LicenseRecord{
		LicenseKey:  GenerateKey(email, domain.TierTrial, m.clock.Tick(), m.secret),
		UserEmail:   email,
		UserName:    name,
		Tier:        domain.TierTrial,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
		IsActive:    true,
		ActivatedAt: &now,
		MachineID:   fp.Value,
	}

	created, err := m.store.CreateIfEmpty(ctx, record)
	if err != nil {
		return nil, false, err
	}
	if created {
		m.countIssued(ctx, domain.TierTrial)
		m.logger.InfoContext(ctx, "first-run trial issued",
			slog.String("license_key", record.LicenseKey),
			slog.Time("expires_at", record.ExpiresAt))
		return record, true, nil
	}

	current, err := m.currentLocked(ctx)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// Activate binds the license identified by key to the current machine.
// Returns (false, kind) on failure; the kind preserves what the boolean
// contract loses. Re-activating on the same machine is idempotent and never
// rebinds MachineID.
func (m *Manager) Activate(ctx context.Context, key string) (bool, error) {
	m.countAttempt(ctx)

	if !m.limiter.Allow() {
		m.countActivationFailure(ctx, apperrors.ErrRateLimited)
		return false, apperrors.ErrRateLimited
	}
	if !domain.ValidKeyFormat(key) {
		m.countActivationFailure(ctx, apperrors.ErrInvalidKeyFormat)
		return false, apperrors.ErrInvalidKeyFormat
	}

	fp, err := m.resolveFingerprint(ctx)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.store.FindByKey(ctx, key)
	if err != nil {
		m.countActivationFailure(ctx, err)
		return false, err
	}
	if record == nil {
		m.countActivationFailure(ctx, apperrors.ErrLicenseNotFound)
		m.logger.WarnContext(ctx, "activation failed: unknown key",
			slog.String("license_key", key))
		return false, apperrors.ErrLicenseNotFound
	}

	now := m.clock.Now()
	if record.Expired(now) {
		m.countActivationFailure(ctx, apperrors.ErrLicenseExpired)
		m.logger.WarnContext(ctx, "activation failed: license expired",
			slog.String("license_key", key),
			slog.Time("expires_at", record.ExpiresAt))
		return false, apperrors.ErrLicenseExpired
	}

	// MachineID is write-once: a record bound elsewhere stays bound there.
	if record.MachineID != "" && record.MachineID != fp.Value {
		m.countActivationFailure(ctx, apperrors.ErrMachineMismatch)
		m.logger.WarnContext(ctx, "activation failed: bound to different machine",
			slog.String("license_key", key))
		return false, apperrors.ErrMachineMismatch
	}

	record.IsActive = true
	record.ActivatedAt = &now
	record.MachineID = fp.Value
	if err := m.store.Upsert(ctx, record); err != nil {
		m.countActivationFailure(ctx, err)
		return false, err
	}

	m.logger.InfoContext(ctx, "license activated",
		slog.String("license_key", key),
		slog.String("machine_id", fp.Value),
		slog.Bool("degraded_fingerprint", fp.Degraded))
	return true, nil
}

// Validate checks whether an unexpired active license is bound to this
// machine. Discovering an active-but-expired record deterministically flips
// IsActive to false and persists the change; the flip happens once and the
// record never transitions back. A store failure is returned as an error
// rather than a silent false, so callers can distinguish "definitely
// unlicensed" from "could not determine".
func (m *Manager) Validate(ctx context.Context) (bool, error) {
	m.countValidation(ctx)

	fp, err := m.resolveFingerprint(ctx)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.selectCurrent(ctx, fp.Value)
	if err != nil {
		m.countValidationFailure(ctx, err)
		return false, err
	}
	if record == nil {
		return false, nil
	}

	now := m.clock.Now()
	if record.Expired(now) {
		record.IsActive = false
		if err := m.store.Upsert(ctx, record); err != nil {
			m.countValidationFailure(ctx, err)
			return false, err
		}
		m.countValidationFailure(ctx, apperrors.ErrLicenseExpired)
		m.logger.InfoContext(ctx, "license expired, deactivated",
			slog.String("license_key", record.LicenseKey),
			slog.Time("expires_at", record.ExpiresAt))
		return false, nil
	}

	if m.stateFilePath != "" {
		// Best effort; a failed state file only costs the next startup a
		// full store round-trip.
		if err := m.writeStateFile(ctx, fp.Value); err != nil {
			m.logger.WarnContext(ctx, "failed to write validation state file",
				slog.String("error", err.Error()))
		}
	}
	return true, nil
}

// GetCurrent returns the license record currently bound to this machine, or
// nil when none. Read-only: unlike Validate it does not deactivate an
// expired record, so the two can disagree until Validate runs.
func (m *Manager) GetCurrent(ctx context.Context) (*domain.LicenseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(ctx)
}

func (m *Manager) currentLocked(ctx context.Context) (*domain.LicenseRecord, error) {
	fp, err := m.resolveFingerprint(ctx)
	if err != nil {
		return nil, err
	}
	return m.selectCurrent(ctx, fp.Value)
}

// selectCurrent picks the active record with the latest expiry for the
// machine. Ties are broken arbitrarily; duplicates are not expected.
func (m *Manager) selectCurrent(ctx context.Context, machineID string) (*domain.LicenseRecord, error) {
	records, err := m.store.FindActiveByMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.ExpiresAt.After(best.ExpiresAt) {
			best = r
		}
	}
	return &best, nil
}

// GetRemainingDays returns the whole days left on the current license,
// never negative; 0 when no record is bound to this machine.
func (m *Manager) GetRemainingDays(ctx context.Context) (int, error) {
	record, err := m.GetCurrent(ctx)
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, nil
	}
	remaining := int(record.ExpiresAt.Sub(m.clock.Now()).Hours() / 24)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Fingerprint exposes the resolved machine fingerprint, including whether
// it was degraded to the fallback source.
func (m *Manager) Fingerprint(ctx context.Context) (fingerprint.Fingerprint, error) {
	return m.resolveFingerprint(ctx)
}

func (m *Manager) resolveFingerprint(ctx context.Context) (fingerprint.Fingerprint, error) {
	fp, err := m.resolver.Resolve(ctx)
	if err != nil {
		return fingerprint.Fingerprint{}, err
	}
	if fp.Degraded && m.metrics != nil {
		m.metrics.DegradedResolutions.Add(ctx, 1)
	}
	return fp, nil
}

func isKeyCollision(err error) bool {
	return err != nil && apperrors.Code(err) == apperrors.CodeKeyCollision
}

func (m *Manager) countIssued(ctx context.Context, tier domain.Tier) {
	if m.metrics != nil {
		m.metrics.IssuedTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("tier", string(tier))))
	}
}

func (m *Manager) countAttempt(ctx context.Context) {
	if m.metrics != nil {
		m.metrics.ActivationAttempts.Add(ctx, 1)
	}
}

func (m *Manager) countActivationFailure(ctx context.Context, err error) {
	if m.metrics != nil {
		m.metrics.ActivationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", apperrors.Code(err))))
	}
}

func (m *Manager) countValidation(ctx context.Context) {
	if m.metrics != nil {
		m.metrics.ValidationsTotal.Add(ctx, 1)
	}
}

func (m *Manager) countValidationFailure(ctx context.Context, err error) {
	if m.metrics != nil {
		m.metrics.ValidationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", apperrors.Code(err))))
	}
}
