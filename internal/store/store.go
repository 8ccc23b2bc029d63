// Package store persists license records in a local SQLite database. All
// mutating operations run inside transactions so the lifecycle manager's
// read-modify-write cycles observe single-call atomicity, and the first-run
// trial flow gets a genuine issue-if-absent rather than check-then-act.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "entitle/internal/errors"
	"entitle/pkg/contracts/domain"
)

// LicenseStore is the durable collection of license records.
type LicenseStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path and migrates the
// license schema. Record ids are assigned by SQLite AUTOINCREMENT, which is
// monotonic and never reuses ids within a database's lifetime.
func Open(path string, log *slog.Logger) (*LicenseStore, error) {
	return open(sqlite.Open(path), log)
}

// OpenInMemory opens a shared in-memory database. Test use only.
func OpenInMemory(log *slog.Logger) (*LicenseStore, error) {
	return open(sqlite.Open("file::memory:?cache=shared"), log)
}

func open(dialector gorm.Dialector, log *slog.Logger) (*LicenseStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", apperrors.ErrPersistence, err)
	}
	if err := db.AutoMigrate(&domain.LicenseRecord{}); err != nil {
		return nil, fmt.Errorf("%w: migrate schema: %v", apperrors.ErrPersistence, err)
	}
	return &LicenseStore{db: db, logger: log.With(slog.String("component", "license_store"))}, nil
}

// Close releases the underlying database handle.
func (s *LicenseStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database is reachable. Used by health checks.
func (s *LicenseStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: ping: %v", apperrors.ErrPersistence, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

// FindAll returns every persisted record.
func (s *LicenseStore) FindAll(ctx context.Context) ([]domain.LicenseRecord, error) {
	var records []domain.LicenseRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: find all: %v", apperrors.ErrPersistence, err)
	}
	return records, nil
}

// FindByKey returns the record for the given license key, or nil when the
// key matches no record. Keys failing the canonical format are rejected
// before touching the database (format is validated on import).
func (s *LicenseStore) FindByKey(ctx context.Context, key string) (*domain.LicenseRecord, error) {
	if !domain.ValidKeyFormat(key) {
		return nil, apperrors.ErrInvalidKeyFormat
	}
	var record domain.LicenseRecord
	err := s.db.WithContext(ctx).Where("license_key = ?", key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find by key: %v", apperrors.ErrPersistence, err)
	}
	return &record, nil
}

// FindActiveByMachine returns all active records bound to the given
// fingerprint, newest expiry first.
func (s *LicenseStore) FindActiveByMachine(ctx context.Context, machineID string) ([]domain.LicenseRecord, error) {
	var records []domain.LicenseRecord
	err := s.db.WithContext(ctx).
		Where("machine_id = ? AND is_active = ?", machineID, true).
		Order("expires_at desc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("%w: find active by machine: %v", apperrors.ErrPersistence, err)
	}
	return records, nil
}

// Upsert inserts the record when its id is zero and replaces it otherwise.
func (s *LicenseStore) Upsert(ctx context.Context, record *domain.LicenseRecord) error {
	if !domain.ValidKeyFormat(record.LicenseKey) {
		return apperrors.ErrInvalidKeyFormat
	}
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("%w: upsert: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

// CreateIfKeyAbsent inserts the record, reporting ErrKeyCollision when a
// record with the same key already exists. The check and insert run in one
// transaction so issuance can retry with a fresh key.
func (s *LicenseStore) CreateIfKeyAbsent(ctx context.Context, record *domain.LicenseRecord) error {
	if !domain.ValidKeyFormat(record.LicenseKey) {
		return apperrors.ErrInvalidKeyFormat
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.LicenseRecord{}).
			Where("license_key = ?", record.LicenseKey).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperrors.ErrKeyCollision
		}
		return tx.Create(record).Error
	})
	if errors.Is(err, apperrors.ErrKeyCollision) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: conditional create: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

// CreateIfEmpty inserts the record only when the store holds no records at
// all, in one transaction. It reports whether the insert happened. This is
// the atomic form of "issue a trial only on first run": two racing processes
// cannot both observe an empty store and both insert.
func (s *LicenseStore) CreateIfEmpty(ctx context.Context, record *domain.LicenseRecord) (bool, error) {
	if !domain.ValidKeyFormat(record.LicenseKey) {
		return false, apperrors.ErrInvalidKeyFormat
	}
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.LicenseRecord{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: create if empty: %v", apperrors.ErrPersistence, err)
	}
	return created, nil
}
