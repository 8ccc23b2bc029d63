package license

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/crypto/scrypt"
)

// stateFileTTL bounds how long a validation result may be trusted without a
// full store round-trip.
const stateFileTTL = 5 * time.Minute

// scrypt parameters for deriving the state-file signing key from the
// configured secret.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// StateFile records a recent successful validation so startup can skip a
// full store pass. It is signed with an HMAC keyed from the injected secret;
// a stale, tampered or foreign-machine file is simply ignored.
type StateFile struct {
	ValidatedAt time.Time `json:"validated_at"`
	ValidUntil  time.Time `json:"valid_until"`
	MachineID   string    `json:"machine_id"`
	Salt        string    `json:"salt"`
	Signature   string    `json:"signature"`
}

// writeStateFile persists a signed validation state for the given machine.
func (m *Manager) writeStateFile(ctx context.Context, machineID string) error {
	now := m.clock.Now()
	state := StateFile{
		ValidatedAt: now,
		ValidUntil:  now.Add(stateFileTTL),
		MachineID:   machineID,
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	state.Salt = hex.EncodeToString(salt)

	signature, err := m.signState(state)
	if err != nil {
		return err
	}
	state.Signature = signature

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state file: %w", err)
	}
	if err := os.WriteFile(m.stateFilePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	m.logger.DebugContext(ctx, "validation state file written",
		slog.Time("valid_until", state.ValidUntil))
	return nil
}

// ValidateCached reports whether a fresh, untampered state file vouches for
// this machine. False means "run a full Validate", never "unlicensed".
func (m *Manager) ValidateCached(ctx context.Context) bool {
	if m.stateFilePath == "" {
		return false
	}

	data, err := os.ReadFile(m.stateFilePath)
	if err != nil {
		return false
	}

	var state StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		m.logger.WarnContext(ctx, "unreadable validation state file, ignoring",
			slog.String("error", err.Error()))
		return false
	}

	expected, err := m.signState(state)
	if err != nil {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(state.Signature)) != 1 {
		m.logger.WarnContext(ctx, "validation state file signature mismatch, possible tampering")
		return false
	}

	now := m.clock.Now()
	if now.Before(state.ValidatedAt) || now.After(state.ValidUntil) {
		return false
	}

	fp, err := m.resolveFingerprint(ctx)
	if err != nil || fp.Value != state.MachineID {
		return false
	}

	m.logger.DebugContext(ctx, "validation satisfied from state file",
		slog.String("remaining", state.ValidUntil.Sub(now).String()))
	return true
}

// signState computes the HMAC-SHA256 signature over the state fields,
// excluding the signature itself. The HMAC key is scrypt-derived from the
// configured secret and the per-file salt.
func (m *Manager) signState(state StateFile) (string, error) {
	salt, err := hex.DecodeString(state.Salt)
	if err != nil {
		return "", fmt.Errorf("invalid state file salt: %w", err)
	}
	key, err := scrypt.Key([]byte(m.secret), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("failed to derive state key: %w", err)
	}

	payload := fmt.Sprintf("%s|%s|%s",
		state.ValidatedAt.Format(time.RFC3339Nano),
		state.ValidUntil.Format(time.RFC3339Nano),
		state.MachineID)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// CleanupStateFile removes the state file if present.
func CleanupStateFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return os.Remove(path)
	}
	return nil
}
