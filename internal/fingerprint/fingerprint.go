// Package fingerprint derives a stable identifier for the current machine
// from hardware descriptors. When hardware probing fails or is disabled the
// resolver degrades to a hostname+username fallback that is deliberately NOT
// hashed: the weaker binding stays visible in stored records and logs rather
// than being silently equated with the hardware-bound form.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// primaryLength is the fixed length of a hardware-bound fingerprint.
const primaryLength = 32

// Fingerprint identifies one physical or virtual machine.
type Fingerprint struct {
	Value string
	// Degraded is true when the fallback source produced the value. A
	// degraded fingerprint is predictable and not hardware-bound.
	Degraded bool
}

// PrimarySource supplies hardware descriptors for the machine.
type PrimarySource interface {
	ProcessorID() (string, error)
	StorageSerial() (string, error)
}

// FallbackSource supplies the environment-derived identity used when
// hardware queries are unavailable.
type FallbackSource interface {
	Hostname() (string, error)
	Username() (string, error)
}

// Resolver computes the machine fingerprint. Results are cached for the
// process lifetime; the value is stable across restarts for a given machine.
type Resolver struct {
	primary  PrimarySource
	fallback FallbackSource
	logger   *slog.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	cached *Fingerprint
}

// NewResolver creates a resolver from explicit sources. Tests substitute
// fixed sources here instead of touching real hardware.
func NewResolver(primary PrimarySource, fallback FallbackSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "fingerprint")),
	}
}

// NewSystemResolver creates a resolver backed by the running machine.
// disableHardwareProbes forces the fallback path, for sandboxed or
// virtualized environments where probes are known to misbehave.
func NewSystemResolver(disableHardwareProbes bool, logger *slog.Logger) *Resolver {
	var primary PrimarySource
	if !disableHardwareProbes {
		primary = systemPrimarySource{}
	}
	return NewResolver(primary, systemFallbackSource{}, logger)
}

// Resolve returns the machine fingerprint. Hardware probe failures never
// propagate as errors; they resolve through the fallback path with the
// Degraded flag set. Concurrent callers share one probe.
func (r *Resolver) Resolve(ctx context.Context) (Fingerprint, error) {
	r.mu.RLock()
	if r.cached != nil {
		fp := *r.cached
		r.mu.RUnlock()
		return fp, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do("resolve", func() (interface{}, error) {
		fp := r.resolve(ctx)
		r.mu.Lock()
		r.cached = &fp
		r.mu.Unlock()
		return fp, nil
	})
	if err != nil {
		// resolve never returns an error; kept for singleflight's contract.
		return Fingerprint{}, err
	}
	return v.(Fingerprint), nil
}

func (r *Resolver) resolve(ctx context.Context) Fingerprint {
	if r.primary != nil {
		fp, err := r.resolvePrimary()
		if err == nil {
			r.logger.DebugContext(ctx, "machine fingerprint resolved",
				slog.String("fingerprint", fp.Value),
				slog.Bool("degraded", false))
			return fp
		}
		r.logger.WarnContext(ctx, "hardware fingerprint probe failed, using fallback",
			slog.String("error", err.Error()))
	} else {
		r.logger.WarnContext(ctx, "hardware probes disabled, using fallback fingerprint")
	}

	fp := r.resolveFallback()
	r.logger.WarnContext(ctx, "machine fingerprint degraded to fallback source",
		slog.String("fingerprint", fp.Value),
		slog.Bool("degraded", true))
	return fp
}

// resolvePrimary hashes the processor identifier and storage serial into a
// fixed-length identifier. Either probe failing fails the whole primary path.
func (r *Resolver) resolvePrimary() (Fingerprint, error) {
	cpuID, err := r.primary.ProcessorID()
	if err != nil {
		return Fingerprint{}, fmt.Errorf("processor id probe: %w", err)
	}
	serial, err := r.primary.StorageSerial()
	if err != nil {
		return Fingerprint{}, fmt.Errorf("storage serial probe: %w", err)
	}

	sum := sha256.Sum256([]byte(cpuID + "|" + serial))
	encoded := base64.StdEncoding.EncodeToString(sum[:])
	return Fingerprint{Value: encoded[:primaryLength]}, nil
}

// resolveFallback concatenates hostname and account name as-is. The value is
// intentionally left unhashed so the degraded binding is recognizable.
func (r *Resolver) resolveFallback() Fingerprint {
	hostname, err := r.fallback.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown-host"
	}
	username, err := r.fallback.Username()
	if err != nil || username == "" {
		username = "unknown-user"
	}
	return Fingerprint{Value: hostname + username, Degraded: true}
}
