// Package middleware contains HTTP middleware for the entitlement service.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apperrors "entitle/internal/errors"
)

// LicenseChecker is the slice of the lifecycle manager the gate needs.
type LicenseChecker interface {
	// ValidateCached answers from the signed state file when it can;
	// false means "run a full Validate", not "unlicensed".
	ValidateCached(ctx context.Context) bool
	Validate(ctx context.Context) (bool, error)
}

// defaultCacheTTL bounds how long a full validation result is reused before
// the store is consulted again.
const defaultCacheTTL = 5 * time.Minute

// LicenseGate blocks requests on unlicensed machines. License management
// endpoints, health and metrics stay reachable so the caller can always
// activate, diagnose, or scrape.
type LicenseGate struct {
	checker LicenseChecker
	logger  *slog.Logger
	ttl     time.Duration

	excludePaths    map[string]struct{}
	excludePrefixes []string

	mu        sync.Mutex
	valid     bool
	checkedAt time.Time
}

// NewLicenseGate creates a license gate with the default exclusions.
func NewLicenseGate(checker LicenseChecker, logger *slog.Logger, ttl time.Duration) *LicenseGate {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &LicenseGate{
		checker: checker,
		logger:  logger.With(slog.String("component", "license_gate")),
		ttl:     ttl,
		excludePaths: map[string]struct{}{
			"/api/health": {},
			"/metrics":    {},
		},
		excludePrefixes: []string{
			"/api/license",
		},
	}
}

// Handler returns the middleware handler function.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		valid, err := g.check(ctx)
		if err != nil {
			traceID := chimiddleware.GetReqID(ctx)
			g.logger.ErrorContext(ctx, "license check failed",
				slog.String("trace_id", traceID),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			render.Render(w, r, apperrors.MapLicenseError(err, traceID))
			return
		}
		if !valid {
			traceID := chimiddleware.GetReqID(ctx)
			problem := apperrors.NewProblemDetails(
				http.StatusForbidden,
				"/errors/license-required",
				"License Required",
				"A valid license is required to access this resource.",
				r.URL.Path+"#"+traceID,
			).WithExtension("trace_id", traceID)
			render.Render(w, r, problem)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *LicenseGate) excluded(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// check consults, in order: the in-process TTL cache, the signed state file,
// and finally a full validation pass against the store.
func (g *LicenseGate) check(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.valid && time.Since(g.checkedAt) < g.ttl {
		return true, nil
	}

	if g.checker.ValidateCached(ctx) {
		g.valid = true
		g.checkedAt = time.Now()
		return true, nil
	}

	valid, err := g.checker.Validate(ctx)
	if err != nil {
		g.valid = false
		return false, err
	}

	g.valid = valid
	g.checkedAt = time.Now()
	return valid, nil
}

// Invalidate drops the cached verdict so the next request re-validates.
// Called after activation so a fresh license takes effect immediately.
func (g *LicenseGate) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.valid = false
	g.checkedAt = time.Time{}
}
