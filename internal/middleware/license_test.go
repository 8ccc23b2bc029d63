package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "entitle/internal/errors"
)

type fakeChecker struct {
	cached    bool
	valid     bool
	err       error
	fullCalls int
}

func (f *fakeChecker) ValidateCached(ctx context.Context) bool { return f.cached }

func (f *fakeChecker) Validate(ctx context.Context) (bool, error) {
	f.fullCalls++
	return f.valid, f.err
}

func serveThrough(gate *LicenseGate, path string) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	gate.Handler(next).ServeHTTP(rec, req)
	return rec
}

func TestGateAllowsLicensedRequests(t *testing.T) {
	gate := NewLicenseGate(&fakeChecker{valid: true}, nil, time.Minute)
	rec := serveThrough(gate, "/api/data")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateBlocksUnlicensedRequests(t *testing.T) {
	gate := NewLicenseGate(&fakeChecker{valid: false}, nil, time.Minute)
	rec := serveThrough(gate, "/api/data")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "license-required")
}

func TestGateExcludesLicenseAndHealthRoutes(t *testing.T) {
	checker := &fakeChecker{valid: false}
	gate := NewLicenseGate(checker, nil, time.Minute)

	for _, path := range []string{
		"/api/license/status",
		"/api/license/activate",
		"/api/health",
		"/metrics",
	} {
		rec := serveThrough(gate, path)
		assert.Equal(t, http.StatusOK, rec.Code, "path %s must stay reachable", path)
	}
	assert.Zero(t, checker.fullCalls, "excluded paths must not trigger validation")
}

func TestGateCachesVerdict(t *testing.T) {
	checker := &fakeChecker{valid: true}
	gate := NewLicenseGate(checker, nil, time.Minute)

	for i := 0; i < 5; i++ {
		serveThrough(gate, "/api/data")
	}
	assert.Equal(t, 1, checker.fullCalls, "a valid verdict is reused within the TTL")
}

func TestGatePrefersStateFile(t *testing.T) {
	checker := &fakeChecker{cached: true, valid: false}
	gate := NewLicenseGate(checker, nil, time.Minute)

	rec := serveThrough(gate, "/api/data")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, checker.fullCalls, "a fresh state file avoids the full store pass")
}

func TestGateInvalidate(t *testing.T) {
	checker := &fakeChecker{valid: true}
	gate := NewLicenseGate(checker, nil, time.Minute)

	serveThrough(gate, "/api/data")
	gate.Invalidate()
	serveThrough(gate, "/api/data")

	assert.Equal(t, 2, checker.fullCalls)
}

func TestGateSurfacesStoreFailure(t *testing.T) {
	gate := NewLicenseGate(&fakeChecker{err: apperrors.ErrPersistence}, nil, time.Minute)

	rec := serveThrough(gate, "/api/data")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code,
		"a store failure is not the same as unlicensed")
}
