package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "entitle/internal/errors"
	"entitle/pkg/contracts/domain"
)

// fakeLicenseService scripts service outcomes for handler tests.
type fakeLicenseService struct {
	record      *domain.LicenseRecord
	issueErr    error
	activation  *domain.ActivationResponse
	activateErr error
	validation  *domain.ValidationResponse
	validateErr error
	status      *domain.StatusResponse
	statusErr   error
	trial       *domain.TrialResponse
	trialErr    error
}

func (f *fakeLicenseService) Issue(ctx context.Context, req domain.IssueRequest) (*domain.LicenseRecord, error) {
	return f.record, f.issueErr
}

func (f *fakeLicenseService) Activate(ctx context.Context, key string) (*domain.ActivationResponse, error) {
	return f.activation, f.activateErr
}

func (f *fakeLicenseService) Validate(ctx context.Context) (*domain.ValidationResponse, error) {
	return f.validation, f.validateErr
}

func (f *fakeLicenseService) Status(ctx context.Context) (*domain.StatusResponse, error) {
	return f.status, f.statusErr
}

func (f *fakeLicenseService) Trial(ctx context.Context, req domain.IssueRequest) (*domain.TrialResponse, error) {
	return f.trial, f.trialErr
}

func newTestServer(svc *fakeLicenseService) *httptest.Server {
	handler := NewLicenseHandler(svc, nil)
	router := NewRouter(RouterConfig{License: handler})
	return httptest.NewServer(router)
}

func TestIssueEndpoint(t *testing.T) {
	record := &domain.LicenseRecord{
		ID:         1,
		LicenseKey: "AAAAA-BBBBB-CCCCC-DDDDD-EEEEE",
		UserEmail:  "alice@example.com",
		Tier:       domain.TierYearly,
		ExpiresAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:   true,
	}
	server := newTestServer(&fakeLicenseService{record: record})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/license/issue", "application/json",
		strings.NewReader(`{"email":"alice@example.com","tier":"yearly"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var got domain.LicenseRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, record.LicenseKey, got.LicenseKey)
	assert.Equal(t, domain.TierYearly, got.Tier)
}

func TestIssueEndpointRejectsMissingFields(t *testing.T) {
	server := newTestServer(&fakeLicenseService{})
	defer server.Close()

	tests := []struct {
		name string
		body string
	}{
		{"missing email", `{"tier":"trial"}`},
		{"missing tier", `{"email":"alice@example.com"}`},
		{"empty body", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/api/license/issue", "application/json",
				strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestActivateEndpoint(t *testing.T) {
	server := newTestServer(&fakeLicenseService{
		activation: &domain.ActivationResponse{Activated: true, Message: "license activated on this machine"},
	})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/license/activate", "application/json",
		strings.NewReader(`{"license_key":"AAAAA-BBBBB-CCCCC-DDDDD-EEEEE"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.ActivationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Activated)
}

func TestActivateEndpointErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", apperrors.ErrLicenseNotFound, http.StatusNotFound, apperrors.CodeNotFound},
		{"expired", apperrors.ErrLicenseExpired, http.StatusForbidden, apperrors.CodeExpired},
		{"machine mismatch", apperrors.ErrMachineMismatch, http.StatusConflict, apperrors.CodeMachineMismatch},
		{"bad format", apperrors.ErrInvalidKeyFormat, http.StatusBadRequest, apperrors.CodeInvalidFormat},
		{"rate limited", apperrors.ErrRateLimited, http.StatusTooManyRequests, apperrors.CodeRateLimited},
		{"store down", apperrors.ErrPersistence, http.StatusServiceUnavailable, apperrors.CodePersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(&fakeLicenseService{activateErr: tt.err})
			defer server.Close()

			resp, err := http.Post(server.URL+"/api/license/activate", "application/json",
				strings.NewReader(`{"license_key":"AAAAA-BBBBB-CCCCC-DDDDD-EEEEE"}`))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var problem map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
			assert.Equal(t, tt.wantCode, problem["error_code"])
			assert.NotEmpty(t, problem["title"])
		})
	}
}

func TestActivateEndpointRejectsEmptyKey(t *testing.T) {
	server := newTestServer(&fakeLicenseService{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/license/activate", "application/json",
		strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidateEndpoint(t *testing.T) {
	server := newTestServer(&fakeLicenseService{
		validation: &domain.ValidationResponse{Valid: true},
	})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/license/validate")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.ValidationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Valid)
}

func TestValidateEndpointStoreFailure(t *testing.T) {
	server := newTestServer(&fakeLicenseService{validateErr: apperrors.ErrPersistence})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/license/validate")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode,
		"a store failure must not read as 'unlicensed'")
}

func TestStatusEndpoint(t *testing.T) {
	server := newTestServer(&fakeLicenseService{
		status: &domain.StatusResponse{Licensed: true, RemainingDays: 17},
	})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/license/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Licensed)
	assert.Equal(t, 17, got.RemainingDays)
}

func TestTrialEndpoint(t *testing.T) {
	server := newTestServer(&fakeLicenseService{
		trial: &domain.TrialResponse{
			Issued: true,
			Record: &domain.LicenseRecord{LicenseKey: "AAAAA-BBBBB-CCCCC-DDDDD-EEEEE", Tier: domain.TierTrial},
		},
	})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/license/trial?email=alice%40example.com&name=Alice")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.TrialResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Issued)
	require.NotNil(t, got.Record)
	assert.Equal(t, domain.TierTrial, got.Record.Tier)
}

func TestTrialEndpointRequiresEmail(t *testing.T) {
	server := newTestServer(&fakeLicenseService{trialErr: apperrors.ErrEmptyEmail})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/license/trial")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
