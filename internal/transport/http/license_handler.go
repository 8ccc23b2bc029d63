// Package http exposes the entitlement operations over a localhost HTTP API
// consumed by the desktop caller. Handlers delegate to the services layer and
// render RFC 7807 problem details on failure.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "entitle/internal/errors"
	"entitle/internal/infrastructure"
	"entitle/internal/services"
	"entitle/pkg/contracts/domain"
)

// LicenseHandler handles license HTTP requests.
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// IssuePayload binds and validates license issuance requests.
type IssuePayload struct {
	domain.IssueRequest
}

// Bind implements the render.Binder interface.
func (p *IssuePayload) Bind(r *http.Request) error {
	if p.Email == "" {
		return errors.New("email is required")
	}
	if p.Tier == "" {
		return errors.New("tier is required")
	}
	return nil
}

// ActivatePayload binds license activation requests.
type ActivatePayload struct {
	domain.ActivateRequest
}

// Bind implements the render.Binder interface.
func (p *ActivatePayload) Bind(r *http.Request) error {
	if p.LicenseKey == "" {
		return errors.New("license_key is required")
	}
	return nil
}

// Routes returns the chi router for /api/license.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/issue", h.Issue)
	r.Post("/activate", h.Activate)
	r.Get("/validate", h.Validate)
	r.Get("/status", h.Status)
	r.Get("/trial", h.Trial)

	return r
}

// Issue handles POST /api/license/issue.
func (h *LicenseHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.issue")
	defer span.End()

	payload := &IssuePayload{}
	if err := render.Bind(r, payload); err != nil {
		h.renderBindError(w, r, err)
		return
	}

	record, err := h.service.Issue(ctx, payload.IssueRequest)
	if err != nil {
		h.renderError(ctx, w, r, span, err)
		return
	}

	span.SetAttributes(attribute.String("license.tier", string(record.Tier)))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, record)
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.activate")
	defer span.End()

	payload := &ActivatePayload{}
	if err := render.Bind(r, payload); err != nil {
		h.renderBindError(w, r, err)
		return
	}

	resp, err := h.service.Activate(ctx, payload.LicenseKey)
	if err != nil {
		span.SetAttributes(attribute.String("license.error_code", apperrors.Code(err)))
		h.renderError(ctx, w, r, span, err)
		return
	}

	span.SetAttributes(attribute.Bool("license.activated", resp.Activated))
	render.JSON(w, r, resp)
}

// Validate handles GET /api/license/validate.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.validate")
	defer span.End()

	resp, err := h.service.Validate(ctx)
	if err != nil {
		h.renderError(ctx, w, r, span, err)
		return
	}

	span.SetAttributes(attribute.Bool("license.valid", resp.Valid))
	render.JSON(w, r, resp)
}

// Status handles GET /api/license/status.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.status")
	defer span.End()

	resp, err := h.service.Status(ctx)
	if err != nil {
		h.renderError(ctx, w, r, span, err)
		return
	}

	span.SetAttributes(
		attribute.Bool("license.licensed", resp.Licensed),
		attribute.Int("license.remaining_days", resp.RemainingDays),
	)
	render.JSON(w, r, resp)
}

// Trial handles GET /api/license/trial, the first-run issue-if-absent flow.
// Email and name arrive as query parameters because the desktop caller
// invokes this before it has any license state to POST.
func (h *LicenseHandler) Trial(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.trial")
	defer span.End()

	req := domain.IssueRequest{
		Email: r.URL.Query().Get("email"),
		Name:  r.URL.Query().Get("name"),
		Tier:  domain.TierTrial,
	}

	resp, err := h.service.Trial(ctx, req)
	if err != nil {
		h.renderError(ctx, w, r, span, err)
		return
	}

	span.SetAttributes(attribute.Bool("license.trial_issued", resp.Issued))
	render.JSON(w, r, resp)
}

func (h *LicenseHandler) startSpan(r *http.Request, name string) (ctx context.Context, span trace.Span) {
	tracer := otel.Tracer("license-handler")
	return tracer.Start(r.Context(), name,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		),
	)
}

func (h *LicenseHandler) renderBindError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := middleware.GetReqID(r.Context())
	problem := apperrors.NewProblemDetails(
		http.StatusBadRequest,
		"/errors/invalid-request",
		"Invalid Request",
		err.Error(),
		r.URL.Path+"#"+traceID,
	).WithExtension("trace_id", traceID)
	render.Render(w, r, problem)
}

func (h *LicenseHandler) renderError(ctx context.Context, w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.RecordError(err)

	traceID := middleware.GetReqID(ctx)
	if traceID == "" {
		traceID = infrastructure.TraceIDFromContext(ctx)
	}

	h.logger.ErrorContext(ctx, "license request failed",
		slog.String("trace_id", traceID),
		slog.String("path", r.URL.Path),
		slog.String("error_code", apperrors.Code(err)),
		slog.String("error", err.Error()))

	render.Render(w, r, apperrors.MapLicenseError(err, traceID))
}
