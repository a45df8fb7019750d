package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"keygated/internal/ledger"
	"keygated/internal/middleware"
	"keygated/internal/services"
)

// AdminHandler serves the privileged endpoints: ledger review, key
// generation and revocation. Authorization happens in the AdminGate
// middleware mounted above these routes.
type AdminHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(service services.LicenseService, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns the chi router for the admin endpoints.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/requests", h.ListRequests)
	r.Post("/generate", h.Generate)
	r.Post("/revoke", h.Revoke)
	return r
}

// ListResponse is the administrator's ledger view.
type ListResponse struct {
	Status   string                      `json:"status"`
	Requests []ledger.Request            `json:"requests"`
	Issued   map[string]ledger.IssuedKey `json:"issued"`
}

// ListRequests handles GET /api/admin/requests.
func (h *AdminHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	view, err := h.service.ListRequests(ctx)
	if err != nil {
		renderServiceError(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, ListResponse{
		Status:   "ok",
		Requests: view.Requests,
		Issued:   view.Issued,
	})
}

// GeneratePayload asks for key issuance for a hardware identifier,
// optionally linked to a stored request.
type GeneratePayload struct {
	HardwareID string `json:"hwid" validate:"required"`
	RequestID  string `json:"requestId,omitempty"`
}

// GenerateResponse carries the issued key.
type GenerateResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

// Generate handles POST /api/admin/generate.
func (h *AdminHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("admin-handler")

	ctx, span := tracer.Start(ctx, "admin_handler.generate",
		trace.WithAttributes(
			attribute.String("http.route", "/api/admin/generate"),
			attribute.String("request_id", reqID),
		))
	defer span.End()

	payload := &GeneratePayload{}
	if err := render.Decode(r, payload); err != nil {
		span.RecordError(err)
		renderDecodeProblem(w, r, h.logger, err)
		return
	}
	if err := validate.Struct(payload); err != nil {
		span.SetAttributes(attribute.String("error.type", "validation"))
		renderServiceError(w, r, h.logger, validationError(err))
		return
	}

	key, err := h.service.GenerateKey(ctx, payload.HardwareID, payload.RequestID)
	if err != nil {
		span.RecordError(err)
		renderServiceError(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, GenerateResponse{Status: "ok", Key: key})
}

// RevokePayload names the key to revoke.
type RevokePayload struct {
	Key string `json:"key" validate:"required"`
}

// RevokeResponse acknowledges a revocation.
type RevokeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Revoke handles POST /api/admin/revoke.
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("admin-handler")

	ctx, span := tracer.Start(ctx, "admin_handler.revoke",
		trace.WithAttributes(
			attribute.String("http.route", "/api/admin/revoke"),
			attribute.String("request_id", reqID),
		))
	defer span.End()

	payload := &RevokePayload{}
	if err := render.Decode(r, payload); err != nil {
		span.RecordError(err)
		renderDecodeProblem(w, r, h.logger, err)
		return
	}
	if err := validate.Struct(payload); err != nil {
		span.SetAttributes(attribute.String("error.type", "validation"))
		renderServiceError(w, r, h.logger, validationError(err))
		return
	}

	if err := h.service.RevokeKey(ctx, payload.Key); err != nil {
		span.RecordError(err)
		renderServiceError(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, RevokeResponse{Status: "ok", Message: "revoked"})
}
