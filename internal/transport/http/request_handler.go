// Package http contains the thin HTTP transport over the license lifecycle
// engine. Handlers decode and validate payloads, call the service and render
// the result; all business rules live in the service layer.
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "keygated/internal/errors"
	"keygated/internal/infrastructure"
	"keygated/internal/middleware"
	"keygated/internal/services"
)

var validate = newValidator()

// newValidator builds a validator that reports fields by their wire names,
// so validation problems point at the JSON key the client actually sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts a validator failure into a field-level APIError
// for the problem mapper.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperrors.ErrValidation(fe.Field(), fe.Field()+" is required")
	}
	return apperrors.ErrValidation("", err.Error())
}

// RequestHandler serves the public endpoints: request submission and key
// verification.
type RequestHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewRequestHandler creates the public handler.
func NewRequestHandler(service services.LicenseService, logger *slog.Logger) *RequestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "request")),
	}
}

// Routes returns the chi router for the public endpoints.
func (h *RequestHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/request", h.Submit)
	r.Post("/verify", h.Verify)
	return r
}

// SubmitRequestPayload is the wire format of a license request. Field names
// follow the original client protocol.
type SubmitRequestPayload struct {
	HardwareID string `json:"hwid" validate:"required"`
	UserID     string `json:"userid,omitempty"`
	UserName   string `json:"username,omitempty"`
	Note       string `json:"note,omitempty"`
}

// SubmitResponse acknowledges a stored request.
type SubmitResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// Submit handles POST /api/request.
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("request-handler")

	ctx, span := tracer.Start(ctx, "request_handler.submit",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/request"),
			attribute.String("request_id", reqID),
		))
	defer span.End()

	payload := &SubmitRequestPayload{}
	if err := render.Decode(r, payload); err != nil {
		span.RecordError(err)
		h.renderDecodeError(w, r, err)
		return
	}
	if err := validate.Struct(payload); err != nil {
		span.SetAttributes(attribute.String("error.type", "validation"))
		h.renderError(w, r, validationError(err))
		return
	}

	id, err := h.service.SubmitRequest(ctx, services.SubmitInput{
		HardwareID: payload.HardwareID,
		UserID:     payload.UserID,
		UserName:   payload.UserName,
		Note:       payload.Note,
	})
	if err != nil {
		span.RecordError(err)
		h.renderError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("license.request_id", id))
	render.JSON(w, r, SubmitResponse{
		Status:    "ok",
		Message:   "request stored",
		RequestID: id,
	})
}

// VerifyPayload is the wire format of a verification call.
type VerifyPayload struct {
	Key        string `json:"key" validate:"required"`
	HardwareID string `json:"hwid" validate:"required"`
}

// VerifyResponse reports the verification outcome. Invalid keys are a
// normal result, not an error.
type VerifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Valid   bool   `json:"valid"`
}

// Verify handles POST /api/verify.
func (h *RequestHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("request-handler")

	ctx, span := tracer.Start(ctx, "request_handler.verify",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/verify"),
			attribute.String("request_id", reqID),
		))
	defer span.End()

	payload := &VerifyPayload{}
	if err := render.Decode(r, payload); err != nil {
		span.RecordError(err)
		h.renderDecodeError(w, r, err)
		return
	}
	if err := validate.Struct(payload); err != nil {
		span.SetAttributes(attribute.String("error.type", "validation"))
		h.renderError(w, r, validationError(err))
		return
	}

	valid, err := h.service.VerifyKey(ctx, payload.Key, payload.HardwareID)
	if err != nil {
		span.RecordError(err)
		h.renderError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Bool("license.valid", valid))

	resp := VerifyResponse{Valid: valid}
	if valid {
		resp.Status = "ok"
		resp.Message = "valid"
	} else {
		resp.Status = "error"
		resp.Message = "invalid"
	}
	render.JSON(w, r, resp)
}

func (h *RequestHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	renderServiceError(w, r, h.logger, err)
}

func (h *RequestHandler) renderDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	renderDecodeProblem(w, r, h.logger, err)
}

// renderServiceError maps a service failure to a problem response, logging
// it once at the edge.
func renderServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)

	level := slog.LevelError
	if apperrors.IsValidation(err) {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "request failed",
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method))

	problem := apperrors.MapServiceError(err, r.URL.Path+"#"+traceID, traceID)
	if pd, ok := problem.(*apperrors.ProblemDetails); ok {
		pd.WithExtension("timestamp", time.Now().UTC())
	}
	render.Render(w, r, problem)
}

// renderDecodeProblem answers malformed request bodies.
func renderDecodeProblem(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)

	logger.WarnContext(ctx, "failed to decode request body",
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path))

	problem := apperrors.NewProblemDetails(
		http.StatusBadRequest,
		"/errors/invalid-request",
		"Invalid Request",
		err.Error(),
		r.URL.Path+"#"+traceID,
	).WithExtension("trace_id", traceID)

	render.Render(w, r, problem)
}
