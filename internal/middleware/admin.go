package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "keygated/internal/errors"
	"keygated/internal/infrastructure"
)

// AdminTokenHeader carries the administrator credential.
const AdminTokenHeader = "x-admin-token"

// AdminGate authorizes privileged operations. Every admin route passes
// through Require before any service call, so an unauthorized request can
// never produce a partial side effect.
type AdminGate struct {
	token  []byte
	logger *slog.Logger
}

// NewAdminGate creates a gate for the configured administrator token.
func NewAdminGate(token string, logger *slog.Logger) *AdminGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminGate{
		token:  []byte(token),
		logger: logger.With(slog.String("component", "admin_gate")),
	}
}

// Authorize reports whether the supplied token matches the configured
// administrator secret. Constant-time comparison avoids a timing
// side-channel on the credential.
func (g *AdminGate) Authorize(supplied string) bool {
	if supplied == "" || len(g.token) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), g.token) == 1
}

// Require is the middleware guarding the admin subtree.
func (g *AdminGate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if !g.Authorize(r.Header.Get(AdminTokenHeader)) {
			traceID := infrastructure.TraceIDFromContext(ctx)
			g.logger.WarnContext(ctx, "unauthorized admin request",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			problem := apperrors.MapServiceError(apperrors.ErrUnauthorized, r.URL.Path+"#"+traceID, traceID)
			render.Render(w, r, problem)
			return
		}

		next.ServeHTTP(w, r)
	})
}
