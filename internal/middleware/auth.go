package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"

	apierrors "iwlicense/internal/errors"
)

// AdminAuth guards privileged endpoints with a shared admin key. The key
// travels in the X-Admin-Key header and is checked against a bcrypt hash so
// the plaintext never lives in config. An empty hash disables the guarded
// routes entirely rather than leaving them open.
func AdminAuth(adminKeyHash string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if adminKeyHash == "" {
				logger.WarnContext(ctx, "admin endpoint called but no admin key configured",
					"method", r.Method,
					"path", r.URL.Path,
				)
				render.Render(w, r, apierrors.New(http.StatusForbidden, "ADMIN_DISABLED", "Admin endpoints are not configured"))
				return
			}

			key := r.Header.Get("X-Admin-Key")
			if key == "" {
				logger.WarnContext(ctx, "missing admin key",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				render.Render(w, r, apierrors.ErrUnauthorized)
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(adminKeyHash), []byte(key)); err != nil {
				logger.WarnContext(ctx, "invalid admin key",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				render.Render(w, r, apierrors.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
