package handler

import (
	"net/http"
	"strings"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/cache"
	"github.com/boddenberg/franchise-core-go/internal/port"
	"github.com/boddenberg/franchise-core-go/internal/service"

	"go.uber.org/zap"
)

// AuthMiddleware validates Bearer tokens and attaches the principal and a
// per-request profile memo to the context.
func AuthMiddleware(verifier port.TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				handleServiceError(w, &domain.ErrUnauthorized{Message: "missing bearer token"}, logger)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				handleServiceError(w, &domain.ErrUnauthorized{Message: "invalid authorization header"}, logger)
				return
			}

			principal, err := verifier.Verify(strings.TrimSpace(parts[1]))
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				handleServiceError(w, &domain.ErrUnauthorized{Message: "invalid or expired token"}, logger)
				return
			}

			ctx := service.WithPrincipal(r.Context(), principal)
			ctx = cache.WithScope[*domain.Profile](ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
