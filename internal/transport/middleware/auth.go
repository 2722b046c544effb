package middleware

import (
	"errors"
	"net/http"

	errs "github.com/mazuri-stores/mazuri-api/internal"
	"github.com/mazuri-stores/mazuri-api/internal/auth"
	"github.com/mazuri-stores/mazuri-api/internal/transport"
	"github.com/mazuri-stores/mazuri-api/pkg/logger"
)

// RequireAuth validates the bearer token and attaches the caller to the context.
func RequireAuth(base *transport.BaseHandler, tokens auth.TokenGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := base.ExtractTokenFromHeader(r)
			if raw == "" {
				base.HandleError(w, errs.NewUnauthorizedError("Missing bearer token", errs.ErrCodeInvalidToken))
				return
			}

			claims, err := tokens.ValidateToken(raw)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					base.HandleError(w, errs.ErrTokenExpired)
					return
				}
				base.HandleError(w, errs.ErrInvalidToken)
				return
			}

			ctx := errs.ContextWithUser(r.Context(), &errs.User{ID: claims.UserID, Email: claims.Email})
			ctx = logger.With(ctx, "user_id", claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
