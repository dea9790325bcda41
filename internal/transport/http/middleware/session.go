package middleware

import (
	"context"
	"net/http"

	"github.com/chatauth/internal/application/session"
	"github.com/chatauth/internal/domain"
	"github.com/chatauth/internal/transport/http/cookie"
	"github.com/chatauth/internal/transport/http/respond"
)

type contextKey string

const userKey contextKey = "user"

// Session resolves the caller from the access/refresh cookies. Rotated
// tokens are written back as cookies; any 401 outcome clears them.
func Session(svc session.Service, jar cookie.Jar) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := svc.Verify(r.Context(), session.Credentials{
				AccessToken:  cookie.Value(r, cookie.AccessToken),
				RefreshToken: cookie.Value(r, cookie.RefreshToken),
			})
			if err != nil {
				if respond.Unauthorized(err) {
					jar.ClearSession(w)
				}
				respond.Error(w, r, err)
				return
			}
			if res.Rotated != nil {
				jar.SetSession(w, res.Rotated)
			}
			ctx := context.WithValue(r.Context(), userKey, res.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user resolved by Session.
func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(userKey).(*domain.User)
	return u, ok && u != nil
}

// WithUser stores u in ctx the way Session does. Used by handler tests.
func WithUser(ctx context.Context, u *domain.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}
