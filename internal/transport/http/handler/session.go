package handler

import (
	"net/http"

	"github.com/chatauth/internal/domain"
	"github.com/chatauth/internal/transport/http/middleware"
	"github.com/chatauth/internal/transport/http/respond"
)

// Me returns the user resolved by the session middleware. It serves both
// GET /session/verify and GET /me.
func Me(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respond.Error(w, r, domain.Unauthenticated("not signed in"))
		return
	}
	respond.JSON(w, http.StatusOK, UserEnvelope{User: u.Public()})
}
