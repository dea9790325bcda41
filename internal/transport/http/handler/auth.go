package handler

import (
	"net/http"

	"github.com/chatauth/internal/application/auth"
	"github.com/chatauth/internal/application/session"
	"github.com/chatauth/internal/domain"
	"github.com/chatauth/internal/transport/http/cookie"
	"github.com/chatauth/internal/transport/http/respond"
)

// AuthHandler handles the OTP, signup, login, reset and logout endpoints.
type AuthHandler struct {
	svc      auth.Service
	sessions session.Service
	jar      cookie.Jar
}

func NewAuthHandler(svc auth.Service, sessions session.Service, jar cookie.Jar) *AuthHandler {
	return &AuthHandler{svc: svc, sessions: sessions, jar: jar}
}

func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.OTPRequest
	if err := decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	res, err := h.svc.RequestOTP(r.Context(), req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, SuccessEnvelope{Success: true, ExpiresAt: &res.ExpiresAt})
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.OTPVerifyRequest
	if err := decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	tok, err := h.svc.VerifyOTP(r.Context(), req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	h.jar.SetVerify(w, tok)
	respond.JSON(w, http.StatusOK, SuccessEnvelope{Success: true})
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req domain.SignupRequest
	if err := decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	u, pair, err := h.svc.Signup(r.Context(), cookie.Value(r, cookie.VerifyToken), req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	h.jar.ClearVerify(w)
	h.jar.SetSession(w, pair)
	respond.JSON(w, http.StatusCreated, UserEnvelope{User: u.Public()})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	u, pair, err := h.svc.Login(r.Context(), req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	h.jar.SetSession(w, pair)
	respond.JSON(w, http.StatusOK, UserEnvelope{User: u.Public()})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ResetPasswordRequest
	if err := decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), cookie.Value(r, cookie.VerifyToken), req); err != nil {
		respond.Error(w, r, err)
		return
	}
	h.jar.ClearVerify(w)
	h.jar.ClearSession(w)
	respond.JSON(w, http.StatusOK, SuccessEnvelope{Success: true})
}

// Logout revokes the stored refresh token when the cookies identify a
// subject. Cookies are cleared either way.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.sessions.Identify(session.Credentials{
		AccessToken:  cookie.Value(r, cookie.AccessToken),
		RefreshToken: cookie.Value(r, cookie.RefreshToken),
	})
	if ok {
		if err := h.svc.Logout(r.Context(), ident.SubjectID); err != nil {
			respond.Error(w, r, err)
			return
		}
	}
	h.jar.ClearSession(w)
	respond.JSON(w, http.StatusOK, SuccessEnvelope{Success: true})
}
