package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/chatauth/internal/application/oauth"
	"github.com/chatauth/internal/transport/http/cookie"
	"github.com/chatauth/internal/transport/http/respond"
)

// OAuthHandler runs the browser side of the PKCE flow. The callback always
// answers with a redirect.
type OAuthHandler struct {
	svc        oauth.Service
	jar        cookie.Jar
	successURL string
	failureURL string
}

func NewOAuthHandler(svc oauth.Service, jar cookie.Jar, successURL, failureURL string) *OAuthHandler {
	return &OAuthHandler{svc: svc, jar: jar, successURL: successURL, failureURL: failureURL}
}

func (h *OAuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Start()
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	h.jar.SetPKCE(w, a.Verifier)
	http.Redirect(w, r, a.URL, http.StatusFound)
}

func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	verifier := cookie.Value(r, cookie.PKCEVerifier)
	h.jar.ClearPKCE(w)

	login, err := h.svc.Callback(r.Context(), oauth.CallbackRequest{
		Code:     q.Get("code"),
		State:    q.Get("state"),
		Error:    q.Get("error"),
		Verifier: verifier,
	})
	if err != nil {
		reason := oauth.ReasonInternal
		var f *oauth.Failure
		if errors.As(err, &f) {
			reason = f.Reason
		}
		http.Redirect(w, r, h.failureURL+"?error="+url.QueryEscape(reason), http.StatusFound)
		return
	}
	h.jar.SetSession(w, login.Tokens)
	http.Redirect(w, r, h.successURL, http.StatusFound)
}
