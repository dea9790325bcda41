// Package cookie owns the names, lifetimes and attributes of every cookie the
// service sets.
package cookie

import (
	"net/http"
	"time"

	"github.com/chatauth/internal/domain"
	jwtinfra "github.com/chatauth/internal/infrastructure/jwt"
)

const (
	AccessToken  = "access_token"
	RefreshToken = "refresh_token"
	VerifyToken  = "verify_token"
	PKCEVerifier = "pkce_verifier"
)

// PKCETTL bounds how long an OAuth flow may take between start and callback.
const PKCETTL = 10 * time.Minute

// Jar writes cookies with the service's attributes: httpOnly, path /, and
// Secure when serving production traffic.
type Jar struct {
	Secure bool
}

func (j Jar) SetSession(w http.ResponseWriter, pair *domain.TokenPair) {
	j.set(w, AccessToken, pair.AccessToken, jwtinfra.TTL(jwtinfra.KindAccess), http.SameSiteStrictMode)
	j.set(w, RefreshToken, pair.RefreshToken, jwtinfra.TTL(jwtinfra.KindRefresh), http.SameSiteStrictMode)
}

func (j Jar) ClearSession(w http.ResponseWriter) {
	j.clear(w, AccessToken, http.SameSiteStrictMode)
	j.clear(w, RefreshToken, http.SameSiteStrictMode)
}

func (j Jar) SetVerify(w http.ResponseWriter, token string) {
	j.set(w, VerifyToken, token, jwtinfra.TTL(jwtinfra.KindVerify), http.SameSiteStrictMode)
}

func (j Jar) ClearVerify(w http.ResponseWriter) {
	j.clear(w, VerifyToken, http.SameSiteStrictMode)
}

// SetPKCE uses SameSite=Lax so the cookie survives the provider's top-level
// redirect back to the callback.
func (j Jar) SetPKCE(w http.ResponseWriter, verifier string) {
	j.set(w, PKCEVerifier, verifier, PKCETTL, http.SameSiteLaxMode)
}

func (j Jar) ClearPKCE(w http.ResponseWriter) {
	j.clear(w, PKCEVerifier, http.SameSiteLaxMode)
}

// Value returns the named cookie's value or "".
func Value(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (j Jar) set(w http.ResponseWriter, name, value string, ttl time.Duration, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: sameSite,
	})
}

func (j Jar) clear(w http.ResponseWriter, name string, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: sameSite,
	})
}
