// Package oauth bridges a provider's authorization-code flow (with PKCE) into
// local subjects and sessions.
package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/chatauth/internal/domain"
	"github.com/chatauth/internal/pkg/id"
	pkgtoken "github.com/chatauth/internal/pkg/token"
	"golang.org/x/oauth2"
)

// Failure reasons carried back to the client on the login redirect.
const (
	ReasonProviderDenied  = "provider_denied"
	ReasonMissingCode     = "missing_code"
	ReasonMissingVerifier = "missing_verifier"
	ReasonStateMismatch   = "state_mismatch"
	ReasonExchangeFailed  = "exchange_failed"
	ReasonEmailUnverified = "email_unverified"
	ReasonInternal        = "internal_error"
)

const (
	usernameAttempts  = 5
	usernameSuffixLen = 4
	usernameBaseMax   = 24
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Failure is returned for every callback error; Reason is safe to show.
type Failure struct {
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return "oauth " + f.Reason + ": " + f.Err.Error()
	}
	return "oauth " + f.Reason
}

func (f *Failure) Unwrap() error { return f.Err }

// Authorization is a started flow: send the user to URL and keep Verifier
// in a short-lived cookie.
type Authorization struct {
	URL      string
	Verifier string
}

type CallbackRequest struct {
	Code     string
	State    string
	Error    string
	Verifier string
}

type Login struct {
	User   *domain.User
	Tokens *domain.TokenPair
	// Created is true when the callback registered a new subject.
	Created bool
}

type Service interface {
	Start() (*Authorization, error)
	Callback(ctx context.Context, req CallbackRequest) (*Login, error)
}

type Provider interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*domain.ExternalProfile, error)
}

type userStore interface {
	GetByProvider(ctx context.Context, provider, providerID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	LinkProvider(ctx context.Context, userID, provider, providerID, avatarURL string) error
}

type sessionIssuer interface {
	Issue(ctx context.Context, u *domain.User) (*domain.TokenPair, error)
}

type recorder interface {
	OAuthCallback(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) OAuthCallback(string) {}

type ServiceDeps struct {
	Provider Provider
	Users    userStore
	Sessions sessionIssuer
	Metrics  recorder
	Clock    func() time.Time
}

type service struct {
	provider Provider
	users    userStore
	sessions sessionIssuer
	metrics  recorder
	now      func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		provider: deps.Provider,
		users:    deps.Users,
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		now:      deps.Clock,
	}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start generates a fresh verifier. The state parameter is derived from the
// verifier so the callback can be tied to the browser holding the cookie.
func (s *service) Start() (*Authorization, error) {
	verifier := oauth2.GenerateVerifier()
	return &Authorization{
		URL:      s.provider.AuthCodeURL(stateFor(verifier), verifier),
		Verifier: verifier,
	}, nil
}

func (s *service) Callback(ctx context.Context, req CallbackRequest) (*Login, error) {
	login, err := s.callback(ctx, req)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			s.metrics.OAuthCallback(f.Reason)
			slog.Warn("oauth callback failed", "reason", f.Reason, "err", f.Err)
		}
		return nil, err
	}
	if login.Created {
		s.metrics.OAuthCallback("created")
	} else {
		s.metrics.OAuthCallback("signed_in")
	}
	return login, nil
}

func (s *service) callback(ctx context.Context, req CallbackRequest) (*Login, error) {
	switch {
	case req.Error != "":
		return nil, &Failure{Reason: ReasonProviderDenied, Err: errors.New(req.Error)}
	case req.Code == "":
		return nil, &Failure{Reason: ReasonMissingCode}
	case req.Verifier == "":
		return nil, &Failure{Reason: ReasonMissingVerifier}
	case subtle.ConstantTimeCompare([]byte(req.State), []byte(stateFor(req.Verifier))) != 1:
		return nil, &Failure{Reason: ReasonStateMismatch}
	}

	profile, err := s.provider.Exchange(ctx, req.Code, req.Verifier)
	if err != nil {
		return nil, &Failure{Reason: ReasonExchangeFailed, Err: err}
	}
	if profile.Subject == "" {
		return nil, &Failure{Reason: ReasonExchangeFailed, Err: errors.New("profile has no subject")}
	}

	u, created, err := s.resolve(ctx, profile)
	if err != nil {
		return nil, err
	}
	pair, err := s.sessions.Issue(ctx, u)
	if err != nil {
		return nil, &Failure{Reason: ReasonInternal, Err: err}
	}
	return &Login{User: u, Tokens: pair, Created: created}, nil
}

// resolve finds the local subject by provider id, then by email (linking the
// provider), and otherwise creates one.
func (s *service) resolve(ctx context.Context, p *domain.ExternalProfile) (*domain.User, bool, error) {
	u, err := s.users.GetByProvider(ctx, p.Provider, p.Subject)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, &Failure{Reason: ReasonInternal, Err: err}
	}

	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" || !p.EmailVerified {
		return nil, false, &Failure{Reason: ReasonEmailUnverified}
	}

	u, err = s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.users.LinkProvider(ctx, u.UserID, p.Provider, p.Subject, p.AvatarURL); err != nil {
			return nil, false, &Failure{Reason: ReasonInternal, Err: err}
		}
		u.AuthProvider = p.Provider
		u.ProviderID = p.Subject
		if u.AvatarURL == "" {
			u.AvatarURL = p.AvatarURL
		}
		slog.Info("linked oauth identity to existing user", "user_id", u.UserID, "provider", p.Provider)
		return u, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, &Failure{Reason: ReasonInternal, Err: err}
	}

	username, err := s.uniqueUsername(ctx, email)
	if err != nil {
		return nil, false, &Failure{Reason: ReasonInternal, Err: err}
	}
	now := s.now().UTC()
	u = &domain.User{
		UserID:       id.New(),
		Email:        email,
		Username:     username,
		FullName:     p.Name,
		AuthProvider: p.Provider,
		ProviderID:   p.Subject,
		AvatarURL:    p.AvatarURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, false, &Failure{Reason: ReasonInternal, Err: err}
	}
	slog.Info("created user from oauth profile", "user_id", u.UserID, "provider", p.Provider)
	return u, true, nil
}

// uniqueUsername derives a username from the email's local part plus random
// digits, retrying on collisions.
func (s *service) uniqueUsername(ctx context.Context, email string) (string, error) {
	base := usernameBase(email)
	for i := 0; i < usernameAttempts; i++ {
		suffix, err := pkgtoken.NumericCode(usernameSuffixLen)
		if err != nil {
			return "", err
		}
		candidate := base + suffix
		_, err = s.users.GetByUsername(ctx, candidate)
		if errors.Is(err, domain.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.New("could not allocate a unique username")
}

func usernameBase(email string) string {
	local, _, _ := strings.Cut(email, "@")
	base := nonAlnum.ReplaceAllString(strings.ToLower(local), "")
	if len(base) > usernameBaseMax {
		base = base[:usernameBaseMax]
	}
	if len(base) < 3 {
		base = "user" + base
	}
	return base
}

func stateFor(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
