// Package session owns the refresh-token column of the Credential Store.
// Every login path issues through Issue, every authenticated request goes
// through Verify, and logout or password reset go through Revoke.
package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/chatauth/internal/domain"
)

// Outcomes reported to the metrics recorder.
const (
	OutcomeAccess          = "access"
	OutcomeRotated         = "rotated"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeExpired         = "expired"
	OutcomeReuseDetected   = "reuse_detected"
	OutcomeRaceLost        = "race_lost"
	OutcomeUnknownSubject  = "unknown_subject"
)

// Credentials are the raw cookie values presented by a client. Either may be empty.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Result is a resolved session. Rotated is non-nil when the refresh path ran
// and the caller must set the new cookies.
type Result struct {
	User    *domain.User
	Rotated *domain.TokenPair
}

type Service interface {
	Issue(ctx context.Context, u *domain.User) (*domain.TokenPair, error)
	Verify(ctx context.Context, creds Credentials) (*Result, error)
	Revoke(ctx context.Context, userID string) error
	// Identify returns the subject named by whichever presented token has a
	// valid signature, without touching the store.
	Identify(creds Credentials) (domain.Identity, bool)
}

type credentialStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	SetRefreshToken(ctx context.Context, userID, token string) error
	RotateRefreshToken(ctx context.Context, userID, expected, next string) error
	ClearRefreshToken(ctx context.Context, userID string) error
}

type tokenService interface {
	MintAccessToken(ident domain.Identity) (string, error)
	MintRefreshToken(ident domain.Identity) (string, error)
	VerifyAccessToken(token string) (domain.Identity, error)
	VerifyRefreshToken(token string) (domain.Identity, error)
}

type recorder interface {
	SessionVerified(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) SessionVerified(string) {}

type ServiceDeps struct {
	Users   credentialStore
	Tokens  tokenService
	Metrics recorder
}

type service struct {
	users   credentialStore
	tokens  tokenService
	metrics recorder
}

func NewService(deps ServiceDeps) Service {
	s := &service{users: deps.Users, tokens: deps.Tokens, metrics: deps.Metrics}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	return s
}

// Issue mints a fresh pair for u and makes its refresh token the only valid one.
func (s *service) Issue(ctx context.Context, u *domain.User) (*domain.TokenPair, error) {
	pair, err := s.mintPair(u)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetRefreshToken(ctx, u.UserID, pair.RefreshToken); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.SessionInvalid("account no longer exists")
		}
		return nil, domain.Internal("store refresh token", err)
	}
	return pair, nil
}

func (s *service) Verify(ctx context.Context, creds Credentials) (*Result, error) {
	if creds.AccessToken != "" {
		if ident, err := s.tokens.VerifyAccessToken(creds.AccessToken); err == nil {
			return s.resolveAccess(ctx, ident)
		}
	}

	if creds.RefreshToken == "" {
		s.metrics.SessionVerified(OutcomeUnauthenticated)
		return nil, domain.Unauthenticated("no session")
	}
	ident, err := s.tokens.VerifyRefreshToken(creds.RefreshToken)
	if err != nil {
		s.metrics.SessionVerified(OutcomeExpired)
		return nil, domain.SessionExpired("session expired, sign in again")
	}

	u, err := s.users.Get(ctx, ident.SubjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.SessionVerified(OutcomeUnknownSubject)
			return nil, domain.SessionInvalid("account no longer exists")
		}
		return nil, domain.Internal("load subject", err)
	}
	if u.RefreshToken == nil || *u.RefreshToken != creds.RefreshToken {
		// A stale or replayed token: revoke whatever is current.
		slog.Warn("refresh token reuse detected", "user_id", u.UserID)
		s.metrics.SessionVerified(OutcomeReuseDetected)
		if err := s.users.ClearRefreshToken(ctx, u.UserID); err != nil {
			slog.Error("failed to revoke session after reuse", "user_id", u.UserID, "err", err)
		}
		return nil, domain.SessionInvalid("session revoked, sign in again")
	}

	pair, err := s.mintPair(u)
	if err != nil {
		return nil, err
	}
	if err := s.users.RotateRefreshToken(ctx, u.UserID, creds.RefreshToken, pair.RefreshToken); err != nil {
		if errors.Is(err, domain.ErrRefreshTokenMismatch) {
			slog.Info("concurrent refresh lost rotation race", "user_id", u.UserID)
			s.metrics.SessionVerified(OutcomeRaceLost)
			return nil, domain.SessionInvalid("session already refreshed")
		}
		return nil, domain.Internal("rotate refresh token", err)
	}
	rt := pair.RefreshToken
	u.RefreshToken = &rt
	s.metrics.SessionVerified(OutcomeRotated)
	return &Result{User: u, Rotated: pair}, nil
}

func (s *service) Revoke(ctx context.Context, userID string) error {
	if err := s.users.ClearRefreshToken(ctx, userID); err != nil {
		return domain.Internal("revoke session", err)
	}
	return nil
}

func (s *service) Identify(creds Credentials) (domain.Identity, bool) {
	if creds.AccessToken != "" {
		if ident, err := s.tokens.VerifyAccessToken(creds.AccessToken); err == nil {
			return ident, true
		}
	}
	if creds.RefreshToken != "" {
		if ident, err := s.tokens.VerifyRefreshToken(creds.RefreshToken); err == nil {
			return ident, true
		}
	}
	return domain.Identity{}, false
}

// resolveAccess re-reads the subject so deletions and role changes apply
// before the access token expires.
func (s *service) resolveAccess(ctx context.Context, ident domain.Identity) (*Result, error) {
	u, err := s.users.Get(ctx, ident.SubjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.SessionVerified(OutcomeUnknownSubject)
			return nil, domain.SessionInvalid("account no longer exists")
		}
		return nil, domain.Internal("load subject", err)
	}
	s.metrics.SessionVerified(OutcomeAccess)
	return &Result{User: u}, nil
}

func (s *service) mintPair(u *domain.User) (*domain.TokenPair, error) {
	ident := u.Identity()
	access, err := s.tokens.MintAccessToken(ident)
	if err != nil {
		return nil, domain.Internal("mint access token", err)
	}
	refresh, err := s.tokens.MintRefreshToken(ident)
	if err != nil {
		return nil, domain.Internal("mint refresh token", err)
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
