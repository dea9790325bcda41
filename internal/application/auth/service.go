package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chatauth/internal/application/otp"
	"github.com/chatauth/internal/domain"
	"github.com/chatauth/internal/pkg/id"
	"golang.org/x/crypto/bcrypt"
)

type Service interface {
	// RequestOTP sends a code for the purpose after checking the account
	// precondition: signup needs a free email, reset an existing one.
	RequestOTP(ctx context.Context, req domain.OTPRequest) (*otp.RequestResult, error)
	// VerifyOTP checks the code and returns a verification token.
	VerifyOTP(ctx context.Context, req domain.OTPVerifyRequest) (string, error)
	Signup(ctx context.Context, verifyToken string, req domain.SignupRequest) (*domain.User, *domain.TokenPair, error)
	Login(ctx context.Context, req domain.LoginRequest) (*domain.User, *domain.TokenPair, error)
	ResetPassword(ctx context.Context, verifyToken string, req domain.ResetPasswordRequest) error
	Logout(ctx context.Context, userID string) error
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdatePassword(ctx context.Context, userID, hash string) error
}

// loginThrottle counts failed sign-ins per account inside a fixed window.
type loginThrottle interface {
	LoginFailures(ctx context.Context, key string) (int, time.Duration, error)
	RecordLoginFailure(ctx context.Context, key string, window time.Duration) (int, time.Duration, error)
	ResetLoginFailures(ctx context.Context, key string) error
}

// Default sign-in lockout policy.
const (
	DefaultMaxLoginFailures = 5
	DefaultLoginLockout     = 15 * time.Minute
)

type sessionIssuer interface {
	Issue(ctx context.Context, u *domain.User) (*domain.TokenPair, error)
	Revoke(ctx context.Context, userID string) error
}

type verificationTokens interface {
	MintVerificationToken(v domain.Verification) (string, error)
	VerifyVerificationToken(token string) (domain.Verification, error)
}

type ServiceDeps struct {
	Users    userStore
	OTP      otp.Service
	Sessions sessionIssuer
	Tokens   verificationTokens
	Throttle loginThrottle
	// MaxLoginFailures and LoginLockout default to DefaultMaxLoginFailures
	// and DefaultLoginLockout.
	MaxLoginFailures int
	LoginLockout     time.Duration
	// HashCost defaults to bcrypt.DefaultCost.
	HashCost int
	Clock    func() time.Time
}

type service struct {
	users    userStore
	otp      otp.Service
	sessions sessionIssuer
	tokens   verificationTokens
	throttle loginThrottle
	maxFails int
	lockout  time.Duration
	hashCost int
	now      func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		users:    deps.Users,
		otp:      deps.OTP,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		throttle: deps.Throttle,
		maxFails: deps.MaxLoginFailures,
		lockout:  deps.LoginLockout,
		hashCost: deps.HashCost,
		now:      deps.Clock,
	}
	if s.maxFails <= 0 {
		s.maxFails = DefaultMaxLoginFailures
	}
	if s.lockout <= 0 {
		s.lockout = DefaultLoginLockout
	}
	if s.hashCost == 0 {
		s.hashCost = bcrypt.DefaultCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *service) RequestOTP(ctx context.Context, req domain.OTPRequest) (*otp.RequestResult, error) {
	email := otp.Normalize(req.Email)
	exists, err := s.emailRegistered(ctx, email)
	if err != nil {
		return nil, err
	}
	switch {
	case req.Purpose == domain.PurposeSignup && exists:
		return nil, domain.Conflict("email already registered")
	case req.Purpose == domain.PurposeReset && !exists:
		return nil, domain.NotFound("no account for this email")
	}
	return s.otp.Request(ctx, email, req.Purpose)
}

func (s *service) VerifyOTP(ctx context.Context, req domain.OTPVerifyRequest) (string, error) {
	email := otp.Normalize(req.Email)
	if err := s.otp.Verify(ctx, email, req.Purpose, req.OTP); err != nil {
		return "", err
	}
	tok, err := s.tokens.MintVerificationToken(domain.Verification{Email: email, Purpose: req.Purpose})
	if err != nil {
		return "", domain.Internal("mint verification token", err)
	}
	return tok, nil
}

func (s *service) Signup(ctx context.Context, verifyToken string, req domain.SignupRequest) (*domain.User, *domain.TokenPair, error) {
	email, err := s.verified(ctx, verifyToken, domain.PurposeSignup)
	if err != nil {
		return nil, nil, err
	}

	exists, err := s.emailRegistered(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, domain.Conflict("email already registered")
	}
	username := strings.ToLower(req.Username)
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, nil, domain.Conflict("username already taken")
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, domain.Internal("check username", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, nil, domain.Internal("hash password", err)
	}
	now := s.now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Email:        email,
		Username:     username,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: string(hash),
		AuthProvider: domain.ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, nil, err
		}
		return nil, nil, domain.Internal("create user", err)
	}
	s.consume(ctx, email)

	pair, err := s.sessions.Issue(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("user signed up", "user_id", u.UserID)
	return u, pair, nil
}

func (s *service) Login(ctx context.Context, req domain.LoginRequest) (*domain.User, *domain.TokenPair, error) {
	ident := strings.TrimSpace(req.Identifier)
	var (
		u   *domain.User
		err error
	)
	if strings.Contains(ident, "@") {
		ident = otp.Normalize(ident)
		u, err = s.users.GetByEmail(ctx, ident)
	} else {
		ident = strings.ToLower(ident)
		u, err = s.users.GetByUsername(ctx, ident)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, domain.Internal("load user", err)
	}

	key := failureKey(ident, u)
	fails, wait, err := s.throttle.LoginFailures(ctx, key)
	if err != nil {
		return nil, nil, domain.Internal("check login failures", err)
	}
	if fails >= s.maxFails {
		return nil, nil, domain.RateLimited("too many failed sign-in attempts", otp.WaitMinutes(wait))
	}

	// Accounts created through OAuth have no password.
	if u == nil || u.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return nil, nil, s.loginFailed(ctx, key)
	}

	if err := s.throttle.ResetLoginFailures(ctx, key); err != nil {
		slog.Warn("failed to reset login failures", "key", key, "err", err)
	}
	pair, err := s.sessions.Issue(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// loginFailed counts the failure and reports RateLimited once the budget
// is spent.
func (s *service) loginFailed(ctx context.Context, key string) error {
	fails, wait, err := s.throttle.RecordLoginFailure(ctx, key, s.lockout)
	if err != nil {
		return domain.Internal("record login failure", err)
	}
	if fails >= s.maxFails {
		slog.Info("sign-in locked after repeated failures", "key", key, "failures", fails)
		return domain.RateLimited("too many failed sign-in attempts", otp.WaitMinutes(wait))
	}
	return domain.Unauthenticated("invalid credentials")
}

// failureKey counts failures per account so email and username share one
// budget. Unknown identifiers are counted by the identifier itself.
func failureKey(ident string, u *domain.User) string {
	if u != nil {
		return "user:" + u.UserID
	}
	return "ident:" + ident
}

func (s *service) ResetPassword(ctx context.Context, verifyToken string, req domain.ResetPasswordRequest) error {
	email, err := s.verified(ctx, verifyToken, domain.PurposeReset)
	if err != nil {
		return err
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return domain.Internal("load user", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return domain.Internal("hash password", err)
	}
	if err := s.users.UpdatePassword(ctx, u.UserID, string(hash)); err != nil {
		return domain.Internal("update password", err)
	}
	s.consume(ctx, email)
	// Every existing session ends with the old password.
	return s.sessions.Revoke(ctx, u.UserID)
}

func (s *service) Logout(ctx context.Context, userID string) error {
	return s.sessions.Revoke(ctx, userID)
}

// verified checks the verification token and that its OTP record is still
// VERIFIED, returning the bound email.
func (s *service) verified(ctx context.Context, verifyToken, purpose string) (string, error) {
	if verifyToken == "" {
		return "", domain.Unauthenticated("email verification required")
	}
	v, err := s.tokens.VerifyVerificationToken(verifyToken)
	if err != nil || v.Purpose != purpose {
		return "", domain.Unauthenticated("email verification required")
	}
	if err := s.otp.ConfirmVerified(ctx, v.Email, purpose); err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnauthenticated) {
			return "", domain.Unauthenticated("email verification expired")
		}
		return "", err
	}
	return v.Email, nil
}

func (s *service) emailRegistered(ctx context.Context, email string) (bool, error) {
	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, domain.Internal("check email", err)
}

func (s *service) consume(ctx context.Context, email string) {
	if err := s.otp.Consume(ctx, email); err != nil {
		slog.Warn("failed to consume otp record", "identity", email, "err", err)
	}
}
