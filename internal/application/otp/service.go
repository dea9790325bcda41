package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatauth/internal/domain"
	"github.com/chatauth/internal/infrastructure/redisstore"
	pkgtoken "github.com/chatauth/internal/pkg/token"
)

// Policy constants for the OTP state machine.
const (
	CodeLength    = 6
	MaxAttempts   = 3
	MaxSends      = 3
	CodeTTL       = 5 * time.Minute
	SendWindow    = time.Hour
	VerifiedTTL   = 30 * time.Minute
	BlockDuration = 15 * time.Minute
)

// Results reported to the metrics recorder.
const (
	ResultSent            = "sent"
	ResultRateLimited     = "rate_limited"
	ResultDeliveryFailed  = "delivery_failed"
	ResultVerified        = "verified"
	ResultIncorrect       = "incorrect"
	ResultBlocked         = "blocked"
	ResultNotFound        = "not_found"
	ResultAlreadyVerified = "already_verified"
)

type RequestResult struct {
	ExpiresAt time.Time
}

type Service interface {
	// Request issues a new code for email and hands it to the dispatcher.
	Request(ctx context.Context, email, purpose string) (*RequestResult, error)
	// Verify checks candidate against the stored code.
	Verify(ctx context.Context, email, purpose, candidate string) error
	// ConfirmVerified fails unless email holds a VERIFIED record for purpose.
	ConfirmVerified(ctx context.Context, email, purpose string) error
	// Consume deletes the record once the dependent flow has completed.
	Consume(ctx context.Context, email string) error
}

type challengeStore interface {
	Issue(ctx context.Context, rec *domain.OTPRecord, ttl, window time.Duration, maxSends int) (redisstore.IssueResult, error)
	Get(ctx context.Context, identity string) (*domain.OTPRecord, error)
	IncrementAttempts(ctx context.Context, identity string) (int, error)
	MarkVerified(ctx context.Context, identity string, expiresAt time.Time, ttl time.Duration) error
	Block(ctx context.Context, rec domain.BlockRecord, ttl time.Duration) error
	BlockRemaining(ctx context.Context, identity string) (time.Duration, error)
	Delete(ctx context.Context, identity string) error
}

// Dispatcher delivers a code to its owner. Implemented by the SMTP mailer and
// the SNS topic publisher.
type Dispatcher interface {
	SendOTP(ctx context.Context, email, code, purpose string) error
}

type recorder interface {
	OTPRequested(result string)
	OTPVerified(result string)
}

type noopRecorder struct{}

func (noopRecorder) OTPRequested(string) {}
func (noopRecorder) OTPVerified(string)  {}

type service struct {
	store      challengeStore
	dispatcher Dispatcher
	metrics    recorder
	now        func() time.Time
}

type ServiceDeps struct {
	Store      challengeStore
	Dispatcher Dispatcher
	Metrics    recorder
	Clock      func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		now:        deps.Clock,
	}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Normalize returns the store key for an email address.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *service) Request(ctx context.Context, email, purpose string) (*RequestResult, error) {
	identity := Normalize(email)
	if identity == "" {
		return nil, domain.Validation("email required", map[string]string{"email": "required"})
	}

	if err := s.checkBlocked(ctx, identity); err != nil {
		s.metrics.OTPRequested(ResultRateLimited)
		return nil, err
	}

	code, err := pkgtoken.NumericCode(CodeLength)
	if err != nil {
		return nil, domain.Internal("generate code", err)
	}
	now := s.now().UTC()
	rec := &domain.OTPRecord{
		Identity:  identity,
		Purpose:   purpose,
		Code:      code,
		Status:    domain.OTPSent,
		CreatedAt: now,
		ExpiresAt: now.Add(CodeTTL),
	}
	res, err := s.store.Issue(ctx, rec, CodeTTL, SendWindow, MaxSends)
	if err != nil {
		return nil, domain.Internal("store challenge", err)
	}
	if !res.Allowed {
		s.metrics.OTPRequested(ResultRateLimited)
		return nil, domain.RateLimited("too many verification codes requested", WaitMinutes(res.RetryAfter))
	}

	if err := s.dispatcher.SendOTP(ctx, identity, code, purpose); err != nil {
		// The record stays valid; only delivery failed.
		slog.Warn("otp dispatch failed", "identity", identity, "purpose", purpose, "err", err)
		s.metrics.OTPRequested(ResultDeliveryFailed)
		return nil, domain.Delivery("could not deliver verification code", err)
	}
	s.metrics.OTPRequested(ResultSent)
	return &RequestResult{ExpiresAt: rec.ExpiresAt}, nil
}

func (s *service) Verify(ctx context.Context, email, purpose, candidate string) error {
	identity := Normalize(email)
	candidate = strings.TrimSpace(candidate)
	if identity == "" || candidate == "" {
		return domain.Validation("email and otp required", nil)
	}

	if err := s.checkBlocked(ctx, identity); err != nil {
		s.metrics.OTPVerified(ResultBlocked)
		return err
	}

	rec, err := s.load(ctx, identity, purpose)
	if err != nil {
		s.metrics.OTPVerified(ResultNotFound)
		return err
	}
	if rec.Status == domain.OTPVerified {
		s.metrics.OTPVerified(ResultAlreadyVerified)
		return domain.AlreadyVerified("email already verified")
	}

	attempts, err := s.store.IncrementAttempts(ctx, identity)
	if err != nil {
		switch {
		case errors.Is(err, redisstore.ErrChallengeNotFound):
			s.metrics.OTPVerified(ResultNotFound)
			return notFound()
		case errors.Is(err, redisstore.ErrChallengeVerified):
			s.metrics.OTPVerified(ResultAlreadyVerified)
			return domain.AlreadyVerified("email already verified")
		}
		return domain.Internal("increment attempts", err)
	}

	if subtle.ConstantTimeCompare([]byte(candidate), []byte(rec.Code)) == 1 {
		now := s.now().UTC()
		if err := s.store.MarkVerified(ctx, identity, now.Add(VerifiedTTL), VerifiedTTL); err != nil {
			if errors.Is(err, redisstore.ErrChallengeNotFound) {
				return notFound()
			}
			return domain.Internal("mark verified", err)
		}
		s.metrics.OTPVerified(ResultVerified)
		return nil
	}

	if attempts >= MaxAttempts {
		now := s.now().UTC()
		block := domain.BlockRecord{Identity: identity, BlockedAt: now, ExpiresAt: now.Add(BlockDuration)}
		if err := s.store.Block(ctx, block, BlockDuration); err != nil {
			if errors.Is(err, redisstore.ErrChallengeVerified) {
				s.metrics.OTPVerified(ResultAlreadyVerified)
				return domain.AlreadyVerified("email already verified")
			}
			return domain.Internal("block identity", err)
		}
		slog.Info("otp attempts exhausted, identity blocked", "identity", identity, "until", block.ExpiresAt)
		s.metrics.OTPVerified(ResultBlocked)
		return domain.RateLimited("too many incorrect attempts", WaitMinutes(BlockDuration))
	}

	s.metrics.OTPVerified(ResultIncorrect)
	return domain.Incorrect(MaxAttempts - attempts)
}

func (s *service) ConfirmVerified(ctx context.Context, email, purpose string) error {
	rec, err := s.load(ctx, Normalize(email), purpose)
	if err != nil {
		return err
	}
	if rec.Status != domain.OTPVerified {
		return domain.Unauthenticated("email not verified")
	}
	return nil
}

func (s *service) Consume(ctx context.Context, email string) error {
	if err := s.store.Delete(ctx, Normalize(email)); err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	return nil
}

// load fetches the record, clearing it lazily when past its expiry.
func (s *service) load(ctx context.Context, identity, purpose string) (*domain.OTPRecord, error) {
	rec, err := s.store.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, redisstore.ErrChallengeNotFound) {
			return nil, notFound()
		}
		return nil, domain.Internal("load challenge", err)
	}
	if s.now().After(rec.ExpiresAt) {
		if err := s.store.Delete(ctx, identity); err != nil {
			slog.Warn("failed to clear expired otp record", "identity", identity, "err", err)
		}
		return nil, notFound()
	}
	if rec.Purpose != purpose {
		return nil, notFound()
	}
	return rec, nil
}

func (s *service) checkBlocked(ctx context.Context, identity string) error {
	remaining, err := s.store.BlockRemaining(ctx, identity)
	if err != nil {
		return domain.Internal("check block", err)
	}
	if remaining > 0 {
		return domain.RateLimited("too many attempts, try again later", WaitMinutes(remaining))
	}
	return nil
}

func notFound() error {
	return domain.NotFound("verification code not found or expired")
}

// WaitMinutes rounds d up to whole minutes, never below one.
func WaitMinutes(d time.Duration) int {
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}
