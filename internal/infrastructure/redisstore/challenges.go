package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/chatauth/internal/domain"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrChallengeNotFound is returned when no OTP record exists for an identity.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeVerified is returned when a write would touch a VERIFIED record.
	ErrChallengeVerified = errors.New("challenge already verified")
)

// IssueResult reports the outcome of an atomic send-rate check and OTP write.
type IssueResult struct {
	Allowed    bool
	Sends      int
	RetryAfter time.Duration
}

// ChallengeStore keeps OTP records, send-rate counters and block records in
// Redis. Every entry carries a server-managed TTL, so nothing needs sweeping.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(client redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "chatauth"
	}
	return &ChallengeStore{redis: client, prefix: prefix}
}

func (s *ChallengeStore) otpKey(identity string) string   { return s.prefix + ":otp:" + identity }
func (s *ChallengeStore) rateKey(identity string) string  { return s.prefix + ":otp-rate:" + identity }
func (s *ChallengeStore) blockKey(identity string) string { return s.prefix + ":otp-block:" + identity }
func (s *ChallengeStore) loginKey(key string) string      { return s.prefix + ":login-fail:" + key }

// Issue increments the send-rate counter and writes rec when the counter is
// still within maxSends for the window. The counter is never decremented.
func (s *ChallengeStore) Issue(ctx context.Context, rec *domain.OTPRecord, ttl, window time.Duration, maxSends int) (IssueResult, error) {
	res, err := issueChallengeLua.Run(ctx, s.redis,
		[]string{s.rateKey(rec.Identity), s.otpKey(rec.Identity)},
		window.Milliseconds(),
		maxSends,
		ttl.Milliseconds(),
		rec.Identity,
		rec.Purpose,
		rec.Code,
		rec.CreatedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return IssueResult{}, fmt.Errorf("issue challenge: %w", err)
	}
	if len(res) != 3 {
		return IssueResult{}, fmt.Errorf("issue challenge: unexpected script reply %v", res)
	}
	out := IssueResult{Allowed: res[0] == 1, Sends: int(res[1])}
	if !out.Allowed && res[2] > 0 {
		out.RetryAfter = time.Duration(res[2]) * time.Millisecond
	}
	return out, nil
}

// Get loads the OTP record for identity.
func (s *ChallengeStore) Get(ctx context.Context, identity string) (*domain.OTPRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.otpKey(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrChallengeNotFound
	}
	rec, err := decodeRecord(fields)
	if err != nil {
		slog.Warn("dropping malformed otp record", "identity", identity, "err", err)
		_ = s.redis.Del(ctx, s.otpKey(identity)).Err()
		return nil, ErrChallengeNotFound
	}
	return rec, nil
}

// IncrementAttempts atomically bumps the attempt counter and returns the new
// value. A VERIFIED record is not counted against and yields ErrChallengeVerified.
func (s *ChallengeStore) IncrementAttempts(ctx context.Context, identity string) (int, error) {
	n, err := incrementAttemptsLua.Run(ctx, s.redis, []string{s.otpKey(identity)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	switch n {
	case -1:
		return 0, ErrChallengeNotFound
	case -2:
		return 0, ErrChallengeVerified
	}
	return int(n), nil
}

// MarkVerified sets status=VERIFIED and extends the record's lifetime.
func (s *ChallengeStore) MarkVerified(ctx context.Context, identity string, expiresAt time.Time, ttl time.Duration) error {
	ok, err := markVerifiedLua.Run(ctx, s.redis, []string{s.otpKey(identity)}, expiresAt.UnixMilli(), ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if ok == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

// Block replaces the OTP record with a block record in one step. It refuses
// with ErrChallengeVerified when the record was verified in the meantime.
func (s *ChallengeStore) Block(ctx context.Context, rec domain.BlockRecord, ttl time.Duration) error {
	ok, err := blockLua.Run(ctx, s.redis,
		[]string{s.otpKey(rec.Identity), s.blockKey(rec.Identity)},
		rec.BlockedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("block identity: %w", err)
	}
	if ok == 0 {
		return ErrChallengeVerified
	}
	return nil
}

// BlockRemaining returns how long identity stays blocked, or 0 when it is not.
func (s *ChallengeStore) BlockRemaining(ctx context.Context, identity string) (time.Duration, error) {
	d, err := s.redis.PTTL(ctx, s.blockKey(identity)).Result()
	if err != nil {
		return 0, fmt.Errorf("check block: %w", err)
	}
	if d == -1 {
		// A block without expiry would never lift.
		slog.Warn("removing block record without ttl", "identity", identity)
		_ = s.redis.Del(ctx, s.blockKey(identity)).Err()
		return 0, nil
	}
	if d <= 0 {
		return 0, nil
	}
	return d, nil
}

// Delete removes the OTP record, e.g. after the dependent account flow completes.
func (s *ChallengeStore) Delete(ctx context.Context, identity string) error {
	if err := s.redis.Del(ctx, s.otpKey(identity)).Err(); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

// LoginFailures returns the failed sign-in count for key and how long its
// window has left.
func (s *ChallengeStore) LoginFailures(ctx context.Context, key string) (int, time.Duration, error) {
	var (
		count *redis.StringCmd
		ttl   *redis.DurationCmd
	)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Get(ctx, s.loginKey(key))
		ttl = pipe.PTTL(ctx, s.loginKey(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("load login failures: %w", err)
	}
	n, err := count.Int()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("load login failures: %w", err)
	}
	d := ttl.Val()
	if d < 0 {
		d = 0
	}
	return n, d, nil
}

// RecordLoginFailure counts one failed sign-in for key. The window starts at
// the first failure and is not extended by later ones.
func (s *ChallengeStore) RecordLoginFailure(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	res, err := recordFailureLua.Run(ctx, s.redis, []string{s.loginKey(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("record login failure: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("record login failure: unexpected script reply %v", res)
	}
	d := time.Duration(res[1]) * time.Millisecond
	if d < 0 {
		d = 0
	}
	return int(res[0]), d, nil
}

// ResetLoginFailures clears the counter after a successful sign-in.
func (s *ChallengeStore) ResetLoginFailures(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.loginKey(key)).Err(); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *ChallengeStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func decodeRecord(fields map[string]string) (*domain.OTPRecord, error) {
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("attempts: %w", err)
	}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expires_at: %w", err)
	}
	status := domain.OTPStatus(fields["status"])
	if status != domain.OTPSent && status != domain.OTPVerified {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	return &domain.OTPRecord{
		Identity:  fields["identity"],
		Purpose:   fields["purpose"],
		Code:      fields["code"],
		Attempts:  attempts,
		Status:    status,
		CreatedAt: time.UnixMilli(created).UTC(),
		ExpiresAt: time.UnixMilli(expires).UTC(),
	}, nil
}
