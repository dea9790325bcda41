package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chatauth/internal/domain"
	"github.com/chatauth/internal/infrastructure/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureDispatcher records the last code sent per identity.
type captureDispatcher struct {
	mu    sync.Mutex
	codes map[string]string
	fail  error
}

func (d *captureDispatcher) SendOTP(_ context.Context, email, code, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	if d.codes == nil {
		d.codes = map[string]string{}
	}
	d.codes[email] = code
	return nil
}

func (d *captureDispatcher) last(email string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.codes[email]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type lifecycle struct {
	mr    *miniredis.Miniredis
	clock *fakeClock
	disp  *captureDispatcher
	svc   Service
}

func newLifecycle(t *testing.T) *lifecycle {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := &lifecycle{
		mr:    mr,
		clock: &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		disp:  &captureDispatcher{},
	}
	l.svc = NewService(ServiceDeps{
		Store:      redisstore.NewChallengeStore(client, "test"),
		Dispatcher: l.disp,
		Clock:      l.clock.Now,
	})
	return l
}

// advance moves both the service clock and Redis TTLs forward.
func (l *lifecycle) advance(d time.Duration) {
	l.clock.mu.Lock()
	l.clock.now = l.clock.now.Add(d)
	l.clock.mu.Unlock()
	l.mr.FastForward(d)
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestLifecycle_SendRateLimit(t *testing.T) {
	l := newLifecycle(t)
	ctx := context.Background()

	for i := 0; i < MaxSends; i++ {
		_, err := l.svc.Request(ctx, "a@x.com", domain.PurposeSignup)
		require.NoError(t, err, "send %d", i+1)
	}

	_, err := l.svc.Request(ctx, "a@x.com", domain.PurposeSignup)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrRateLimited, de.Kind)
	assert.Greater(t, de.WaitMinutes, 0)

	// The window is fixed from the first send.
	l.advance(SendWindow + time.Second)
	_, err = l.svc.Request(ctx, "a@x.com", domain.PurposeSignup)
	assert.NoError(t, err)
}

func TestLifecycle_ResendInvalidatesPreviousCode(t *testing.T) {
	l := newLifecycle(t)
	ctx := context.Background()

	_, err := l.svc.Request(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	first := l.disp.last("a@x.com")

	_, err = l.svc.Request(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	second := l.disp.last("a@x.com")

	if first != second {
		err = l.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, first)
		assert.True(t, errors.Is(err, domain.ErrIncorrectCode))
	}
	assert.NoError(t, l.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, second))
}

func TestLifecycle_VerifyFlow(t *testing.T) {
	l := newLifecycle(t)
	ctx := context.Background()

	_, err := l.svc.Request(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	code := l.disp.last("a@x.com")
	require.Len(t, code, CodeLength)

	err = l.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, wrongCode(code))
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrIncorrectCode, de.Kind)
	assert.Equal(t, 2, de.RemainingAttempts)

	require.NoError(t, l.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, code))
	require.NoError(t, l.svc.ConfirmVerified(ctx, "a@x.com", domain.PurposeSignup))

	err = l.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, code)
	assert.True(t, errors.Is(err, domain.ErrAlreadyVerified))

	// The verified grace period outlives the original code TTL.
	l.advance(CodeTTL + time.Minute)
	require.NoError(t, l.svc.ConfirmVerified(ctx, "a@x.com", domain.PurposeSignup))

	require.NoError(t, l.svc.Consume(ctx, "a@x.com"))
	err = l.svc.ConfirmVerified(ctx, "a@x.com", domain.PurposeSignup)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLifecycle_BlockAfterThreeFailures(t *testing.T) {
	l := newLifecycle(t)
	ctx := context.Background()

	_, err := l.svc.Request(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	code := l.disp.last("a@x.com")
	bad := wrongCode(code)

	for want := 2; want >= 1; want-- {
		err = l.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, bad)
		de, ok := domain.AsError(err)
		require.True(t, ok)
		assert.Equal(t, want, de.RemainingAttempts)
	}

	err = l.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, bad)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrRateLimited, de.Kind)
	assert.Equal(t, 15, de.WaitMinutes)

	// Even the right code is refused while blocked.
	err = l.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, code)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
	_, err = l.svc.Request(ctx, "a@x.com", domain.PurposeSignup)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))

	l.advance(BlockDuration + time.Second)

	// The block replaced the record, so the old code is gone.
	err = l.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, code)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLifecycle_ExpiredCode(t *testing.T) {
	l := newLifecycle(t)
	ctx := context.Background()

	_, err := l.svc.Request(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	code := l.disp.last("a@x.com")

	l.advance(CodeTTL + time.Second)
	err = l.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, code)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLifecycle_DeliveryFailureKeepsRecord(t *testing.T) {
	l := newLifecycle(t)
	ctx := context.Background()
	l.disp.fail = errors.New("smtp unavailable")

	_, err := l.svc.Request(ctx, "a@x.com", domain.PurposeSignup)
	assert.True(t, errors.Is(err, domain.ErrDelivery))
	assert.True(t, l.mr.Exists("test:otp:a@x.com"))
}

func TestLifecycle_PurposeIsolation(t *testing.T) {
	l := newLifecycle(t)
	ctx := context.Background()

	_, err := l.svc.Request(ctx, "a@x.com", domain.PurposeReset)
	require.NoError(t, err)
	code := l.disp.last("a@x.com")

	err = l.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, code)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	require.NoError(t, l.svc.Verify(ctx, "a@x.com", domain.PurposeReset, code))
}
