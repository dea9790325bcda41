package handler

import (
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/chatauth/internal/application/oauth"
	"github.com/chatauth/internal/application/otp"
	"github.com/chatauth/internal/application/session"
	"github.com/chatauth/internal/domain"
	"github.com/stretchr/testify/mock"
)

type mockAuthSvc struct{ mock.Mock }

func (m *mockAuthSvc) RequestOTP(ctx context.Context, req domain.OTPRequest) (*otp.RequestResult, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*otp.RequestResult)
	return r, args.Error(1)
}

func (m *mockAuthSvc) VerifyOTP(ctx context.Context, req domain.OTPVerifyRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockAuthSvc) Signup(ctx context.Context, verifyToken string, req domain.SignupRequest) (*domain.User, *domain.TokenPair, error) {
	args := m.Called(ctx, verifyToken, req)
	u, _ := args.Get(0).(*domain.User)
	p, _ := args.Get(1).(*domain.TokenPair)
	return u, p, args.Error(2)
}

func (m *mockAuthSvc) Login(ctx context.Context, req domain.LoginRequest) (*domain.User, *domain.TokenPair, error) {
	args := m.Called(ctx, req)
	u, _ := args.Get(0).(*domain.User)
	p, _ := args.Get(1).(*domain.TokenPair)
	return u, p, args.Error(2)
}

func (m *mockAuthSvc) ResetPassword(ctx context.Context, verifyToken string, req domain.ResetPasswordRequest) error {
	return m.Called(ctx, verifyToken, req).Error(0)
}

func (m *mockAuthSvc) Logout(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type mockSessionSvc struct{ mock.Mock }

func (m *mockSessionSvc) Issue(ctx context.Context, u *domain.User) (*domain.TokenPair, error) {
	args := m.Called(ctx, u)
	p, _ := args.Get(0).(*domain.TokenPair)
	return p, args.Error(1)
}

func (m *mockSessionSvc) Verify(ctx context.Context, creds session.Credentials) (*session.Result, error) {
	args := m.Called(ctx, creds)
	r, _ := args.Get(0).(*session.Result)
	return r, args.Error(1)
}

func (m *mockSessionSvc) Revoke(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockSessionSvc) Identify(creds session.Credentials) (domain.Identity, bool) {
	args := m.Called(creds)
	return args.Get(0).(domain.Identity), args.Bool(1)
}

type mockOAuthSvc struct{ mock.Mock }

func (m *mockOAuthSvc) Start() (*oauth.Authorization, error) {
	args := m.Called()
	a, _ := args.Get(0).(*oauth.Authorization)
	return a, args.Error(1)
}

func (m *mockOAuthSvc) Callback(ctx context.Context, req oauth.CallbackRequest) (*oauth.Login, error) {
	args := m.Called(ctx, req)
	l, _ := args.Get(0).(*oauth.Login)
	return l, args.Error(1)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func cookieMap(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}
