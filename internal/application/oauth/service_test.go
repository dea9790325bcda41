package oauth

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/chatauth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// --- mocks ---

type mockProvider struct{ mock.Mock }

func (m *mockProvider) AuthCodeURL(state, verifier string) string {
	return m.Called(state, verifier).String(0)
}
func (m *mockProvider) Exchange(ctx context.Context, code, verifier string) (*domain.ExternalProfile, error) {
	args := m.Called(ctx, code, verifier)
	if p, _ := args.Get(0).(*domain.ExternalProfile); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) GetByProvider(ctx context.Context, provider, providerID string) (*domain.User, error) {
	args := m.Called(ctx, provider, providerID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) Create(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}
func (m *mockUserStore) LinkProvider(ctx context.Context, userID, provider, providerID, avatarURL string) error {
	return m.Called(ctx, userID, provider, providerID, avatarURL).Error(0)
}

type mockSessions struct{ mock.Mock }

func (m *mockSessions) Issue(ctx context.Context, u *domain.User) (*domain.TokenPair, error) {
	args := m.Called(ctx, u)
	if p, _ := args.Get(0).(*domain.TokenPair); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// --- helpers ---

type fixture struct {
	provider *mockProvider
	users    *mockUserStore
	sessions *mockSessions
	svc      Service
}

func newFixture() *fixture {
	f := &fixture{provider: &mockProvider{}, users: &mockUserStore{}, sessions: &mockSessions{}}
	f.svc = NewService(ServiceDeps{Provider: f.provider, Users: f.users, Sessions: f.sessions})
	return f
}

func notFound() error { return domain.NotFound("user not found") }

func googleProfile() *domain.ExternalProfile {
	return &domain.ExternalProfile{
		Provider:      domain.ProviderGoogle,
		Subject:       "g-1",
		Email:         "Jane.Doe@Example.com",
		EmailVerified: true,
		Name:          "Jane Doe",
		AvatarURL:     "https://example.com/j.png",
	}
}

func validRequest() CallbackRequest {
	v := oauth2.GenerateVerifier()
	return CallbackRequest{Code: "code", State: oauth2.S256ChallengeFromVerifier(v), Verifier: v}
}

var pair = &domain.TokenPair{AccessToken: "at", RefreshToken: "rt"}

func reason(t *testing.T, err error) string {
	t.Helper()
	var f *Failure
	require.True(t, errors.As(err, &f), "expected *Failure, got %v", err)
	return f.Reason
}

// --- Start ---

func TestStart_PassesVerifierAndDerivedState(t *testing.T) {
	f := newFixture()
	f.provider.On("AuthCodeURL", mock.Anything, mock.Anything).Return("https://accounts.example/auth")

	auth, err := f.svc.Start()
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.example/auth", auth.URL)
	assert.GreaterOrEqual(t, len(auth.Verifier), 43)
	f.provider.AssertCalled(t, "AuthCodeURL", oauth2.S256ChallengeFromVerifier(auth.Verifier), auth.Verifier)

	again, err := f.svc.Start()
	require.NoError(t, err)
	assert.NotEqual(t, auth.Verifier, again.Verifier)
}

// --- Callback failures ---

func TestCallback_ProviderError(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Callback(context.Background(), CallbackRequest{Error: "access_denied"})
	assert.Equal(t, ReasonProviderDenied, reason(t, err))
}

func TestCallback_MissingVerifier(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Callback(context.Background(), CallbackRequest{Code: "code", State: "s"})
	assert.Equal(t, ReasonMissingVerifier, reason(t, err))
}

func TestCallback_StateMismatch(t *testing.T) {
	f := newFixture()
	req := validRequest()
	req.State = "forged"
	_, err := f.svc.Callback(context.Background(), req)
	assert.Equal(t, ReasonStateMismatch, reason(t, err))
	f.provider.AssertNotCalled(t, "Exchange", mock.Anything, mock.Anything, mock.Anything)
}

func TestCallback_ExchangeFailure(t *testing.T) {
	f := newFixture()
	req := validRequest()
	f.provider.On("Exchange", mock.Anything, "code", req.Verifier).Return(nil, errors.New("invalid_grant"))

	_, err := f.svc.Callback(context.Background(), req)
	assert.Equal(t, ReasonExchangeFailed, reason(t, err))
}

func TestCallback_UnverifiedEmailIsNotLinked(t *testing.T) {
	f := newFixture()
	req := validRequest()
	p := googleProfile()
	p.EmailVerified = false
	f.provider.On("Exchange", mock.Anything, "code", req.Verifier).Return(p, nil)
	f.users.On("GetByProvider", mock.Anything, domain.ProviderGoogle, "g-1").Return(nil, notFound())

	_, err := f.svc.Callback(context.Background(), req)
	assert.Equal(t, ReasonEmailUnverified, reason(t, err))
	f.users.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
}

// --- Callback resolution ---

func TestCallback_ExistingProviderUser(t *testing.T) {
	f := newFixture()
	req := validRequest()
	u := &domain.User{UserID: "u1", Username: "jane"}
	f.provider.On("Exchange", mock.Anything, "code", req.Verifier).Return(googleProfile(), nil)
	f.users.On("GetByProvider", mock.Anything, domain.ProviderGoogle, "g-1").Return(u, nil)
	f.sessions.On("Issue", mock.Anything, u).Return(pair, nil)

	login, err := f.svc.Callback(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, u, login.User)
	assert.Equal(t, pair, login.Tokens)
	assert.False(t, login.Created)
}

func TestCallback_LinksByEmail(t *testing.T) {
	f := newFixture()
	req := validRequest()
	u := &domain.User{UserID: "u1", Email: "jane.doe@example.com", AuthProvider: domain.ProviderLocal}
	f.provider.On("Exchange", mock.Anything, "code", req.Verifier).Return(googleProfile(), nil)
	f.users.On("GetByProvider", mock.Anything, domain.ProviderGoogle, "g-1").Return(nil, notFound())
	f.users.On("GetByEmail", mock.Anything, "jane.doe@example.com").Return(u, nil)
	f.users.On("LinkProvider", mock.Anything, "u1", domain.ProviderGoogle, "g-1", "https://example.com/j.png").Return(nil)
	f.sessions.On("Issue", mock.Anything, u).Return(pair, nil)

	login, err := f.svc.Callback(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderGoogle, login.User.AuthProvider)
	assert.Equal(t, "g-1", login.User.ProviderID)
	assert.False(t, login.Created)
	f.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCallback_CreatesUserWithUniqueUsername(t *testing.T) {
	f := newFixture()
	req := validRequest()
	f.provider.On("Exchange", mock.Anything, "code", req.Verifier).Return(googleProfile(), nil)
	f.users.On("GetByProvider", mock.Anything, domain.ProviderGoogle, "g-1").Return(nil, notFound())
	f.users.On("GetByEmail", mock.Anything, "jane.doe@example.com").Return(nil, notFound())
	// First candidate collides, second is free.
	f.users.On("GetByUsername", mock.Anything, mock.Anything).Return(&domain.User{UserID: "other"}, nil).Once()
	f.users.On("GetByUsername", mock.Anything, mock.Anything).Return(nil, notFound()).Once()
	var created *domain.User
	f.users.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*domain.User) }).
		Return(nil)
	f.sessions.On("Issue", mock.Anything, mock.AnythingOfType("*domain.User")).Return(pair, nil)

	login, err := f.svc.Callback(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, login.Created)
	require.NotNil(t, created)
	assert.Regexp(t, regexp.MustCompile(`^janedoe\d{4}$`), created.Username)
	assert.Equal(t, "jane.doe@example.com", created.Email)
	assert.Equal(t, "g-1", created.ProviderID)
	assert.Empty(t, created.PasswordHash)
	f.users.AssertNumberOfCalls(t, "GetByUsername", 2)
}

func TestCallback_IssueFailureIsReported(t *testing.T) {
	f := newFixture()
	req := validRequest()
	u := &domain.User{UserID: "u1"}
	f.provider.On("Exchange", mock.Anything, "code", req.Verifier).Return(googleProfile(), nil)
	f.users.On("GetByProvider", mock.Anything, domain.ProviderGoogle, "g-1").Return(u, nil)
	f.sessions.On("Issue", mock.Anything, u).Return(nil, errors.New("dynamo down"))

	_, err := f.svc.Callback(context.Background(), req)
	assert.Equal(t, ReasonInternal, reason(t, err))
}

func TestUsernameBase(t *testing.T) {
	assert.Equal(t, "janedoe", usernameBase("jane.doe@example.com"))
	assert.Equal(t, "userjo", usernameBase("jo@example.com"))
	assert.Len(t, usernameBase("averyveryverylongaddresslocalpart@example.com"), usernameBaseMax)
}
