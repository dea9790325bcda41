package http

import (
	"context"

	"github.com/chatauth/internal/application/oauth"
	"github.com/chatauth/internal/application/otp"
	"github.com/chatauth/internal/domain"
	jwtinfra "github.com/chatauth/internal/infrastructure/jwt"
	"github.com/chatauth/internal/infrastructure/metrics"
	"github.com/chatauth/internal/infrastructure/redisstore"
)

// UserRepository is the Credential Store surface the router wires into the
// application services.
type UserRepository interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByProvider(ctx context.Context, provider, providerID string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdatePassword(ctx context.Context, userID, hash string) error
	LinkProvider(ctx context.Context, userID, provider, providerID, avatarURL string) error
	SetRefreshToken(ctx context.Context, userID, token string) error
	RotateRefreshToken(ctx context.Context, userID, expected, next string) error
	ClearRefreshToken(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
}

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	UserRepo    UserRepository
	Challenges  *redisstore.ChallengeStore
	JWTProvider *jwtinfra.Provider
	Dispatcher  otp.Dispatcher
	// OAuthProvider is nil when the OAuth bridge is not configured.
	OAuthProvider oauth.Provider
	// Metrics is optional; /metrics is only mounted when set.
	Metrics *metrics.Metrics
}
