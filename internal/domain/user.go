package domain

import "time"

// Auth providers recorded on a user row.
const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

// User is one Credential Store row. RefreshToken mirrors the only refresh
// token currently valid for the subject; it is written exclusively by the
// session service.
type User struct {
	UserID       string    `json:"id" dynamodbav:"user_id"`
	Email        string    `json:"email" dynamodbav:"email"`
	Username     string    `json:"username" dynamodbav:"username"`
	FullName     string    `json:"full_name" dynamodbav:"full_name"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash,omitempty"`
	IsAdmin      bool      `json:"is_admin" dynamodbav:"is_admin"`
	AuthProvider string    `json:"auth_provider,omitempty" dynamodbav:"auth_provider"`
	ProviderID   string    `json:"-" dynamodbav:"provider_id,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty" dynamodbav:"avatar_url,omitempty"`
	RefreshToken *string   `json:"-" dynamodbav:"refresh_token,omitempty"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated" dynamodbav:"updated_at"`
}

// Identity returns the session token payload for the user.
func (u *User) Identity() Identity {
	return Identity{
		SubjectID: u.UserID,
		Email:     u.Email,
		Username:  u.Username,
		IsAdmin:   u.IsAdmin,
	}
}

// PublicUser is the client-facing projection of a User.
type PublicUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	IsAdmin   bool      `json:"is_admin"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created"`
}

func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		ID:        u.UserID,
		Email:     u.Email,
		Username:  u.Username,
		FullName:  u.FullName,
		IsAdmin:   u.IsAdmin,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
	}
}

type SignupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=30,alphanum"`
	FullName string `json:"fullName" validate:"required,max=100"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// ExternalProfile is the identity asserted by an OAuth provider after a
// successful code exchange.
type ExternalProfile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}
