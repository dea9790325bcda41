package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatauth/internal/domain"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

// ErrNoIDToken is returned when the token response lacks an id_token.
var ErrNoIDToken = errors.New("token response has no id_token")

// Client runs the authorization-code flow with PKCE against Google and
// reads the profile from the returned ID token.
type Client struct {
	cfg      *oauth2.Config
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

func NewClient(clientID, clientSecret, redirectURL string) *Client {
	return &Client{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     googleoauth.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		validate: idtoken.Validate,
	}
}

// AuthCodeURL returns the consent page URL carrying the S256 challenge of verifier.
func (c *Client) AuthCodeURL(state, verifier string) string {
	return c.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades code and verifier for tokens and returns the validated profile.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*domain.ExternalProfile, error) {
	tok, err := c.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil, ErrNoIDToken
	}
	p, err := c.validate(ctx, raw, c.cfg.ClientID)
	if err != nil {
		return nil, fmt.Errorf("invalid google id token: %w", err)
	}
	return profileFromClaims(p), nil
}

func profileFromClaims(p *idtoken.Payload) *domain.ExternalProfile {
	email, _ := p.Claims["email"].(string)
	emailVerified, _ := p.Claims["email_verified"].(bool)
	name, _ := p.Claims["name"].(string)
	picture, _ := p.Claims["picture"].(string)
	return &domain.ExternalProfile{
		Provider:      domain.ProviderGoogle,
		Subject:       p.Subject,
		Email:         email,
		EmailVerified: emailVerified,
		Name:          name,
		AvatarURL:     picture,
	}
}
