package jwtinfra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatauth/internal/config"
	"github.com/chatauth/internal/domain"
	"github.com/chatauth/internal/pkg/id"
	"github.com/golang-jwt/jwt/v5"
)

// Canonical lifetimes. Cookie max-ages are derived from these.
const (
	AccessTokenTTL       = 15 * time.Minute
	RefreshTokenTTL      = 7 * 24 * time.Hour
	VerificationTokenTTL = 15 * time.Minute
)

const minKeyLen = 32

// ErrInvalidToken is returned for any token that fails signature, expiry,
// kind or payload checks.
var ErrInvalidToken = errors.New("invalid token")

// Kind binds a token to the key it was signed with.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindVerify  Kind = "verify"
)

// SessionClaims is the payload of access and refresh tokens.
type SessionClaims struct {
	domain.Identity
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// Validate is called by the parser after the registered claims pass.
func (c SessionClaims) Validate() error {
	if c.SubjectID == "" || c.Email == "" || c.Username == "" {
		return errors.New("session payload incomplete")
	}
	return nil
}

// VerificationClaims is the payload of verification tokens.
type VerificationClaims struct {
	domain.Verification
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

func (c VerificationClaims) Validate() error {
	if c.Email == "" {
		return errors.New("verification payload missing email")
	}
	if !domain.ValidPurpose(c.Purpose) {
		return fmt.Errorf("unknown verification purpose %q", c.Purpose)
	}
	return nil
}

// Provider mints and verifies HS256 JWTs with one independent key per kind.
type Provider struct {
	keys   map[Kind][]byte
	issuer string
	now    func() time.Time
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	return New([]byte(cfg.JWTAccessSecret), []byte(cfg.JWTRefreshSecret), []byte(cfg.JWTVerifySecret), cfg.JWTIssuer)
}

// New builds a Provider from raw keys. Keys must be distinct and at least
// 32 bytes long.
func New(accessKey, refreshKey, verifyKey []byte, issuer string) (*Provider, error) {
	keys := map[Kind][]byte{
		KindAccess:  accessKey,
		KindRefresh: refreshKey,
		KindVerify:  verifyKey,
	}
	for k, v := range keys {
		if len(v) < minKeyLen {
			return nil, fmt.Errorf("%s signing key must be at least %d bytes", k, minKeyLen)
		}
	}
	if string(accessKey) == string(refreshKey) || string(accessKey) == string(verifyKey) || string(refreshKey) == string(verifyKey) {
		return nil, errors.New("signing keys must be distinct per token kind")
	}
	return &Provider{keys: keys, issuer: issuer, now: time.Now}, nil
}

// WithClock replaces the time source used for minting and verification.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// TTL returns the canonical lifetime of the given kind.
func TTL(kind Kind) time.Duration {
	switch kind {
	case KindRefresh:
		return RefreshTokenTTL
	case KindVerify:
		return VerificationTokenTTL
	default:
		return AccessTokenTTL
	}
}

func (p *Provider) MintAccessToken(ident domain.Identity) (string, error) {
	return p.mintSession(KindAccess, ident)
}

func (p *Provider) MintRefreshToken(ident domain.Identity) (string, error) {
	return p.mintSession(KindRefresh, ident)
}

func (p *Provider) MintVerificationToken(v domain.Verification) (string, error) {
	claims := VerificationClaims{
		Verification:     v,
		Kind:             KindVerify,
		RegisteredClaims: p.registered(KindVerify, strings.ToLower(v.Email)),
	}
	return p.sign(KindVerify, claims)
}

func (p *Provider) VerifyAccessToken(tokenStr string) (domain.Identity, error) {
	return p.verifySession(KindAccess, tokenStr)
}

func (p *Provider) VerifyRefreshToken(tokenStr string) (domain.Identity, error) {
	return p.verifySession(KindRefresh, tokenStr)
}

func (p *Provider) VerifyVerificationToken(tokenStr string) (domain.Verification, error) {
	var claims VerificationClaims
	if err := p.parse(KindVerify, tokenStr, &claims); err != nil {
		return domain.Verification{}, err
	}
	if claims.Kind != KindVerify {
		return domain.Verification{}, fmt.Errorf("%w: wrong token kind %q", ErrInvalidToken, claims.Kind)
	}
	return claims.Verification, nil
}

func (p *Provider) mintSession(kind Kind, ident domain.Identity) (string, error) {
	claims := SessionClaims{
		Identity:         ident,
		Kind:             kind,
		RegisteredClaims: p.registered(kind, ident.SubjectID),
	}
	return p.sign(kind, claims)
}

func (p *Provider) verifySession(kind Kind, tokenStr string) (domain.Identity, error) {
	var claims SessionClaims
	if err := p.parse(kind, tokenStr, &claims); err != nil {
		return domain.Identity{}, err
	}
	if claims.Kind != kind {
		return domain.Identity{}, fmt.Errorf("%w: wrong token kind %q", ErrInvalidToken, claims.Kind)
	}
	return claims.Identity, nil
}

func (p *Provider) registered(kind Kind, subject string) jwt.RegisteredClaims {
	now := p.now()
	return jwt.RegisteredClaims{
		ID:        id.New(),
		Issuer:    p.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TTL(kind))),
	}
}

func (p *Provider) sign(kind Kind, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.keys[kind])
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (p *Provider) parse(kind Kind, tokenStr string, claims jwt.Claims) error {
	if tokenStr == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.keys[kind], nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}
	return nil
}
