package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTVerifySecret  string
	JWTIssuer        string

	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	OTPDelivery string // "smtp" | "sns"
	SNSRegion   string
	SNSTopicARN string

	GoogleClientID       string
	GoogleClientSecret   string
	OAuthRedirectURL     string
	OAuthSuccessRedirect string
	OAuthFailureRedirect string

	AllowedOrigins []string // CORS allowed origins; credentials are always allowed
	TrustedProxies []string // CIDRs or addresses whose X-Forwarded-For is honoured

	LoginMaxFailures int
	LoginLockout     time.Duration
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users: getEnv("DYNAMO_TABLE_USERS", "users"),
		},
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisPrefix:          getEnv("REDIS_PREFIX", "chatauth"),
		JWTAccessSecret:      getEnv("JWT_ACCESS_SECRET", ""),
		JWTRefreshSecret:     getEnv("JWT_REFRESH_SECRET", ""),
		JWTVerifySecret:      getEnv("JWT_VERIFY_SECRET", ""),
		JWTIssuer:            getEnv("JWT_ISSUER", "chatauth"),
		SMTPHost:             getEnv("SMTP_HOST", "localhost"),
		SMTPPort:             getEnvInt("SMTP_PORT", 1025),
		SMTPFrom:             getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		OTPDelivery:          strings.ToLower(getEnv("OTP_DELIVERY", "smtp")),
		SNSRegion:            getEnv("SNS_REGION", "us-east-1"),
		SNSTopicARN:          getEnv("SNS_TOPIC_ARN", ""),
		GoogleClientID:       getEnv("OAUTH_GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:   getEnv("OAUTH_GOOGLE_CLIENT_SECRET", ""),
		OAuthRedirectURL:     getEnv("OAUTH_REDIRECT_URL", "http://localhost:3000/oauth/callback"),
		OAuthSuccessRedirect: getEnv("OAUTH_SUCCESS_REDIRECT", "/profile"),
		OAuthFailureRedirect: getEnv("OAUTH_FAILURE_REDIRECT", "/login"),
		AllowedOrigins:       splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		TrustedProxies:       splitList(getEnv("TRUSTED_PROXIES", "")),
		LoginMaxFailures:     getEnvInt("LOGIN_MAX_FAILURES", 5),
		LoginLockout:         getEnvDuration("LOGIN_LOCKOUT", 15*time.Minute),
	}
}

// Validate rejects settings the server cannot run with safely.
func (c *Config) Validate() error {
	if len(c.AllowedOrigins) == 0 {
		return errors.New("ALLOWED_ORIGINS must list at least one origin")
	}
	for _, o := range c.AllowedOrigins {
		if strings.Contains(o, "*") {
			return fmt.Errorf("ALLOWED_ORIGINS: wildcard %q cannot be combined with credentialed requests", o)
		}
	}
	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: %q is not an address or CIDR", p)
		}
	}
	if c.LoginMaxFailures < 1 {
		return errors.New("LOGIN_MAX_FAILURES must be at least 1")
	}
	if c.LoginLockout <= 0 {
		return errors.New("LOGIN_LOCKOUT must be positive")
	}
	return nil
}

// IsProduction reports whether cookies must be marked Secure.
func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

// OAuthEnabled reports whether the Google OAuth bridge is configured.
func (c *Config) OAuthEnabled() bool { return c.GoogleClientID != "" && c.GoogleClientSecret != "" }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
