package http

import (
	"context"
	"net/http"

	"github.com/chatauth/internal/application/auth"
	"github.com/chatauth/internal/application/oauth"
	"github.com/chatauth/internal/application/otp"
	"github.com/chatauth/internal/application/session"
	"github.com/chatauth/internal/config"
	"github.com/chatauth/internal/transport/http/cookie"
	"github.com/chatauth/internal/transport/http/handler"
	appmiddleware "github.com/chatauth/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10, applied to public endpoints that send
	// mail or check secrets.
	sensitiveRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(5), 10, cfg.TrustedProxies...)
	jar := cookie.Jar{Secure: cfg.IsProduction()}

	otpMetrics, sessionMetrics, oauthMetrics := optionalRecorders(deps)

	otpSvc := otp.NewService(otp.ServiceDeps{
		Store:      deps.Challenges,
		Dispatcher: deps.Dispatcher,
		Metrics:    otpMetrics,
	})
	sessionSvc := session.NewService(session.ServiceDeps{
		Users:   deps.UserRepo,
		Tokens:  deps.JWTProvider,
		Metrics: sessionMetrics,
	})
	authSvc := auth.NewService(auth.ServiceDeps{
		Users:            deps.UserRepo,
		OTP:              otpSvc,
		Sessions:         sessionSvc,
		Tokens:           deps.JWTProvider,
		Throttle:         deps.Challenges,
		MaxLoginFailures: cfg.LoginMaxFailures,
		LoginLockout:     cfg.LoginLockout,
	})

	healthH := handler.NewHealthHandler(map[string]handler.Pinger{
		"dynamodb": deps.UserRepo,
		"redis":    deps.Challenges,
	})
	authH := handler.NewAuthHandler(authSvc, sessionSvc, jar)
	sessionMw := appmiddleware.Session(sessionSvc, jar)

	// Public routes
	r.Get("/health-check/{action}", healthH.Ping)
	r.With(sensitiveRL.Limit).Post("/otp/request", authH.RequestOTP)
	r.With(sensitiveRL.Limit).Post("/otp/verify", authH.VerifyOTP)
	r.With(sensitiveRL.Limit).Post("/signup", authH.Signup)
	r.With(sensitiveRL.Limit).Post("/login", authH.Login)
	r.With(sensitiveRL.Limit).Post("/password/reset", authH.ResetPassword)
	r.Post("/logout", authH.Logout)

	if deps.OAuthProvider != nil {
		oauthSvc := oauth.NewService(oauth.ServiceDeps{
			Provider: deps.OAuthProvider,
			Users:    deps.UserRepo,
			Sessions: sessionSvc,
			Metrics:  oauthMetrics,
		})
		oauthH := handler.NewOAuthHandler(oauthSvc, jar, cfg.OAuthSuccessRedirect, cfg.OAuthFailureRedirect)
		r.Get("/oauth/start", oauthH.Start)
		r.Get("/oauth/callback", oauthH.Callback)
	}

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// Session routes
	r.Group(func(r chi.Router) {
		r.Use(sessionMw)
		r.Get("/session/verify", handler.Me)
		r.Get("/me", handler.Me)
	})

	return r
}

type otpRecorder interface {
	OTPRequested(result string)
	OTPVerified(result string)
}

type sessionRecorder interface {
	SessionVerified(outcome string)
}

type oauthRecorder interface {
	OAuthCallback(outcome string)
}

// optionalRecorders returns nil interfaces when metrics are off so each
// service falls back to its no-op recorder.
func optionalRecorders(deps *Deps) (otpRecorder, sessionRecorder, oauthRecorder) {
	if deps.Metrics == nil {
		return nil, nil, nil
	}
	return deps.Metrics, deps.Metrics, deps.Metrics
}
