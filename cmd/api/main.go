package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatauth/internal/application/oauth"
	"github.com/chatauth/internal/application/otp"
	"github.com/chatauth/internal/config"
	"github.com/chatauth/internal/infrastructure/dynamo"
	"github.com/chatauth/internal/infrastructure/google"
	jwtinfra "github.com/chatauth/internal/infrastructure/jwt"
	"github.com/chatauth/internal/infrastructure/metrics"
	"github.com/chatauth/internal/infrastructure/redisstore"
	"github.com/chatauth/internal/infrastructure/smtp"
	"github.com/chatauth/internal/infrastructure/sns"
	transporthttp "github.com/chatauth/internal/transport/http"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg := config.Load()
	setupLogger(cfg)
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", err)
	}

	ctx := context.Background()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	redisClient := redisstore.NewClient(cfg)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "err", err)
	}

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		fatal("jwt provider", err)
	}

	dispatcher, err := newDispatcher(ctx, cfg)
	if err != nil {
		fatal("otp dispatcher", err)
	}

	var oauthProvider oauth.Provider
	if cfg.OAuthEnabled() {
		oauthProvider = google.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL)
	} else {
		slog.Warn("google oauth not configured, /oauth routes disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := &transporthttp.Deps{
		UserRepo:      dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users),
		Challenges:    redisstore.NewChallengeStore(redisClient, cfg.RedisPrefix),
		JWTProvider:   jwtProvider,
		Dispatcher:    dispatcher,
		OAuthProvider: oauthProvider,
		Metrics:       metrics.New(reg),
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	router := transporthttp.NewRouter(serveCtx, cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "otp_delivery", cfg.OTPDelivery)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fatal("forced shutdown", err)
	}
	slog.Info("server stopped")
}

// newDispatcher picks the OTP delivery channel named by OTP_DELIVERY.
func newDispatcher(ctx context.Context, cfg *config.Config) (otp.Dispatcher, error) {
	switch cfg.OTPDelivery {
	case "smtp":
		return smtp.NewMailer(cfg), nil
	case "sns":
		if cfg.SNSTopicARN == "" {
			return nil, errors.New("SNS_TOPIC_ARN is required when OTP_DELIVERY=sns")
		}
		awsCfg, err := dynamo.LoadAWSConfig(ctx, cfg, cfg.SNSRegion)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return sns.NewTopicDispatcher(awsCfg, cfg.SNSTopicARN, cfg.AWSEndpointURL), nil
	default:
		return nil, fmt.Errorf("unknown OTP_DELIVERY %q", cfg.OTPDelivery)
	}
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.IsProduction() {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
