package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	_ "github.com/redmonkez12/go-keystore-auth/docs" // Swagger docs (generated)
	"github.com/redmonkez12/go-keystore-auth/internal/auth"
	"github.com/redmonkez12/go-keystore-auth/internal/config"
	"github.com/redmonkez12/go-keystore-auth/internal/database"
	"github.com/redmonkez12/go-keystore-auth/internal/email"
	httpServer "github.com/redmonkez12/go-keystore-auth/internal/http"
	"github.com/redmonkez12/go-keystore-auth/internal/keystore"
	"github.com/redmonkez12/go-keystore-auth/internal/logging"
	"github.com/redmonkez12/go-keystore-auth/internal/password"
	"github.com/redmonkez12/go-keystore-auth/internal/ratelimit"
	"github.com/redmonkez12/go-keystore-auth/internal/token"
	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

// @title           Keystore Auth API
// @version         1.0
// @description     Session-scoped authentication: every login gets its own keystore entry whose secrets sign that session's tokens.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.

// retryAfter is the Retry-After hint sent with 503 responses.
const retryAfter = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"token_format", cfg.Auth.TokenFormat.Label(),
		"keystore", cfg.Auth.KeystoreBackend.Label(),
		"password_hash", cfg.Auth.PasswordAlgorithm.Label(),
	)

	ctx := context.Background()

	db, err := database.OpenPostgres(ctx, cfg.Database.ConnectionString(), database.PoolOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if cfg.Auth.MigrateOnStart {
		applied, err := database.Migrate(ctx, db.DB, goose.DialectPostgres)
		if err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("migrations applied", "count", len(applied))
	}

	redisClient, err := initRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	ks := keystore.New(
		newKeystoreRepository(cfg.Auth, db, redisClient),
		keystore.WithSecretBytes(cfg.Auth.SecretBytes),
		keystore.WithLifetime(cfg.Auth.RefreshTokenTTL),
	)

	codec, err := token.NewCodec(token.Format(cfg.Auth.TokenFormat))
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}
	issuer := token.NewIssuer(codec, token.IssuerConfig{
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
	})
	verifier := token.NewVerifier(codec, ks, nil)

	hasher, err := password.New(password.Algorithm(cfg.Auth.PasswordAlgorithm), cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	emailService, err := email.NewService(newMailer(cfg.Email, logger), cfg.Email.FrontendURL, cfg.Email.AppName)
	if err != nil {
		return fmt.Errorf("failed to initialize email service: %w", err)
	}

	authService := auth.NewService(auth.Deps{
		Users:       user.NewRepository(db),
		Sessions:    ks,
		Issuer:      issuer,
		Verifier:    verifier,
		Hasher:      hasher,
		Resets:      auth.NewPasswordResetRepository(redisClient),
		Email:       emailService,
		Logger:      logger,
		DefaultRole: cfg.Auth.DefaultRole,
	})

	rateLimiter := ratelimit.NewLimiter(redisClient,
		ratelimit.WithLimit(cfg.RateLimit.Limit, cfg.RateLimit.Window),
		ratelimit.WithEmailCooldown(cfg.RateLimit.EmailCooldown),
	)

	handlerCfg := auth.HandlerConfig{
		CookiesEnabled: cfg.Auth.CookiesEnabled,
		SecureCookies:  !cfg.Server.IsDevelopment(),
		RetryAfter:     retryAfter,
	}
	authHandler := auth.NewHandler(authService, rateLimiter, handlerCfg)
	authMiddleware := auth.NewMiddleware(authService, handlerCfg)

	health := httpServer.NewHealthHandler(map[string]httpServer.HealthCheck{
		"database": db.PingContext,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})

	router := httpServer.NewRouter(httpServer.RouterConfig{
		Development:    cfg.Server.IsDevelopment(),
		TrustedOrigins: cfg.Server.TrustedOrigins,
	}, authHandler, authMiddleware, health, logger)

	server := httpServer.NewServer(
		":"+cfg.Server.Port,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("received signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// let queued emails finish before the stores close
		authService.Wait()
	}

	return nil
}

func newKeystoreRepository(cfg config.AuthConfig, db *bun.DB, client *redis.Client) keystore.Repository {
	if cfg.KeystoreBackend == config.KeystoreBackendRedis {
		return keystore.NewRedisRepository(client, cfg.RefreshTokenTTL)
	}
	return keystore.NewBunRepository(db)
}

// newMailer falls back to logging emails when SMTP is not configured
func newMailer(cfg config.EmailConfig, logger *logging.Logger) email.Mailer {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, emails will only be logged")
		return email.NewLogMailer(logger)
	}
	return email.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.From)
}

// initRedis initializes the Redis connection and returns a Redis client
func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}
