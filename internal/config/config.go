package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Email     EmailConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port            string        `env:"SERVER_PORT" envDefault:"8080"`
	Env             string        `env:"APP_ENV" envDefault:"dev"` // dev or prod
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	// CORS allowed origins for cookie auth
	TrustedOrigins []string `env:"TRUSTED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

type DatabaseConfig struct {
	Host           string `env:"DB_HOST" envDefault:"localhost"`
	Port           string `env:"DB_PORT" envDefault:"5432"`
	User           string `env:"DB_USER" envDefault:"postgres"`
	Password       string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName         string `env:"DB_NAME" envDefault:"keystore_auth"`
	SSLMode        string `env:"DB_SSLMODE" envDefault:"disable"`
	ChannelBinding string `env:"DB_CHANNEL_BINDING"` // "require" for Neon DB, empty for local
	MaxOpenConns   int    `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns   int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     string `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type AuthConfig struct {
	TokenFormat       TokenFormat       `env:"TOKEN_FORMAT" envDefault:"jwt"`
	KeystoreBackend   KeystoreBackend   `env:"KEYSTORE_BACKEND" envDefault:"postgres"`
	PasswordAlgorithm PasswordAlgorithm `env:"PASSWORD_ALGORITHM" envDefault:"bcrypt"`
	BcryptCost        int               `env:"BCRYPT_COST" envDefault:"10"`
	// SecretBytes is the number of random bytes behind each keystore secret.
	SecretBytes     int           `env:"KEYSTORE_SECRET_BYTES" envDefault:"64"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	DefaultRole     string        `env:"DEFAULT_ROLE" envDefault:"LEARNER"`
	CookiesEnabled  bool          `env:"AUTH_COOKIES" envDefault:"true"`
	MigrateOnStart  bool          `env:"MIGRATE_ON_START" envDefault:"false"`
}

type EmailConfig struct {
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     string `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASS"`
	From         string `env:"SMTP_FROM"`
	AppName      string `env:"APP_NAME" envDefault:"Keystore Auth"`
	FrontendURL  string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"` // Frontend URL for verification links
}

type RateLimitConfig struct {
	Limit         int           `env:"RATE_LIMIT_REQUESTS" envDefault:"10"`
	Window        time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	EmailCooldown time.Duration `env:"RATE_LIMIT_EMAIL_COOLDOWN" envDefault:"2m"`
}

// TokenFormat selects the token codec.
type TokenFormat string

const (
	TokenFormatJWT    TokenFormat = "jwt"
	TokenFormatPaseto TokenFormat = "paseto"
)

func (f TokenFormat) Label() string {
	switch f {
	case TokenFormatJWT:
		return "JWT (HS256)"
	case TokenFormatPaseto:
		return "PASETO (v4.local)"
	default:
		return string(f)
	}
}

// KeystoreBackend selects where keystore entries live.
type KeystoreBackend string

const (
	KeystoreBackendPostgres KeystoreBackend = "postgres"
	KeystoreBackendRedis    KeystoreBackend = "redis"
)

func (b KeystoreBackend) Label() string {
	switch b {
	case KeystoreBackendPostgres:
		return "PostgreSQL"
	case KeystoreBackendRedis:
		return "Redis"
	default:
		return string(b)
	}
}

// PasswordAlgorithm selects the hash used for new passwords.
type PasswordAlgorithm string

const (
	PasswordAlgorithmBcrypt   PasswordAlgorithm = "bcrypt"
	PasswordAlgorithmArgon2id PasswordAlgorithm = "argon2id"
)

func (a PasswordAlgorithm) Label() string {
	switch a {
	case PasswordAlgorithmBcrypt:
		return "bcrypt"
	case PasswordAlgorithmArgon2id:
		return "Argon2id"
	default:
		return string(a)
	}
}

// Load reads configuration from environment variables, after loading a .env
// file if one exists
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects unknown enum values and inconsistent lifetimes.
func (c *Config) Validate() error {
	var errs []error

	switch c.Auth.TokenFormat {
	case TokenFormatJWT, TokenFormatPaseto:
	default:
		errs = append(errs, fmt.Errorf("TOKEN_FORMAT must be jwt or paseto, got %q", c.Auth.TokenFormat))
	}

	switch c.Auth.KeystoreBackend {
	case KeystoreBackendPostgres, KeystoreBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("KEYSTORE_BACKEND must be postgres or redis, got %q", c.Auth.KeystoreBackend))
	}

	switch c.Auth.PasswordAlgorithm {
	case PasswordAlgorithmBcrypt, PasswordAlgorithmArgon2id:
	default:
		errs = append(errs, fmt.Errorf("PASSWORD_ALGORITHM must be bcrypt or argon2id, got %q", c.Auth.PasswordAlgorithm))
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	} else if c.Auth.AccessTokenTTL >= c.Auth.RefreshTokenTTL {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL"))
	}

	if c.Auth.SecretBytes < 32 {
		errs = append(errs, fmt.Errorf("KEYSTORE_SECRET_BYTES must be at least 32, got %d", c.Auth.SecretBytes))
	}

	if c.Auth.DefaultRole == "" {
		errs = append(errs, errors.New("DEFAULT_ROLE must not be empty"))
	}

	return errors.Join(errs...)
}

func (c *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)

	// Add channel_binding if configured (required for Neon DB)
	if c.ChannelBinding != "" {
		connStr += fmt.Sprintf(" channel_binding=%s", c.ChannelBinding)
	}

	return connStr
}

// Address returns Redis connection address (host:port)
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if the environment is set to dev
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}
