package app

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/yungbote/headless-lms/internal/data/db"
	"github.com/yungbote/headless-lms/internal/platform/envutil"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/redis"
	"github.com/yungbote/headless-lms/internal/platform/sendgrid"
	"github.com/yungbote/headless-lms/internal/services/email"
	"github.com/yungbote/headless-lms/internal/services/exerciseservice"
	"github.com/yungbote/headless-lms/internal/services/oauth"
	"github.com/yungbote/headless-lms/internal/services/regrading"
	"github.com/yungbote/headless-lms/internal/services/visits"
)

type ServerConfig struct {
	Port            string        `validate:"required,numeric"`
	CORSOrigins     []string      `validate:"dive,url"`
	SecureCookies   bool
	ShutdownTimeout time.Duration `validate:"gt=0"`
	RateLimitBurst  int           `validate:"min=1"`
	RateLimitWindow time.Duration `validate:"gt=0"`
}

type OAuthConfig struct {
	Issuer          string `validate:"required,url"`
	Peppers         string `validate:"required"`
	ActivePepperID  int    `validate:"min=1"`
	RSAPrivateKey   string
	RSAKeyFile      string
	AccessTokenTTL  time.Duration `validate:"gt=0"`
	RefreshTokenTTL time.Duration `validate:"gt=0"`
	AuthCodeTTL     time.Duration `validate:"gt=0,max=10m"`
	DPoPFutureSkew  time.Duration
	DPoPPastSkew    time.Duration
	LoginURL        string `validate:"required,url"`
	ConsentURL      string `validate:"required,url"`
}

type AccountConfig struct {
	SessionSecret string `validate:"required,min=32"`
	SessionTTL    time.Duration
	VerifyURL     string `validate:"required,url"`
}

type WorkerConfig struct {
	GradingInterval   time.Duration
	GradingBatchSize  int
	GradingParallel   int
	RegradingInterval time.Duration
	RollupInterval    time.Duration
	PruneInterval     time.Duration
	PollInterval      time.Duration
	EmailInterval     time.Duration
	EmailSenders      int
}

type Config struct {
	LogMode     string
	Environment string
	Server      ServerConfig
	Postgres    db.PostgresConfig
	Redis       redis.Config
	OAuth       OAuthConfig
	Account     AccountConfig
	Workers     WorkerConfig
	SendGrid    sendgrid.Config
	// EmailEnabled turns the outbox on; without it deliveries stay queued.
	EmailEnabled bool
	// BlobEnabled turns certificate rendering on.
	BlobEnabled bool
	GeoIPPath   string
	ClientCfg   exerciseservice.ClientConfig
}

// LoadEnv loads a .env file when one exists. A missing file is not an error.
func LoadEnv(log *logger.Logger) {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded", "error", err)
		return
	}
	log.Info("Loaded .env file")
}

func LoadConfig(log *logger.Logger) (Config, error) {
	log.Info("Loading configuration...")
	cfg := Config{
		LogMode:     envutil.String("LOG_MODE", "development"),
		Environment: envutil.String("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:            envutil.String("PORT", "8080"),
			CORSOrigins:     envutil.List("CORS_ALLOWED_ORIGINS"),
			SecureCookies:   envutil.Bool("SECURE_COOKIES", true),
			ShutdownTimeout: envutil.Seconds("SHUTDOWN_TIMEOUT_SECONDS", 20*time.Second),
			RateLimitBurst:  envutil.Int("RATE_LIMIT_BURST", 20),
			RateLimitWindow: envutil.Seconds("RATE_LIMIT_WINDOW_SECONDS", time.Minute),
		},
		Postgres: db.PostgresConfigFromEnv(),
		Redis:    redis.ConfigFromEnv(),
		OAuth: OAuthConfig{
			Issuer:          envutil.String("OAUTH_ISSUER", "http://localhost:8080/oauth"),
			Peppers:         envutil.String("OAUTH_PEPPERS", ""),
			ActivePepperID:  envutil.Int("OAUTH_ACTIVE_PEPPER_ID", 1),
			RSAPrivateKey:   envutil.String("OAUTH_RSA_PRIVATE_KEY_PEM", ""),
			RSAKeyFile:      envutil.String("OAUTH_RSA_PRIVATE_KEY_PEM_FILE", ""),
			AccessTokenTTL:  envutil.Seconds("OAUTH_ACCESS_TOKEN_TTL_SECONDS", time.Hour),
			RefreshTokenTTL: envutil.Seconds("OAUTH_REFRESH_TOKEN_TTL_SECONDS", 30*24*time.Hour),
			AuthCodeTTL:     envutil.Seconds("OAUTH_AUTH_CODE_TTL_SECONDS", 10*time.Minute),
			DPoPFutureSkew:  envutil.Seconds("OAUTH_DPOP_FUTURE_SKEW_SECONDS", 5*time.Second),
			DPoPPastSkew:    envutil.Seconds("OAUTH_DPOP_PAST_SKEW_SECONDS", 5*time.Minute),
			LoginURL:        envutil.String("OAUTH_LOGIN_URL", "http://localhost:3000/login"),
			ConsentURL:      envutil.String("OAUTH_CONSENT_URL", "http://localhost:3000/oauth/consent"),
		},
		Account: AccountConfig{
			SessionSecret: envutil.String("SESSION_SECRET", ""),
			SessionTTL:    envutil.Seconds("SESSION_TTL_SECONDS", 24*time.Hour),
			VerifyURL:     envutil.String("EMAIL_VERIFY_URL", "http://localhost:3000/verify-email"),
		},
		Workers: WorkerConfig{
			GradingInterval:   envutil.Seconds("WORKER_GRADING_INTERVAL_SECONDS", 5*time.Second),
			GradingBatchSize:  envutil.Int("WORKER_GRADING_BATCH_SIZE", 20),
			GradingParallel:   envutil.Int("WORKER_GRADING_CONCURRENCY", 10),
			RegradingInterval: envutil.Seconds("WORKER_REGRADING_INTERVAL_SECONDS", regrading.DefaultInterval),
			RollupInterval:    envutil.Seconds("WORKER_ROLLUP_INTERVAL_SECONDS", visits.DefaultRollupInterval),
			PruneInterval:     envutil.Seconds("WORKER_OAUTH_PRUNE_INTERVAL_SECONDS", oauth.DefaultPruneInterval),
			PollInterval:      envutil.Seconds("WORKER_SERVICE_INFO_INTERVAL_SECONDS", exerciseservice.DefaultPollInterval),
			EmailInterval:     envutil.Seconds("WORKER_EMAIL_INTERVAL_SECONDS", email.DefaultInterval),
			EmailSenders:      envutil.Int("WORKER_EMAIL_SENDERS", email.DefaultSenders),
		},
		SendGrid:     sendgrid.ConfigFromEnv(),
		EmailEnabled: envutil.Bool("EMAIL_ENABLED", false),
		BlobEnabled:  envutil.Bool("BLOB_ENABLED", false),
		GeoIPPath:    envutil.String("GEOIP_DB_PATH", ""),
		ClientCfg: exerciseservice.ClientConfig{
			Timeout:          envutil.Seconds("EXERCISE_SERVICE_TIMEOUT_SECONDS", exerciseservice.DefaultTimeout),
			BreakerFailRatio: envutil.Float("EXERCISE_SERVICE_BREAKER_FAIL_RATIO", 0.6),
			BreakerOpenFor:   envutil.Seconds("EXERCISE_SERVICE_BREAKER_OPEN_SECONDS", 30*time.Second),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c.Server); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := v.Struct(c.Postgres); err != nil {
		return fmt.Errorf("invalid postgres config: %w", err)
	}
	if err := v.Struct(c.OAuth); err != nil {
		return fmt.Errorf("invalid oauth config: %w", err)
	}
	if err := v.Struct(c.Account); err != nil {
		return fmt.Errorf("invalid account config: %w", err)
	}
	if c.EmailEnabled && c.SendGrid.APIKey == "" {
		return fmt.Errorf("EMAIL_ENABLED requires SENDGRID_API_KEY")
	}
	return nil
}
