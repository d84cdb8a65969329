package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/headless-lms/internal/platform/envutil"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type PostgresConfig struct {
	Host           string `validate:"required"`
	Port           string `validate:"required,numeric"`
	User           string `validate:"required"`
	Password       string
	Name           string `validate:"required"`
	SSLMode        string `validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns   int    `validate:"min=1"`
	AcquireTimeout time.Duration
}

// PostgresConfigFromEnv reads POSTGRES_* variables. The default pool is 10
// connections with a 30 second acquisition timeout.
func PostgresConfigFromEnv() PostgresConfig {
	return PostgresConfig{
		Host:           envutil.String("POSTGRES_HOST", "localhost"),
		Port:           envutil.String("POSTGRES_PORT", "5432"),
		User:           envutil.String("POSTGRES_USER", "postgres"),
		Password:       envutil.String("POSTGRES_PASSWORD", ""),
		Name:           envutil.String("POSTGRES_NAME", "headless_lms"),
		SSLMode:        envutil.String("POSTGRES_SSLMODE", "disable"),
		MaxOpenConns:   envutil.Int("POSTGRES_MAX_OPEN_CONNS", 10),
		AcquireTimeout: envutil.Seconds("POSTGRES_ACQUIRE_TIMEOUT_SECONDS", 30*time.Second),
	}
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&connect_timeout=%d",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
		int(c.AcquireTimeout.Seconds()),
	)
}

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(logg *logger.Logger, cfg PostgresConfig) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach Postgres within %s: %w", cfg.AcquireTimeout, err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	serviceLog.Info("Postgres connected", "host", cfg.Host, "database", cfg.Name, "max_open_conns", cfg.MaxOpenConns)
	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
