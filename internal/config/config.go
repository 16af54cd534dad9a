package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ApprovalManual = "manual"
	ApprovalAuto   = "auto"

	CoverageExact = "exact"
	CoverageOver  = "over"
)

type Config struct {
	DBDriver string `env:"DB_DRIVER" envDefault:"postgres"`
	DBSource string `env:"DB_SOURCE,required"`
	Port     string `env:"SERVER_PORT" envDefault:"8080"`
	Env      string `env:"ENVIRONMENT" envDefault:"development"`

	JWTSecret string        `env:"JWT_SECRET,required"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	CommissionRate     decimal.Decimal `env:"COMMISSION_RATE" envDefault:"0.10"`
	ApprovalMode       string          `env:"COMMISSION_APPROVAL_MODE" envDefault:"manual"`
	WithdrawalMinimum  int64           `env:"WITHDRAWAL_MINIMUM" envDefault:"50000"`
	WithdrawalCoverage string          `env:"WITHDRAWAL_COVERAGE" envDefault:"exact"`
	ConflictRetries    uint            `env:"CONFLICT_RETRIES" envDefault:"3"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	OverviewTTL   time.Duration `env:"OVERVIEW_CACHE_TTL" envDefault:"5s"`
	RateLimit     int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"0"`
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DBDriver))
	}
	switch c.ApprovalMode {
	case ApprovalManual, ApprovalAuto:
	default:
		errs = append(errs, fmt.Errorf("COMMISSION_APPROVAL_MODE must be %q or %q, got %q", ApprovalManual, ApprovalAuto, c.ApprovalMode))
	}
	switch c.WithdrawalCoverage {
	case CoverageExact, CoverageOver:
	default:
		errs = append(errs, fmt.Errorf("WITHDRAWAL_COVERAGE must be %q or %q, got %q", CoverageExact, CoverageOver, c.WithdrawalCoverage))
	}
	if !c.CommissionRate.IsPositive() || c.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("COMMISSION_RATE must be in (0, 1], got %s", c.CommissionRate))
	}
	if c.WithdrawalMinimum <= 0 {
		errs = append(errs, errors.New("WITHDRAWAL_MINIMUM must be positive"))
	}
	if c.OverviewTTL < 0 {
		errs = append(errs, errors.New("OVERVIEW_CACHE_TTL must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
