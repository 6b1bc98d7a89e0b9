// config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"mongo"`
	MongoURI    string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDBName string `envconfig:"MONGO_DB_NAME" default:"restaurant"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	MySQLDSN    string `envconfig:"MYSQL_DSN"`

	AuthURL   string `envconfig:"AUTH_URL" default:"http://localhost:3000"`
	RabbitURL string `envconfig:"RABBIT_URL"`

	BusinessTimezone     string        `envconfig:"BUSINESS_TIMEZONE" default:"UTC"`
	OrderMaxAttempts     int           `envconfig:"ORDER_MAX_ATTEMPTS" default:"3"`
	OrderRetryBackoff    time.Duration `envconfig:"ORDER_RETRY_BACKOFF" default:"50ms"`
	CounterAttempts      int           `envconfig:"COUNTER_ATTEMPTS" default:"2"`
	CounterRetention     time.Duration `envconfig:"COUNTER_RETENTION" default:"2160h"`
	OrderTimeout         time.Duration `envconfig:"ORDER_TIMEOUT" default:"5s"`
	CounterSweepInterval time.Duration `envconfig:"COUNTER_SWEEP_INTERVAL" default:"1h"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location resolves BUSINESS_TIMEZONE. Day boundaries of the order counter follow it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}
	return loc, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "mongo", "memory":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	case "mysql":
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required when STORE_DRIVER=mysql")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.OrderMaxAttempts < 1 {
		return fmt.Errorf("ORDER_MAX_ATTEMPTS must be at least 1")
	}
	if c.CounterAttempts < 1 {
		return fmt.Errorf("COUNTER_ATTEMPTS must be at least 1")
	}
	if c.CounterSweepInterval <= 0 {
		return fmt.Errorf("COUNTER_SWEEP_INTERVAL must be positive, got %s", c.CounterSweepInterval)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
