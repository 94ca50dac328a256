package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL        string `env:"DATABASE_URL,required"`
	JWTSecret          string `env:"JWT_SECRET,required"`
	EventSigningSecret string `env:"EVENT_SIGNING_SECRET,required"`
	Port               int    `env:"PORT" envDefault:"8080"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv             string `env:"APP_ENV" envDefault:"production"`

	RetryMaxAttempts    int `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseBackoffMs  int `env:"RETRY_BASE_BACKOFF_MS" envDefault:"1000"`
	RetryMultiplier     int `env:"RETRY_MULTIPLIER" envDefault:"2"`
	RetryMaxBackoffMs   int `env:"RETRY_MAX_BACKOFF_MS" envDefault:"300000"`
	DeliveryTimeoutS    int `env:"DELIVERY_TIMEOUT_S" envDefault:"5"`
	DispatchConcurrency int `env:"DISPATCH_CONCURRENCY" envDefault:"64"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutS) * time.Second
}

func (c *Config) BaseBackoff() time.Duration {
	return time.Duration(c.RetryBaseBackoffMs) * time.Millisecond
}

func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.RetryMaxBackoffMs) * time.Millisecond
}
