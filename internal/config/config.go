package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL          string `env:"RABBITMQ_URL,required=true"`
	RedisURL             string `env:"REDIS_URL,required=true"`
	AuthorityAPIURL      string `env:"AUTHORITY_API_URL,required=true"`
	AuthorityAPIKey      string `env:"AUTHORITY_API_KEY"`
	EncryptionKey        string `env:"ENCRYPTION_KEY,required=true"`
	SigningKeyDir        string `env:"SIGNING_KEY_DIR"`
	WebhookSecret        string `env:"WEBHOOK_SECRET"`
	AlertWebhookURL      string `env:"ALERT_WEBHOOK_URL"`
	RateLimitPerSec      int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency    int    `env:"WORKER_CONCURRENCY,default=16"`
	ConsumerPrefetch     int    `env:"CONSUMER_PREFETCH,default=32"`
	RetryScanIntervalSec int    `env:"RETRY_SCAN_INTERVAL_SEC,default=5"`
	APIPort              int    `env:"API_PORT,default=8080"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
