package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Env      string `env:"APP_ENV" envDefault:"dev"`
	LogLevel string `env:"LOG_LEVEL" envDefault:""`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":3000"`

	// CORS allowlist; "*" lets browser extensions from any origin connect
	CORSAllow []string `env:"CORS_ALLOW" envDefault:"*" envSeparator:","`

	// upgrade requests per IP per minute, 0 disables
	RateLimitPerMin int `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`

	WSPingInterval time.Duration `env:"WS_PING_INTERVAL" envDefault:"20s"`
	WSSendBuffer   int           `env:"WS_SEND_BUFFER" envDefault:"256"`
	WSReadLimit    int64         `env:"WS_READ_LIMIT" envDefault:"65536"`

	// inbound frames waiting for the hub loop
	HubQueue int `env:"HUB_QUEUE" envDefault:"1024"`
}

// LoadConfig parses the environment into a Config
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.WSSendBuffer <= 0 || cfg.HubQueue <= 0 {
		return Config{}, fmt.Errorf("WS_SEND_BUFFER and HUB_QUEUE must be positive")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("WS_PING_INTERVAL must be positive")
	}
	return cfg, nil
}
