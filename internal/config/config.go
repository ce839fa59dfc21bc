package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	FutureHouse FutureHouse
	Server      Server
	Webhook     Webhook
}

type FutureHouse struct {
	APIKey       string        `env:"FUTUREHOUSE_API_KEY"`
	BaseURL      string        `env:"FUTUREHOUSE_BASE_URL" envDefault:"https://api.platform.futurehouse.org"`
	Timeout      time.Duration `env:"FUTUREHOUSE_TIMEOUT" envDefault:"60s"`
	PollInterval time.Duration `env:"FUTUREHOUSE_POLL_INTERVAL" envDefault:"2s"`
}

type Server struct {
	Port  int  `env:"PORT" envDefault:"5000"`
	Debug bool `env:"DEBUG" envDefault:"false"`
}

type Webhook struct {
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"30s"`
}

func Load() *Config {
	// A missing .env is fine, the environment may be set directly.
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal().Err(err).Msg("failed to parse environment")
	}

	return &c
}
