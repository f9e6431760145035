package service

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime settings for the marketplace service.
type Config struct {
	Addr     string `env:"MARKET_ADDR" envDefault:":8080"`
	DBPath   string `env:"MARKET_DB" envDefault:"market.db"`
	Receipts bool   `env:"MARKET_RECEIPTS" envDefault:"false"`
	Admin    string `env:"MARKET_ADMIN" envDefault:""`
}

// LoadConfig reads settings from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
