package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/encounter.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// BadCodesLimit is how many distinct wrong codes a team may submit on
	// one task before it is closed as a cheat.
	BadCodesLimit int `env:"BAD_CODES_LIMIT" envDefault:"10"`

	// RecalcTick is how often a running game's demon wakes up.
	RecalcTick time.Duration `env:"RECALC_TICK" envDefault:"500ms"`

	// MinRecalcPeriod throttles how often a recalculation pass may start.
	MinRecalcPeriod time.Duration `env:"MIN_RECALC_PERIOD" envDefault:"5s"`

	// SeedDemo creates a demo admin, game, and tasks on an empty database.
	SeedDemo bool `env:"SEED_DEMO" envDefault:"false"`

	// SPADir serves a built frontend from this directory when set.
	SPADir string `env:"SPA_DIR" envDefault:""`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
