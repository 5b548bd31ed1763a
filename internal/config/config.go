// Package config loads process settings from ZKBATTLE_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DBPath       string        `env:"DB_PATH" envDefault:"zkbattle.db"`
	KeysDir      string        `env:"KEYS_DIR" envDefault:"./keys"`
	Addr         string        `env:"ADDR" envDefault:":8080"`
	Stake        int64         `env:"STAKE" envDefault:"10"`
	Prover       string        `env:"PROVER" envDefault:"simulated"`
	StageTimeout time.Duration `env:"STAGE_TIMEOUT" envDefault:"30s"`
	SimLatency   time.Duration `env:"SIM_LATENCY" envDefault:"0s"`
	Account      string        `env:"ACCOUNT" envDefault:"local"`
	Verified     bool          `env:"VERIFIED" envDefault:"false"`
	LowBalance   int64         `env:"LOW_BALANCE" envDefault:"50"`

	RestoreTurnOnFailure bool `env:"RESTORE_TURN_ON_FAILURE" envDefault:"true"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

const (
	ProverSimulated = "simulated"
	ProverGnark     = "gnark"
)

// Load parses the environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{Prefix: "ZKBATTLE_"})
}

func parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Stake <= 0 {
		return fmt.Errorf("stake must be positive, got %d", c.Stake)
	}
	switch c.Prover {
	case ProverSimulated, ProverGnark:
	default:
		return fmt.Errorf("unknown prover %q", c.Prover)
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage timeout must be positive")
	}
	return nil
}

// Logger builds the process logger from LogFormat and LogLevel.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
