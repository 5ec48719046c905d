// Package config loads the simulator's runtime configuration from the
// environment, falling back to the defaults named in the account and
// matching model. A .env file in the working directory is loaded first,
// if present.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every tunable the engine, feed, persistence, and HTTP/WS
// adapters need at startup.
type Config struct {
	Server  ServerConfig
	Engine  EngineConfig
	Feed    FeedConfig
	Persist PersistConfig
}

type ServerConfig struct {
	Addr        string
	Environment string
}

// EngineConfig mirrors the Configuration table: tick size, fee rates, a
// default leverage, and the starting balance a fresh account is seeded
// with. DefaultLeverage is loaded and validated but no other package reads
// it; the HTTP layer requires every order to carry its own leverage.
type EngineConfig struct {
	TickSize         float64
	TakerFeeRate     float64
	MakerFeeRate     float64
	DefaultLeverage  int
	StartingBalance  float64
	SnapshotInterval int // seconds
}

type FeedConfig struct {
	HyperliquidWSURL string
	ReconnectBackoff int // seconds
}

type PersistConfig struct {
	PostgresDSN string
	RedisAddr   string
	RedisDB     int
}

// Load reads configuration from the environment, applying the defaults
// documented in the Configuration table when a variable is unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:        getEnv("HTTP_ADDR", ":8000"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Engine: EngineConfig{
			TickSize:         getEnvAsFloat("TICK_SIZE", 0.1),
			TakerFeeRate:     getEnvAsFloat("TAKER_FEE_RATE", 0.00045),
			MakerFeeRate:     getEnvAsFloat("MAKER_FEE_RATE", 0.00015),
			DefaultLeverage:  getEnvAsInt("DEFAULT_LEVERAGE", 10),
			StartingBalance:  getEnvAsFloat("STARTING_BALANCE", 10000.0),
			SnapshotInterval: getEnvAsInt("SNAPSHOT_INTERVAL_S", 60),
		},
		Feed: FeedConfig{
			HyperliquidWSURL: getEnv("HL_WS_URL", "wss://api.hyperliquid.xyz/ws"),
			ReconnectBackoff: getEnvAsInt("FEED_RECONNECT_BACKOFF_S", 3),
		},
		Persist: PersistConfig{
			PostgresDSN: getEnv("DATABASE_URL", "postgres://localhost:5432/hl_paper?sslmode=disable"),
			RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:     getEnvAsInt("REDIS_DB", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make the engine behave
// inconsistently with its own invariants (e.g. a non-positive leverage
// can never satisfy MMR = 1/(2*leverage)).
func (c *Config) Validate() error {
	if c.Engine.DefaultLeverage <= 0 {
		return fmt.Errorf("DEFAULT_LEVERAGE must be positive, got %d", c.Engine.DefaultLeverage)
	}
	if c.Engine.TickSize <= 0 {
		return fmt.Errorf("TICK_SIZE must be positive, got %v", c.Engine.TickSize)
	}
	if c.Engine.StartingBalance < 0 {
		return fmt.Errorf("STARTING_BALANCE must be non-negative, got %v", c.Engine.StartingBalance)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return defaultVal
}
