// ABOUTME: Runtime configuration for the lifecycle engine
// ABOUTME: Loads .env overrides and resolves the default database path
package config

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// Config holds the engine's runtime settings.
type Config struct {
	DBPath string
}

// Load reads an optional .env file and environment overrides. A missing
// .env is not an error.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBPath: filepath.Join(xdg.DataHome, "oppflow", "lifecycle.db"),
	}

	if path := os.Getenv("LIFECYCLE_DB_PATH"); path != "" {
		cfg.DBPath = path
	}

	return cfg
}
