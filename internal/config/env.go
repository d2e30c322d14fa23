package config

import (
	"os"

	"github.com/joho/godotenv"
)

// EnvDBPath is the environment variable that overrides the database path.
const EnvDBPath = "TYPEDRILL_DB"

// LoadEnv loads a .env file from the working directory if one exists.
// A missing file is not an error.
func LoadEnv() bool {
	return godotenv.Load() == nil
}

// ResolveDBPath picks the database path: environment override first,
// then the config file, then the XDG default.
func ResolveDBPath(cfg FileConfig) string {
	if v := os.Getenv(EnvDBPath); v != "" {
		return v
	}
	if cfg.Storage.DBPath != nil && *cfg.Storage.DBPath != "" {
		return *cfg.Storage.DBPath
	}
	return DefaultDBPath()
}
