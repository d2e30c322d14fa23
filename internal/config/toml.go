// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Engine  EngineConfig  `toml:"engine"`
	Storage StorageConfig `toml:"storage"`
}

// EngineConfig maps analysis-related settings.
type EngineConfig struct {
	NgramSizes    []int    `toml:"ngram-sizes"`
	FastBelowMs   *int64   `toml:"fast-below-ms"`
	SlowAboveMs   *int64   `toml:"slow-above-ms"`
	DecayFactor   *float64 `toml:"decay-factor"`
	MaxSamples    *int     `toml:"max-samples"`
	TargetMs      *int64   `toml:"target-ms"`
	SuppressDupes *bool    `toml:"suppress-duplicate-history"`
}

// StorageConfig maps storage-related settings.
type StorageConfig struct {
	DBPath *string `toml:"db-path"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
