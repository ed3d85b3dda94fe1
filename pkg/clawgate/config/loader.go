// Package config – loader.go handles loading configuration from YAML files
// with .env support and environment variable expansion.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads and parses a YAML configuration file on top of the defaults.
// .env files next to the config (and in the working directory) are loaded
// first; godotenv does not overwrite variables already set in the environment.
func Load(path string) (*Config, error) {
	loadEnvFiles(path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	resolveRelativePaths(cfg, path)
	return cfg, nil
}

// loadEnvFiles loads .env files from the config directory and the CWD.
func loadEnvFiles(configPath string) {
	candidates := []string{
		filepath.Join(filepath.Dir(configPath), ".env"),
		".env",
	}
	for _, f := range candidates {
		_ = godotenv.Load(f)
	}
}

// resolveRelativePaths anchors relative paths at the config file's directory
// so the daemon behaves the same regardless of invocation CWD.
func resolveRelativePaths(cfg *Config, configPath string) {
	base := filepath.Dir(configPath)

	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	cfg.Database.Path = anchor(cfg.Database.Path)
	cfg.GroupsDir = anchor(cfg.GroupsDir)
	cfg.Channels.WhatsApp.SessionDir = anchor(cfg.Channels.WhatsApp.SessionDir)
}
