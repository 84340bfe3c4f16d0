// Package config loads the daemon configuration from config.yaml in the
// data directory, creating it with generated defaults on first run.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const fileName = "config.yaml"

// RateLimit configures the per-client token bucket on the REST surface.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Burst    int           `yaml:"burst"`
}

// Config is the daemon configuration.
type Config struct {
	// Addr is the listen address of the REST surface.
	Addr string `yaml:"addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// JWTSecret signs the session tokens minted by the auth endpoints.
	// Generated on first run.
	JWTSecret string `yaml:"jwt_secret"`
	// PutTimeout bounds blob writes.
	PutTimeout time.Duration `yaml:"put_timeout"`
	// StrictUpdates makes document updates on missing ids fail with
	// NotFound instead of the hosted service's silent no-op.
	StrictUpdates bool `yaml:"strict_updates"`
	// SeedIdentity creates the well-known test identity on startup when
	// the registry is empty.
	SeedIdentity bool      `yaml:"seed_identity"`
	RateLimit    RateLimit `yaml:"rate_limit"`
}

// Default returns the configuration used when config.yaml is absent.
// The JWT secret is freshly generated.
func Default() (Config, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Config{}, fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return Config{
		Addr:       "localhost:8089",
		LogLevel:   "info",
		JWTSecret:  hex.EncodeToString(buf[:]),
		PutTimeout: 30 * time.Second,
		RateLimit: RateLimit{
			Requests: 300,
			Window:   time.Minute,
			Burst:    50,
		},
	}, nil
}

// Load reads config.yaml from dataDir, writing one with defaults first if
// it does not exist.
func Load(dataDir string) (Config, error) {
	path := filepath.Join(dataDir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		cfg, err := Default()
		if err != nil {
			return Config{}, err
		}
		if err := Save(dataDir, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to config.yaml in dataDir.
func Save(dataDir string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	path := filepath.Join(dataDir, fileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
