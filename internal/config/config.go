package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.wabridge/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	ListenAddr     string    `toml:"listen_addr"`
	Reconnect      Reconnect `toml:"reconnect"`
}

// Reconnect tunes the bounded retry policy applied after a dropped
// connection. Auth failures never retry regardless of these values.
type Reconnect struct {
	MaxAttempts       int `toml:"max_attempts"`
	FirstDelaySeconds int `toml:"first_delay_seconds"`
	RetryDelaySeconds int `toml:"retry_delay_seconds"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		ListenAddr: ":3001",
		Reconnect: Reconnect{
			MaxAttempts:       3,
			FirstDelaySeconds: 5,
			RetryDelaySeconds: 10,
		},
	}
}

// Load reads config from the given path and fills unset fields with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// FirstDelay returns the delay before the first reconnect attempt.
func (r Reconnect) FirstDelay() time.Duration {
	return time.Duration(r.FirstDelaySeconds) * time.Second
}

// RetryDelay returns the delay between subsequent reconnect attempts.
func (r Reconnect) RetryDelay() time.Duration {
	return time.Duration(r.RetryDelaySeconds) * time.Second
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = def.Reconnect.MaxAttempts
	}
	if c.Reconnect.FirstDelaySeconds == 0 {
		c.Reconnect.FirstDelaySeconds = def.Reconnect.FirstDelaySeconds
	}
	if c.Reconnect.RetryDelaySeconds == 0 {
		c.Reconnect.RetryDelaySeconds = def.Reconnect.RetryDelaySeconds
	}
}
