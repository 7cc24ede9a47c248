package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const defaultServer = "http://localhost:8787"

// Config is the client side configuration read from ~/.config/todo/config.toml.
type Config struct {
	Server         string `toml:"server"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Retries        int    `toml:"retries"`
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func configPath(home string) string {
	return filepath.Join(home, ".config", "todo", "config.toml")
}

// loadConfig reads the TOML file when present, then lets TODO_SERVER override it.
func loadConfig(home string, getenv func(string) string) (Config, error) {
	cfg := Config{Server: defaultServer, TimeoutSeconds: 10, Retries: 3}
	if _, err := toml.DecodeFile(configPath(home), &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if server := strings.TrimSpace(getenv("TODO_SERVER")); server != "" {
		cfg.Server = server
	}
	if cfg.Server == "" {
		cfg.Server = defaultServer
	}
	return cfg, nil
}
