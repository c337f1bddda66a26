// Package config loads the gateway configuration from a YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration adds YAML parsing of the usual duration strings ("30s", "1m")
// to time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Backend describes the media center connection.
type Backend struct {
	// URI of the backend's JSON-RPC endpoint, in a form accepted by the
	// RPC dialer: tcp:host:port, tls:host:port or ws://host:port/jsonrpc.
	URI string `yaml:"uri"`

	// Timeout bounds how long one call may wait for its reply.
	Timeout Duration `yaml:"timeout"`

	// PoolSize is the maximum number of concurrent backend connections.
	PoolSize int32 `yaml:"pool_size"`
}

// Config is the full gateway configuration.
type Config struct {
	// Listen is the address the MPD server binds to.
	Listen string `yaml:"listen"`

	// MusicPath is the root of the music database on the backend's
	// filesystem. Paths shown to MPD clients are relative to it.
	MusicPath string `yaml:"music_path"`

	// PathSeparator is the separator of the backend's filesystem.
	PathSeparator string `yaml:"path_separator"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Backend Backend `yaml:"backend"`
}

// Default returns the configuration used when no file or flag says
// otherwise.
func Default() Config {
	return Config{
		Listen:        ":6600",
		MusicPath:     "/music",
		PathSeparator: "/",
		LogLevel:      "info",
		Backend: Backend{
			URI:      "tcp:localhost:9090",
			Timeout:  Duration(time.Minute),
			PoolSize: 1,
		},
	}
}

// Load reads path on top of the defaults. A missing file is an error;
// callers that treat the file as optional check for it themselves.
func Load(path string) (Config, error) {
	cfg := Default()

	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// SlogLevel translates the configured log level name.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: bad log_level %q: %w", c.LogLevel, err)
	}

	return level, nil
}
