package launcher

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file for static deployments that
// prefer declarative defaults over flags. Flags and environment variables
// override every field; the file itself is optional.
type Config struct {
	// Host is the bind address.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// CLIPath is the path to the claude binary.
	CLIPath string `yaml:"claude_path"`

	// Model is the default model when a request names none.
	Model string `yaml:"model"`

	// SessionFile overrides the session store location.
	SessionFile string `yaml:"session_file"`

	// MaxConcurrent caps simultaneous claude subprocesses.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config file %q: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the server would fail on later.
func (c Config) Validate() error {
	if c.Port != 0 && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("port must be a valid TCP port, got %d", c.Port)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must not be negative, got %d", c.MaxConcurrent)
	}
	return nil
}
