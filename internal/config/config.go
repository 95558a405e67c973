package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Voornaamenachternaam/ballooncrypt/internal/kdf"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "BALLOONCRYPT"

const maxWorkers = 256

// Config holds CLI configuration. Environment keys are derived from field
// names (BALLOONCRYPT_PARAM_VERSION, BALLOONCRYPT_LOG_LEVEL, ...); there is
// no fallback to unprefixed names.
type Config struct {
	// ParamVersion is the key derivation version used for new files.
	ParamVersion kdf.Version `yaml:"param_version" split_words:"true"`
	// Workers is the number of chunks processed concurrently.
	Workers int       `yaml:"workers" split_words:"true"`
	Log     LogConfig `yaml:"log" split_words:"true"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ParamVersion: kdf.Latest,
		Workers:      1,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load starts from Default, applies the YAML file at configPath if one is
// given, then environment variables. Environment variables win.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "process environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := kdf.Default().Params(c.ParamVersion); err != nil {
		return errors.Wrap(err, "param_version")
	}
	if c.Workers < 1 || c.Workers > maxWorkers {
		return errors.Errorf("workers must be between 1 and %d, got %d", maxWorkers, c.Workers)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	l, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelWarn
	}
	return l
}

// JSONLogs reports whether logs should be written as JSON.
func (c *Config) JSONLogs() bool {
	return strings.EqualFold(c.Log.Format, "json")
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.Errorf("unknown log level %q", s)
	}
	return l, nil
}
