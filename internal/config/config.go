// Package config loads server configuration from struct defaults, an
// optional YAML file, SCIMSTORE_* environment variables and command-line
// flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// envPrefix is stripped from environment variable names. Double underscore
// nests: SCIMSTORE_LOG__LEVEL -> log.level, single underscores are kept so
// SCIMSTORE_BASE_PATH -> base_path.
const envPrefix = "SCIMSTORE_"

// Config carries everything the server binary needs at startup.
type Config struct {
	// Listen is the address of the SCIM HTTP listener.
	Listen string `koanf:"listen"`
	// ObsListen is the address of the observability listener serving
	// /metrics, /health, /ready and /debug/pprof. Empty disables it.
	ObsListen string `koanf:"obs_listen"`
	// BasePath is the URL prefix resources are served under. Resources
	// are additionally reachable without the prefix.
	BasePath string `koanf:"base_path"`
	// PageSize caps the count parameter of list and search requests.
	PageSize int `koanf:"page_size"`
	// BearerTokens lists accepted Authorization tokens. Empty disables
	// authentication.
	BearerTokens []string `koanf:"bearer_tokens"`
	// Schemas and ResourceTypes are glob patterns of JSON documents to
	// register on top of the built-in User and Group definitions.
	Schemas       []string `koanf:"schemas"`
	ResourceTypes []string `koanf:"resource_types"`
	// StateFile is a JSON snapshot written on shutdown and restored on
	// startup. Empty keeps the store purely in memory.
	StateFile string `koanf:"state_file"`

	Log LogConfig `koanf:"log"`
}

// LogConfig mirrors logger.Config for the fields that are configurable.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// Defaults returns the configuration used when nothing else is specified.
func Defaults() Config {
	return Config{
		Listen:    ":8080",
		ObsListen: ":9090",
		BasePath:  "/v2",
		PageSize:  50,
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// FlagKeys maps command-line flag names to configuration keys. Flags the
// user set explicitly override every other source.
var FlagKeys = map[string]string{
	"listen":         "listen",
	"obs-listen":     "obs_listen",
	"base-path":      "base_path",
	"page-size":      "page_size",
	"bearer-token":   "bearer_tokens",
	"schemas":        "schemas",
	"resource-types": "resource_types",
	"state-file":     "state_file",
	"log-level":      "log.level",
	"log-pretty":     "log.pretty",
}

// Load builds the effective configuration. configPath may be empty; when
// set the file must exist. flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		if err := k.Load(file.Provider(configPath), koanfyaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if flags != nil {
		if err := applyFlags(k, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyFlags copies explicitly-set flags into the tree. Repeatable string
// flags keep their list form, everything else goes through the weakly
// typed string conversion.
func applyFlags(k *koanf.Koanf, flags *pflag.FlagSet) error {
	var errs []error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := FlagKeys[f.Name]
		if !ok {
			return
		}
		var err error
		switch f.Value.Type() {
		case "stringArray":
			var vs []string
			if vs, err = flags.GetStringArray(f.Name); err == nil {
				err = k.Set(key, vs)
			}
		case "stringSlice":
			var vs []string
			if vs, err = flags.GetStringSlice(f.Name); err == nil {
				err = k.Set(key, vs)
			}
		default:
			err = k.Set(key, f.Value.String())
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address must not be empty")
	}
	if c.PageSize < 1 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		return fmt.Errorf("base_path must start with /, got %q", c.BasePath)
	}
	return nil
}
