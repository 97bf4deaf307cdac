package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "GANTRY_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
	// DefaultPath is used when CONFIG_PATH is not set.
	DefaultPath = "config.yaml"
)

// Load reads the configuration file, expands ${env:...} references, merges
// environment overrides, applies defaults and validates the result. The
// returned error is a startup failure; callers should exit non-zero.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	k := koanf.New(Delimiter)

	// 1. Defaults (lowest priority).
	defaults := DefaultConfig()
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"server": map[string]interface{}{
			"host":          defaults.Server.Host,
			"port":          defaults.Server.Port,
			"read_timeout":  defaults.Server.ReadTimeout.String(),
			"write_timeout": defaults.Server.WriteTimeout.String(),
			"idle_timeout":  defaults.Server.IdleTimeout.String(),
		},
		"log": map[string]interface{}{
			"level":  defaults.Log.Level,
			"format": defaults.Log.Format,
			"output": defaults.Log.Output,
		},
	}, Delimiter), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Configuration file, with environment references expanded before
	// parsing so connection strings can carry credentials.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	raw = []byte(ExpandEnv(string(raw)))

	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	if err := k.Load(rawbytes.Provider(raw), parser); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// 3. Environment variable overrides: GANTRY_SERVER_PORT -> server.port.
	// Only the server and log sections are overridable this way; anything
	// else would trip the unknown-field check below.
	if err := k.Load(env.Provider(EnvPrefix, Delimiter, func(s string) string {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", Delimiter)
		if !strings.HasPrefix(key, "server.") && !strings.HasPrefix(key, "log.") {
			return "" // ignored by koanf
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Caller overrides (flags, HOST/PORT) win over everything.
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "mapstructure",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	applyClientDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
}
