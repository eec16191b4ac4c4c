package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides, e.g. REVIEW_MAX_PENDING_REVIEWS.
const EnvPrefix = "REVIEW_"

// envKeys maps environment variable suffixes to config keys.
var envKeys = map[string]string{ //nolint:gochecknoglobals // lookup table
	"TEAM":                "team",
	"EXCLUDED":            "excluded",
	"HISTORY_DAYS":        "historyDays",
	"LOOKBACK_PRS":        "lookbackPRs",
	"MAX_PENDING_REVIEWS": "maxPendingReviews",
	"WEIGHTS_RECENCY":     "weights.recency",
	"WEIGHTS_BALANCE":     "weights.balance",
	"WEIGHTS_APPROVALS":   "weights.approvals",
	"WEIGHTS_WORKLOAD":    "weights.workload",
}

// listKeys are split on commas when read from the environment.
var listKeys = map[string]bool{"team": true, "excluded": true} //nolint:gochecknoglobals // lookup table

// Load builds a Config by layering defaults, the optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) at path, skipped if it does not exist
//  3. env (prefix REVIEW_)
func Load(path string) (*Config, error) {
	k, err := fromFile(path)
	if err != nil {
		return nil, err
	}
	if err := k.Load(envProvider(), nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	return unmarshal(k)
}

// LoadFile is Load without environment overrides. Use it when the result
// will be saved back to path.
func LoadFile(path string) (*Config, error) {
	k, err := fromFile(path)
	if err != nil {
		return nil, err
	}
	return unmarshal(k)
}

func fromFile(path string) (*koanf.Koanf, error) {
	k, err := defaults()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return k, nil
	}
	if _, statErr := os.Stat(path); statErr == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, statErr)
	}
	return k, nil
}

// Parse reads configuration from YAML bytes layered over defaults.
// Environment variables are not consulted.
func Parse(data []byte) (*Config, error) {
	k, err := defaults()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}
	return unmarshal(k)
}

// Exists reports whether a config file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(c, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSaveConfig, err)
	}
	b, err := k.Marshal(yaml.Parser())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSaveConfig, err)
	}
	return b, nil
}

// Save writes the config to path atomically.
func (c *Config) Save(path string) error {
	b, err := c.Marshal()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveConfig, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %w", ErrSaveConfig, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %w", ErrSaveConfig, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil { //nolint:gosec // committed to the repository
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %w", ErrSaveConfig, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %w", ErrSaveConfig, err)
	}
	return nil
}

func defaults() (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(New(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("%w: defaults: %w", ErrLoadConfig, err)
	}
	return k, nil
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if cfg.Unavailable == nil {
		cfg.Unavailable = map[string]Absence{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envProvider maps REVIEW_* variables onto config keys.
// Unknown variables are ignored; list values are comma separated.
func envProvider() *env.Env {
	return env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		name, ok := envKeys[strings.TrimPrefix(key, EnvPrefix)]
		if !ok {
			return "", nil
		}
		if !listKeys[name] {
			return name, value
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return name, items
	})
}
