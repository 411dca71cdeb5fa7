// Package config loads jsondb CLI configuration from an optional JSONC
// file, the way the CLI's ticket-tool ancestor loads its own config.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/hujson"

	"github.com/jsondb/jsondb/pkg/index"
	"github.com/jsondb/jsondb/pkg/jsondb"
)

// IndexConfig is an on-disk secondary index definition.
type IndexConfig struct {
	Name       string `json:"name"`
	Collection string `json:"collection"`
	Field      string `json:"field"`
	Unique     bool   `json:"unique,omitempty"`
}

// Config holds jsondb CLI configuration, loadable from a JSONC file.
type Config struct {
	Indented   bool          `json:"indented"`
	SaveDelay  time.Duration `json:"save_delay_ms"` //nolint:tagliatelle // snake_case for config file
	UseWAL     bool          `json:"use_wal"`       //nolint:tagliatelle // snake_case for config file
	Compress   bool          `json:"compress,omitempty"`
	Silent     bool          `json:"silent,omitempty"`
	QueueLimit int           `json:"queue_limit,omitempty"` //nolint:tagliatelle // snake_case for config file
	KeyHex     string        `json:"key_hex,omitempty"`     //nolint:tagliatelle // snake_case for config file
	Indices    []IndexConfig `json:"indices,omitempty"`
}

// ConfigFileName is the default config file name looked up next to the
// database file.
const ConfigFileName = ".jsondb.json"

// DefaultConfig mirrors [jsondb.DefaultOptions] in on-disk form.
func DefaultConfig() Config {
	return Config{
		Indented:  true,
		SaveDelay: 60 * time.Millisecond,
		UseWAL:    true,
	}
}

// Load reads and parses explicitPath if given, otherwise
// filepath.Join(dir, ConfigFileName) if it exists. A missing default
// file is not an error; a missing explicit file is.
func Load(dir, explicitPath string) (Config, error) {
	cfg := DefaultConfig()

	path := explicitPath
	mustExist := explicitPath != ""

	if path == "" {
		path = filepath.Join(dir, ConfigFileName)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, nil
		}

		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s is not valid JSONC: %w", path, err)
	}

	// save_delay_ms is stored in milliseconds on disk.
	cfg.SaveDelay /= time.Millisecond

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s is not valid config JSON: %w", path, err)
	}

	cfg.SaveDelay *= time.Millisecond

	return cfg, nil
}

// ToOptions converts cfg to [jsondb.Options], decoding KeyHex if present.
func (c Config) ToOptions() (jsondb.Options, error) {
	opts := jsondb.Options{
		Indented:   c.Indented,
		SaveDelay:  c.SaveDelay,
		UseWAL:     c.UseWAL,
		Compress:   c.Compress,
		Silent:     c.Silent,
		QueueLimit: c.QueueLimit,
	}

	if c.KeyHex != "" {
		key, err := hex.DecodeString(strings.TrimSpace(c.KeyHex))
		if err != nil {
			return jsondb.Options{}, fmt.Errorf("config: key_hex: %w", err)
		}

		opts.Key = key
	}

	for _, idxCfg := range c.Indices {
		opts.Indices = append(opts.Indices, index.Def{
			Name:           idxCfg.Name,
			CollectionPath: idxCfg.Collection,
			Field:          idxCfg.Field,
			Unique:         idxCfg.Unique,
		})
	}

	return opts, nil
}

// Format returns cfg as formatted JSON, for `jsondb config`.
func Format(cfg Config) (string, error) {
	cfg.SaveDelay /= time.Millisecond

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("config: format: %w", err)
	}

	return string(data), nil
}
