// Package config loads maggtomic configuration from YAML or CUE files.
//
// Both formats share one set of field names. CUE files are unified with
// the embedded #Config schema, which supplies defaults and rejects
// unknown fields; YAML files are decoded over Default.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// EnvDB overrides Config.Path when set.
const EnvDB = "MAGGTOMIC_DB"

//go:embed schema.cue
var schemaSource string

// Config is the full configuration of a store.
type Config struct {
	Path              string `yaml:"path" json:"path"`
	Synchronous       string `yaml:"synchronous" json:"synchronous"`
	BusyTimeoutMS     int    `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
	ReadPoolSize      int    `yaml:"read_pool_size" json:"read_pool_size"`
	Compression       string `yaml:"compression" json:"compression"`
	CompressThreshold int    `yaml:"compress_threshold" json:"compress_threshold"`

	// IDBlock is how many ids the allocator reserves per persisted mark.
	IDBlock int `yaml:"id_block" json:"id_block"`

	Log    Log    `yaml:"log" json:"log"`
	Export Export `yaml:"export" json:"export"`
}

// Log configures the default logger.
type Log struct {
	Level  string `yaml:"level" json:"level"`   // debug|info|warn|error
	Format string `yaml:"format" json:"format"` // text|json
}

// Export throttles bulk export.
type Export struct {
	// RatePerSecond caps datoms written per second. 0 means unlimited.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	Burst         int     `yaml:"burst" json:"burst"`
}

// Default returns the configuration used when no file is given. It
// matches the defaults of the CUE schema.
func Default() Config {
	return Config{
		Path:              "maggtomic.db",
		Synchronous:       "NORMAL",
		BusyTimeoutMS:     5000,
		ReadPoolSize:      4,
		Compression:       "zstd",
		CompressThreshold: 256,
		IDBlock:           64,
		Log:               Log{Level: "info", Format: "text"},
		Export:            Export{Burst: 1000},
	}
}

// Load reads path according to its extension (.yaml, .yml or .cue),
// applies the environment override and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	case ".cue":
		cfg, err = ParseCUE(path, data)
	default:
		return Config{}, fmt.Errorf("load config: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseYAML decodes data over Default. Unknown fields are an error.
func ParseYAML(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

// ParseCUE unifies data with the #Config schema and decodes the result.
// filename is used in error positions only.
func ParseCUE(filename string, data []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, fmt.Errorf("compile cue: %w", err)
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("validate cue: %w", err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode cue: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() {
	if p, ok := os.LookupEnv(EnvDB); ok && p != "" {
		c.Path = p
	}
}

// Validate checks the fields the CUE schema would check, for
// configurations built in Go or loaded from YAML.
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("config: path is required")
	}
	switch c.Synchronous {
	case "", "NORMAL", "FULL", "OFF":
	default:
		return fmt.Errorf("config: synchronous must be NORMAL, FULL or OFF, got %q", c.Synchronous)
	}
	switch c.Compression {
	case "", "zstd", "lz4", "none":
	default:
		return fmt.Errorf("config: unknown compression %q", c.Compression)
	}
	if c.BusyTimeoutMS < 0 || c.ReadPoolSize < 0 || c.CompressThreshold < 0 || c.IDBlock < 0 {
		return errors.New("config: sizes and timeouts must not be negative")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log format must be text or json, got %q", c.Log.Format)
	}
	if c.Export.RatePerSecond < 0 {
		return errors.New("config: export rate must not be negative")
	}
	return nil
}

// BusyTimeout returns BusyTimeoutMS as a duration.
func (c Config) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

// SlogLevel parses Level. Empty means info.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
