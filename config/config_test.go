package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAML(t *testing.T) {
	t.Setenv(EnvDB, "")

	cfg, err := Load("testdata/store.yaml")
	require.NoError(t, err)

	want := Default()
	want.Path = "/var/lib/maggtomic/prov.db"
	want.Compression = "lz4"
	want.ReadPoolSize = 8
	want.Log = Log{Level: "debug", Format: "json"}
	want.Export = Export{RatePerSecond: 5000, Burst: 500}
	assert.Equal(t, want, cfg)
}

func TestLoad_CUEFillsDefaults(t *testing.T) {
	t.Setenv(EnvDB, "")

	cfg, err := Load("testdata/store.cue")
	require.NoError(t, err)

	want := Default()
	want.Path = "/var/lib/maggtomic/prov.db"
	want.Compression = "lz4"
	want.Log.Format = "json"
	assert.Equal(t, want, cfg)
}

func TestParseCUE_EmptyMatchesDefault(t *testing.T) {
	cfg, err := ParseCUE("empty.cue", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_CUERejectsUnknownField(t *testing.T) {
	_, err := Load("testdata/unknown.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threads")
}

func TestLoad_CUERejectsBadValue(t *testing.T) {
	_, err := Load("testdata/badcodec.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compression")
}

func TestParseYAML_RejectsUnknownField(t *testing.T) {
	_, err := ParseYAML([]byte("path: a.db\nthreads: 4\n"))
	require.Error(t, err)
}

func TestParseYAML_Empty(t *testing.T) {
	cfg, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverridesPath(t *testing.T) {
	t.Setenv(EnvDB, "/tmp/override.db")

	cfg, err := Load("testdata/store.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Path)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.toml")
	require.NoError(t, os.WriteFile(path, []byte("path = 'x'"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty path":    func(c *Config) { c.Path = "" },
		"synchronous":   func(c *Config) { c.Synchronous = "EXTRA" },
		"compression":   func(c *Config) { c.Compression = "gzip" },
		"negative pool": func(c *Config) { c.ReadPoolSize = -1 },
		"log level":     func(c *Config) { c.Log.Level = "loud" },
		"log format":    func(c *Config) { c.Log.Format = "xml" },
		"negative rate": func(c *Config) { c.Export.RatePerSecond = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := Log{Level: in}.SlogLevel()
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestBusyTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, Default().BusyTimeout())
}
