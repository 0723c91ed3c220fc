package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/usertrack/internal/registry"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usertrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
elasticsearch:
  addresses: ["http://es1:9200", "http://es2:9200"]
  username: elastic
registry:
  driver: sqlite3
  dsn: file:users.db
indices:
  input: ["nginx_app_*"]
retry:
  retention: 2h
  compression: lz4
watermark:
  source: file
  safety_margin: 90s
sinks:
  index: false
propagate: false
session_lookback: 12h
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.Elasticsearch.Addresses)
	assert.Equal(t, "elastic", cfg.Elasticsearch.Username)
	assert.Equal(t, registry.DriverSQLite, cfg.Registry.Driver)
	assert.Equal(t, "file:users.db", cfg.Registry.DSN)
	assert.Equal(t, registry.DefaultQuery, cfg.Registry.Query, "unset keys keep defaults")
	assert.Equal(t, []string{"nginx_app_*"}, cfg.Indices.Input)
	assert.Equal(t, 2*time.Hour, cfg.Retry.Retention)
	assert.Equal(t, "lz4", cfg.Retry.Compression)
	assert.Equal(t, WatermarkFile, cfg.Watermark.Source)
	assert.Equal(t, 90*time.Second, cfg.Watermark.SafetyMargin)
	assert.False(t, cfg.Sinks.Index)
	assert.False(t, cfg.Propagate)
	assert.Equal(t, 12*time.Hour, cfg.SessionLookback)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("USERTRACK_REGISTRY_DSN", "user:pw@tcp(db:3306)/rb")
	t.Setenv("USERTRACK_RETRY_RETENTION", "30m")
	t.Setenv("USERTRACK_SINKS_INDEX", "false")

	path := writeConfig(t, "registry:\n  dsn: from-file\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "user:pw@tcp(db:3306)/rb", cfg.Registry.DSN, "env wins over file")
	assert.Equal(t, 30*time.Minute, cfg.Retry.Retention)
	assert.False(t, cfg.Sinks.Index)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "retry:\n  retention: soon\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Registry.DSN = "user:pw@tcp(db:3306)/rb"
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no addresses", func(c *Config) { c.Elasticsearch.Addresses = nil }, "elasticsearch.addresses"},
		{"bad driver", func(c *Config) { c.Registry.Driver = "postgres" }, "registry.driver"},
		{"no dsn", func(c *Config) { c.Registry.DSN = "" }, "registry.dsn"},
		{"no input", func(c *Config) { c.Indices.Input = nil }, "indices.input"},
		{"no rules", func(c *Config) { c.Rules = "" }, "rules:"},
		{"zero retention", func(c *Config) { c.Retry.Retention = 0 }, "retry.retention"},
		{"bad compression", func(c *Config) { c.Retry.Compression = "gzip" }, "retry.compression"},
		{"bad watermark", func(c *Config) { c.Watermark.Source = "clock" }, "watermark.source"},
		{"file watermark without log", func(c *Config) {
			c.Watermark.Source = WatermarkFile
			c.Sinks.ResolvedLog = ""
		}, "file watermark needs sinks.resolved_log"},
		{"index watermark without output", func(c *Config) { c.Indices.Output = nil }, "index watermark needs indices.output"},
		{"negative margin", func(c *Config) { c.Watermark.SafetyMargin = -time.Second }, "watermark.safety_margin"},
		{"no resolved output", func(c *Config) {
			c.Sinks.ResolvedLog = ""
			c.Sinks.Index = false
			c.Watermark.Source = WatermarkIndex
		}, "sinks: resolved records"},
		{"index without prefix", func(c *Config) { c.Indices.OutputPrefix = "" }, "indices.output_prefix"},
		{"no store", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"negative lookback", func(c *Config) { c.SessionLookback = -time.Hour }, "session_lookback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	c := Default()
	c.Rules = ""
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry.dsn")
	assert.Contains(t, err.Error(), "rules:")
}

func TestFreshnessIndices(t *testing.T) {
	c := Default()
	assert.Equal(t, []string{"nginx_jcj_*"}, c.FreshnessIndices())
	c.Indices.Freshness = nil
	assert.Equal(t, []string{"nginx_jcjact_*"}, c.FreshnessIndices())
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "usertrack.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, registry.DriverMySQL, cfg.Registry.Driver)
	assert.Equal(t, 1000, cfg.Elasticsearch.PageSize)
	assert.Equal(t, "configs/track_patt.yaml", cfg.Rules)
}
