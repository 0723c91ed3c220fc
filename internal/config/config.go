// Package config loads the settings of a usertrack run from a YAML file and
// USERTRACK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/usertrack/internal/registry"
	"github.com/roach88/usertrack/internal/retry"
	"github.com/roach88/usertrack/internal/session"
	"github.com/roach88/usertrack/internal/watermark"
)

// EnvPrefix prefixes every environment override, e.g.
// USERTRACK_REGISTRY_DSN or USERTRACK_RETRY_RETENTION=2h.
const EnvPrefix = "USERTRACK"

// Watermark source names.
const (
	WatermarkIndex = "index"
	WatermarkFile  = "file"
)

// Config is the full run configuration.
type Config struct {
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" mapstructure:"elasticsearch"`
	Registry      RegistryConfig      `yaml:"registry" mapstructure:"registry"`
	Indices       IndicesConfig       `yaml:"indices" mapstructure:"indices"`

	// Rules is the path of the pattern rule set.
	Rules string `yaml:"rules" mapstructure:"rules"`

	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Watermark WatermarkConfig `yaml:"watermark" mapstructure:"watermark"`
	Sinks     SinksConfig     `yaml:"sinks" mapstructure:"sinks"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`

	// Propagate enables session propagation during runs.
	Propagate bool `yaml:"propagate" mapstructure:"propagate"`
	// SessionLookback bounds how far back an earlier run's login is looked
	// up for a session with no login in the window.
	SessionLookback time.Duration `yaml:"session_lookback" mapstructure:"session_lookback"`
}

// ElasticsearchConfig locates the log cluster.
type ElasticsearchConfig struct {
	Addresses []string `yaml:"addresses" mapstructure:"addresses"`
	Username  string   `yaml:"username" mapstructure:"username"`
	Password  string   `yaml:"password" mapstructure:"password"`
	APIKey    string   `yaml:"api_key" mapstructure:"api_key"`
	PageSize  int      `yaml:"page_size" mapstructure:"page_size"`
}

// RegistryConfig locates the user registry.
type RegistryConfig struct {
	Driver  string        `yaml:"driver" mapstructure:"driver"`
	DSN     string        `yaml:"dsn" mapstructure:"dsn"`
	Query   string        `yaml:"query" mapstructure:"query"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// IndicesConfig names the index patterns a run reads and writes.
type IndicesConfig struct {
	// Input holds the access records to correlate.
	Input []string `yaml:"input" mapstructure:"input"`
	// Freshness is queried for the input watermark. Empty means Input.
	Freshness []string `yaml:"freshness" mapstructure:"freshness"`
	// Output holds resolved records; it is the output watermark and the
	// lookup source.
	Output []string `yaml:"output" mapstructure:"output"`
	// OutputPrefix names the monthly output index, e.g. userbehavior_202403.
	OutputPrefix string `yaml:"output_prefix" mapstructure:"output_prefix"`
}

// RetryConfig configures the retry store.
type RetryConfig struct {
	Path        string        `yaml:"path" mapstructure:"path"`
	Retention   time.Duration `yaml:"retention" mapstructure:"retention"`
	Compression string        `yaml:"compression" mapstructure:"compression"`
}

// WatermarkConfig selects where the output watermark comes from.
type WatermarkConfig struct {
	// Source is "index" (max localtime of Indices.Output) or "file"
	// (max localtime of Sinks.ResolvedLog).
	Source       string        `yaml:"source" mapstructure:"source"`
	SafetyMargin time.Duration `yaml:"safety_margin" mapstructure:"safety_margin"`
}

// SinksConfig selects run outputs. Empty paths disable a log.
type SinksConfig struct {
	ResolvedLog string `yaml:"resolved_log" mapstructure:"resolved_log"`
	NoMatchLog  string `yaml:"nomatch_log" mapstructure:"nomatch_log"`
	ActivityLog string `yaml:"activity_log" mapstructure:"activity_log"`
	// Index enables bulk upserts into the monthly output index.
	Index bool `yaml:"index" mapstructure:"index"`
}

// StoreConfig locates the run ledger.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Elasticsearch: ElasticsearchConfig{
			Addresses: []string{"http://localhost:9200"},
		},
		Registry: RegistryConfig{
			Driver:  registry.DriverMySQL,
			Query:   registry.DefaultQuery,
			Timeout: 10 * time.Second,
		},
		Indices: IndicesConfig{
			Input:        []string{"nginx_jcjact_*"},
			Freshness:    []string{"nginx_jcj_*"},
			Output:       []string{"userbehavior_*"},
			OutputPrefix: "userbehavior_",
		},
		Rules: "configs/track_patt.yaml",
		Retry: RetryConfig{
			Path:        "unresolved.bin",
			Retention:   retry.DefaultRetention,
			Compression: retry.CompressionZstd.String(),
		},
		Watermark: WatermarkConfig{
			Source:       WatermarkIndex,
			SafetyMargin: watermark.DefaultSafetyMargin,
		},
		Sinks: SinksConfig{
			ResolvedLog: "behaviorTracks.log",
			NoMatchLog:  "nomatch.log",
			ActivityLog: "sessionTracks.log",
			Index:       true,
		},
		Store:           StoreConfig{Path: "usertrack.db"},
		Propagate:       true,
		SessionLookback: session.DefaultLookback,
	}
}

// Load reads path (if not empty) over the defaults, then applies
// USERTRACK_* environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file does not mention them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("elasticsearch.addresses", d.Elasticsearch.Addresses)
	v.SetDefault("elasticsearch.username", d.Elasticsearch.Username)
	v.SetDefault("elasticsearch.password", d.Elasticsearch.Password)
	v.SetDefault("elasticsearch.api_key", d.Elasticsearch.APIKey)
	v.SetDefault("elasticsearch.page_size", d.Elasticsearch.PageSize)

	v.SetDefault("registry.driver", d.Registry.Driver)
	v.SetDefault("registry.dsn", d.Registry.DSN)
	v.SetDefault("registry.query", d.Registry.Query)
	v.SetDefault("registry.timeout", d.Registry.Timeout)

	v.SetDefault("indices.input", d.Indices.Input)
	v.SetDefault("indices.freshness", d.Indices.Freshness)
	v.SetDefault("indices.output", d.Indices.Output)
	v.SetDefault("indices.output_prefix", d.Indices.OutputPrefix)

	v.SetDefault("rules", d.Rules)

	v.SetDefault("retry.path", d.Retry.Path)
	v.SetDefault("retry.retention", d.Retry.Retention)
	v.SetDefault("retry.compression", d.Retry.Compression)

	v.SetDefault("watermark.source", d.Watermark.Source)
	v.SetDefault("watermark.safety_margin", d.Watermark.SafetyMargin)

	v.SetDefault("sinks.resolved_log", d.Sinks.ResolvedLog)
	v.SetDefault("sinks.nomatch_log", d.Sinks.NoMatchLog)
	v.SetDefault("sinks.activity_log", d.Sinks.ActivityLog)
	v.SetDefault("sinks.index", d.Sinks.Index)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("propagate", d.Propagate)
	v.SetDefault("session_lookback", d.SessionLookback)
}

// Validate reports every problem that would stop a run.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(c.Elasticsearch.Addresses) == 0 {
		fail("elasticsearch.addresses: at least one address is required")
	}
	switch c.Registry.Driver {
	case registry.DriverMySQL, registry.DriverSQLite:
	default:
		fail("registry.driver: unsupported driver %q", c.Registry.Driver)
	}
	if c.Registry.DSN == "" {
		fail("registry.dsn: required")
	}
	if len(c.Indices.Input) == 0 {
		fail("indices.input: at least one index is required")
	}
	if c.Rules == "" {
		fail("rules: path to the rule set is required")
	}
	if c.Retry.Path == "" {
		fail("retry.path: required")
	}
	if c.Retry.Retention <= 0 {
		fail("retry.retention: must be positive, got %s", c.Retry.Retention)
	}
	if _, err := retry.ParseCompressionTag(c.Retry.Compression); err != nil {
		fail("retry.compression: %v", err)
	}
	switch c.Watermark.Source {
	case WatermarkIndex:
		if len(c.Indices.Output) == 0 {
			fail("watermark.source: index watermark needs indices.output")
		}
	case WatermarkFile:
		if c.Sinks.ResolvedLog == "" {
			fail("watermark.source: file watermark needs sinks.resolved_log")
		}
	default:
		fail("watermark.source: must be %q or %q, got %q", WatermarkIndex, WatermarkFile, c.Watermark.Source)
	}
	if c.Watermark.SafetyMargin < 0 {
		fail("watermark.safety_margin: must not be negative")
	}
	if c.Sinks.ResolvedLog == "" && !c.Sinks.Index {
		fail("sinks: resolved records need resolved_log or index")
	}
	if c.Sinks.Index && c.Indices.OutputPrefix == "" {
		fail("indices.output_prefix: required when sinks.index is enabled")
	}
	if c.SessionLookback < 0 {
		fail("session_lookback: must not be negative")
	}
	if c.Store.Path == "" {
		fail("store.path: required")
	}
	return errors.Join(errs...)
}

// FreshnessIndices returns the indices that drive the input watermark.
func (c *Config) FreshnessIndices() []string {
	if len(c.Indices.Freshness) > 0 {
		return c.Indices.Freshness
	}
	return c.Indices.Input
}
