// Package config resolves stockline settings.
//
// Sources, later ones winning: built-in defaults, an optional YAML file,
// a .env file, STOCKLINE_* environment variables. The result is validated
// against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/stockline/internal/schema"
)

//go:embed config.cue
var schemaSource string

// Remote kinds.
const (
	RemoteNone     = "none"
	RemoteMemory   = "memory"
	RemotePostgres = "postgres"
)

// Config is the resolved configuration.
type Config struct {
	Database string       `yaml:"database" json:"database"`
	Log      LogConfig    `yaml:"log" json:"log"`
	Remote   RemoteConfig `yaml:"remote" json:"remote"`
	Sync     SyncConfig   `yaml:"sync" json:"sync"`
	HTTP     HTTPConfig   `yaml:"http" json:"http"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "console" | "json"
}

// RemoteConfig selects the remote endpoint.
type RemoteConfig struct {
	Kind     string        `yaml:"kind" json:"kind"`
	URL      string        `yaml:"url" json:"url"`
	TenantID string        `yaml:"tenant_id" json:"tenant_id"`
	MaxConns int32         `yaml:"max_conns" json:"max_conns"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// SyncConfig drives the scheduler.
type SyncConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Tables   []string      `yaml:"tables" json:"tables"`
}

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: "stockline.db",
		Log:      LogConfig{Level: "info", Format: "console"},
		Remote:   RemoteConfig{Kind: RemoteNone},
		Sync: SyncConfig{
			Enabled:  true,
			Interval: 10 * time.Minute,
			Tables:   append([]string(nil), schema.SyncTables...),
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load resolves the configuration. path may be empty. envFiles are loaded
// with godotenv before reading the environment; with none given, ./.env is
// used when present. Variables already set in the environment are kept.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// applyEnv overlays STOCKLINE_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("STOCKLINE_DATABASE", &cfg.Database)
	str("STOCKLINE_LOG_LEVEL", &cfg.Log.Level)
	str("STOCKLINE_LOG_FORMAT", &cfg.Log.Format)
	str("STOCKLINE_REMOTE_KIND", &cfg.Remote.Kind)
	str("STOCKLINE_REMOTE_URL", &cfg.Remote.URL)
	str("STOCKLINE_TENANT_ID", &cfg.Remote.TenantID)
	str("STOCKLINE_HTTP_ADDR", &cfg.HTTP.Addr)

	if v, ok := lookup("STOCKLINE_REMOTE_MAX_CONNS"); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("STOCKLINE_REMOTE_MAX_CONNS: %w", err)
		}
		cfg.Remote.MaxConns = int32(n)
	}
	if v, ok := lookup("STOCKLINE_REMOTE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STOCKLINE_REMOTE_TIMEOUT: %w", err)
		}
		cfg.Remote.Timeout = d
	}
	if v, ok := lookup("STOCKLINE_SYNC_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STOCKLINE_SYNC_INTERVAL: %w", err)
		}
		cfg.Sync.Interval = d
	}
	if v, ok := lookup("STOCKLINE_SYNC_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STOCKLINE_SYNC_ENABLED: %w", err)
		}
		cfg.Sync.Enabled = b
	}
	if v, ok := lookup("STOCKLINE_SYNC_TABLES"); ok {
		cfg.Sync.Tables = nil
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Sync.Tables = append(cfg.Sync.Tables, t)
			}
		}
	}
	return nil
}

// document is the CUE-facing view of Config: durations as strings.
type document struct {
	Database string `json:"database"`
	Log      struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
	Remote struct {
		Kind     string `json:"kind"`
		URL      string `json:"url"`
		TenantID string `json:"tenant_id"`
		MaxConns int32  `json:"max_conns"`
		Timeout  string `json:"timeout"`
	} `json:"remote"`
	Sync struct {
		Enabled  bool     `json:"enabled"`
		Interval string   `json:"interval"`
		Tables   []string `json:"tables"`
	} `json:"sync"`
	HTTP struct {
		Addr string `json:"addr"`
	} `json:"http"`
}

func (c *Config) document() document {
	var d document
	d.Database = c.Database
	d.Log.Level = c.Log.Level
	d.Log.Format = c.Log.Format
	d.Remote.Kind = c.Remote.Kind
	d.Remote.URL = c.Remote.URL
	d.Remote.TenantID = c.Remote.TenantID
	d.Remote.MaxConns = c.Remote.MaxConns
	d.Remote.Timeout = c.Remote.Timeout.String()
	d.Sync.Enabled = c.Sync.Enabled
	d.Sync.Interval = c.Sync.Interval.String()
	d.Sync.Tables = c.Sync.Tables
	if d.Sync.Tables == nil {
		d.Sync.Tables = []string{}
	}
	d.HTTP.Addr = c.HTTP.Addr
	return d
}

func cueSchema() string {
	tables := schema.Default().Tables()
	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = strconv.Quote(t)
	}
	return schemaSource + "\n#Table: " + strings.Join(quoted, " | ") + "\n"
}

// Validate checks the configuration against the CUE schema plus the rules
// CUE cannot express on durations.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	def := ctx.CompileString(cueSchema()).LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	val := def.Unify(ctx.Encode(c.document()))
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Sync.Enabled && c.Sync.Interval <= 0 {
		return errors.New("invalid config: sync.interval must be positive")
	}
	if c.Remote.Timeout < 0 {
		return errors.New("invalid config: remote.timeout must not be negative")
	}
	return nil
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
