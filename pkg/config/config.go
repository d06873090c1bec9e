package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig names the tables the ingestion stage reads.
type SourceConfig struct {
	OrdersTable    string `yaml:"orders_table"`
	CustomersTable string `yaml:"customers_table"`
}

// SinkConfig names the output tables and toggles the reject audit trail.
type SinkConfig struct {
	SegmentsTable string `yaml:"segments_table"`
	RejectsTable  string `yaml:"rejects_table"`
	AuditRejects  bool   `yaml:"audit_rejects"`
}

// FeatureConfig tunes feature engineering and the clustered dimensions.
type FeatureConfig struct {
	RecencySentinelDays int  `yaml:"recency_sentinel_days"`
	IncludeAOV          bool `yaml:"include_aov"`
	Workers             int  `yaml:"workers"` // 0 means GOMAXPROCS
}

// ClusterConfig tunes the clustering engine. EmptyClusterPolicy is
// "reseed-farthest" (default) or "fail".
type ClusterConfig struct {
	MaxIterations      int    `yaml:"max_iterations"`
	EmptyClusterPolicy string `yaml:"empty_cluster_policy"`
}

// ClaimConfig tunes run-id exclusivity. Claims older than the TTL are treated
// as abandoned and may be taken over.
type ClaimConfig struct {
	Table      string `yaml:"table"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

// TTL returns the claim time-to-live as a duration.
func (c ClaimConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration. Everything here has a working default;
// a missing config file is not an error.
type Config struct {
	DSN     string        `yaml:"dsn"`
	Source  SourceConfig  `yaml:"source"`
	Sink    SinkConfig    `yaml:"sink"`
	Feature FeatureConfig `yaml:"features"`
	Cluster ClusterConfig `yaml:"cluster"`
	Claim   ClaimConfig   `yaml:"claim"`
	Logging LoggingConfig `yaml:"logging"`
}

const (
	PolicyReseedFarthest = "reseed-farthest"
	PolicyFail           = "fail"
)

// Load reads the config from path, falling back to defaults when the file
// does not exist. The RFM_SEGMENTS_DSN environment variable overrides the
// file's dsn either way.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		applyDefaults(cfg)
	}
	if dsn := os.Getenv("RFM_SEGMENTS_DSN"); dsn != "" {
		cfg.DSN = dsn
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Source: SourceConfig{OrdersTable: "orders", CustomersTable: "customers"},
		Sink: SinkConfig{
			SegmentsTable: "customer_segments",
			RejectsTable:  "rejected_rows",
			AuditRejects:  true,
		},
		Feature: FeatureConfig{RecencySentinelDays: 3650},
		Cluster: ClusterConfig{MaxIterations: 100, EmptyClusterPolicy: PolicyReseedFarthest},
		Claim:   ClaimConfig{Table: "run_claims", TTLMinutes: 60},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Source.OrdersTable == "" {
		cfg.Source.OrdersTable = def.Source.OrdersTable
	}
	if cfg.Source.CustomersTable == "" {
		cfg.Source.CustomersTable = def.Source.CustomersTable
	}
	if cfg.Sink.SegmentsTable == "" {
		cfg.Sink.SegmentsTable = def.Sink.SegmentsTable
	}
	if cfg.Sink.RejectsTable == "" {
		cfg.Sink.RejectsTable = def.Sink.RejectsTable
	}
	if cfg.Feature.RecencySentinelDays == 0 {
		cfg.Feature.RecencySentinelDays = def.Feature.RecencySentinelDays
	}
	if cfg.Cluster.MaxIterations == 0 {
		cfg.Cluster.MaxIterations = def.Cluster.MaxIterations
	}
	if cfg.Cluster.EmptyClusterPolicy == "" {
		cfg.Cluster.EmptyClusterPolicy = def.Cluster.EmptyClusterPolicy
	}
	if cfg.Claim.Table == "" {
		cfg.Claim.Table = def.Claim.Table
	}
	if cfg.Claim.TTLMinutes == 0 {
		cfg.Claim.TTLMinutes = def.Claim.TTLMinutes
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Feature.RecencySentinelDays < 0 {
		return fmt.Errorf("recency_sentinel_days must be non-negative, got %d", c.Feature.RecencySentinelDays)
	}
	if c.Cluster.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.Cluster.MaxIterations)
	}
	switch c.Cluster.EmptyClusterPolicy {
	case PolicyReseedFarthest, PolicyFail:
	default:
		return fmt.Errorf("empty_cluster_policy must be %q or %q, got %q",
			PolicyReseedFarthest, PolicyFail, c.Cluster.EmptyClusterPolicy)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
