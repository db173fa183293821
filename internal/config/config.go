// Package config defines service configuration and how it is loaded.
//
// Sources, lowest precedence first: defaults from New, an optional YAML file,
// a .env file, then PROCTOR_-prefixed environment variables.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel  string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// WorkerCount sets the number of analysis workers, each with its own detector client.
	WorkerCount int `koanf:"worker_count"`
	// QueueSize bounds the analysis queue; a full queue answers busy.
	QueueSize   int `koanf:"queue_size"`
	// DedupeSize bounds the remembered frame and event ids.
	DedupeSize  int `koanf:"dedupe_size"`
	// ShardCount configures the session registry shards.
	ShardCount  int `koanf:"shard_count"`

	AnalysisTimeoutMS     int `koanf:"analysis_timeout_ms"`
	// IdentityCheckInterval re-verifies identity every N frames; 0 disables.
	IdentityCheckInterval int `koanf:"identity_check_interval"`
	MaxFrameBytes         int `koanf:"max_frame_bytes"`
	// EndedRetentionMinutes keeps ended sessions around for report retrieval.
	EndedRetentionMinutes int `koanf:"ended_retention_minutes"`

	// DetectorURL is the inference sidecar; empty runs without a detector.
	DetectorURL       string `koanf:"detector_url"`
	DetectorTimeoutMS int    `koanf:"detector_timeout_ms"`

	// JWTSecret enables bearer auth on the proctoring routes when set.
	JWTSecret string `koanf:"jwt_secret"`
	JWTIssuer string `koanf:"jwt_issuer"`

	// RedisAddr enables cross-instance live fan-out when set.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// LiveAllowedOrigins is a comma-separated list of browser origins allowed
	// to open live streams; empty means same host only, "*" means any.
	LiveAllowedOrigins string `koanf:"live_allowed_origins"`

	// PostgresDSN and S3Bucket each enable one archive target.
	PostgresDSN string `koanf:"postgres_dsn"`
	S3Region    string `koanf:"s3_region"`
	S3Bucket    string `koanf:"s3_bucket"`
	S3Prefix    string `koanf:"s3_prefix"`
}

// New returns a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		WorkerCount:           runtime.NumCPU(),
		QueueSize:             1024,
		DedupeSize:            50_000,
		ShardCount:            64,
		AnalysisTimeoutMS:     5000,
		IdentityCheckInterval: 30,
		MaxFrameBytes:         4 << 20,
		EndedRetentionMinutes: 60,
		DetectorTimeoutMS:     3000,
		S3Region:              "us-east-1",
		S3Prefix:              "proctor/reports",
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.IdentityCheckInterval < 0:
		return fmt.Errorf("%w: identity_check_interval must be >= 0", ErrInvalidConfig)
	case c.WorkerCount < 0:
		return fmt.Errorf("%w: worker_count must be >= 0", ErrInvalidConfig)
	case c.QueueSize < 0 || c.DedupeSize < 0 || c.ShardCount < 0:
		return fmt.Errorf("%w: sizes must be >= 0", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidConfig)
	case c.S3Bucket != "" && c.S3Region == "":
		return fmt.Errorf("%w: s3_region is required with s3_bucket", ErrInvalidConfig)
	}
	return nil
}

// AnalysisTimeout bounds one frame's detection round trip.
func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutMS) * time.Millisecond
}

// DetectorTimeout bounds one sidecar request.
func (c *Config) DetectorTimeout() time.Duration {
	return time.Duration(c.DetectorTimeoutMS) * time.Millisecond
}

// AllowedOrigins splits LiveAllowedOrigins.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.LiveAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// EndedRetention is how long ended sessions stay queryable.
func (c *Config) EndedRetention() time.Duration {
	return time.Duration(c.EndedRetentionMinutes) * time.Minute
}
