// Package config provides hierarchical configuration loading for the arbiter.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the arbiter service.
type Config struct {
	Server    Server    `yaml:"server"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	Redis     Redis     `yaml:"redis"`
	Cache     Cache     `yaml:"cache"`
	Ledger    Ledger    `yaml:"ledger"`
	Model     Model     `yaml:"model"`
	Replay    Model     `yaml:"replay"`
	Evidence  Evidence  `yaml:"evidence"`
	Arbiter   Arbiter   `yaml:"arbiter"`
	Scheduler Scheduler `yaml:"scheduler"`
	Logging   Logging   `yaml:"logging"`
	Breaker   Breaker   `yaml:"breaker"`
	Rate      Rate      `yaml:"rate"`
	Telemetry Telemetry `yaml:"telemetry"`
	MCP       MCP       `yaml:"mcp"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	APIKey     string `yaml:"api_key"` // Bearer key for write endpoints; empty disables auth
}

// Postgres holds PostgreSQL connection configuration.
// An empty DSN runs the arbiter without the payments table and evaluation audit.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables events and the L2 cache.
type NATS struct {
	URL string `yaml:"url"`
}

// Redis holds the distributed lock backend. An empty address uses in-process locks only.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// Cache holds the payment and evidence cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L1TTL       time.Duration `yaml:"l1_ttl"`
	L2Bucket    string        `yaml:"l2_bucket"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
}

// Ledger holds the escrow ledger relayer gateway configuration.
type Ledger struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Model holds an OpenAI-compatible inference endpoint configuration.
type Model struct {
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"api_key"`
	Name              string        `yaml:"name"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// Evidence holds content-store configuration.
type Evidence struct {
	IPFSGateway  string        `yaml:"ipfs_gateway"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	MaxBytes     int64         `yaml:"max_bytes"`
	Concurrency  int           `yaml:"concurrency"`
	S3Bucket     string        `yaml:"s3_bucket"`
	S3Region     string        `yaml:"s3_region"`
	S3Endpoint   string        `yaml:"s3_endpoint"`
	S3Prefix     string        `yaml:"s3_prefix"`
	GCSBucket    string        `yaml:"gcs_bucket"`
	GCSPrefix    string        `yaml:"gcs_prefix"`
}

// Arbiter holds the decision and prompt configuration.
type Arbiter struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	SeedPolicy          string  `yaml:"seed_policy"` // "fixed" | "random"
	Seed                uint64  `yaml:"seed"`
	MaxEntryChars       int     `yaml:"max_entry_chars"`
	MaxPromptChars      int     `yaml:"max_prompt_chars"`
	SystemPromptFile    string  `yaml:"system_prompt_file"`
	AutoRefund          bool    `yaml:"auto_refund"`
}

// Scheduler holds the auto-evaluation loop configuration.
type Scheduler struct {
	Enabled           bool          `yaml:"enabled"`
	Interval          time.Duration `yaml:"interval"`
	LookbackBlocks    uint64        `yaml:"lookback_blocks"`
	DisputeTimeout    time.Duration `yaml:"dispute_timeout"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds the per-IP API rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Telemetry holds OpenTelemetry exporter configuration. Empty endpoint disables export.
type Telemetry struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// MCP holds the Model Context Protocol server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	APIKey  string `yaml:"api_key"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Redis: Redis{
			LockTTL: 5 * time.Minute,
		},
		Cache: Cache{
			L1MaxSizeMB: 64,
			L1TTL:       10 * time.Minute,
			L2Bucket:    "arbiter-cache",
			L2TTL:       24 * time.Hour,
		},
		Ledger: Ledger{
			URL:     "http://localhost:8545",
			Timeout: 30 * time.Second,
		},
		Model: Model{
			URL:               "http://localhost:4000",
			Name:              "gpt-oss-120b-f16",
			MaxTokens:         2048,
			Timeout:           2 * time.Minute,
			RequestsPerSecond: 2,
		},
		Replay: Model{
			URL:               "http://localhost:4000",
			Name:              "gpt-oss-120b-f16",
			MaxTokens:         2048,
			Timeout:           2 * time.Minute,
			RequestsPerSecond: 1,
		},
		Evidence: Evidence{
			IPFSGateway:  "https://ipfs.io",
			FetchTimeout: 15 * time.Second,
			MaxBytes:     1 << 20,
			Concurrency:  4,
			S3Region:     "us-east-1",
			S3Prefix:     "evidence/",
			GCSPrefix:    "evidence/",
		},
		Arbiter: Arbiter{
			ConfidenceThreshold: 0.7,
			SeedPolicy:          "fixed",
			Seed:                42,
			MaxEntryChars:       8000,
			MaxPromptChars:      48000,
			AutoRefund:          true,
		},
		Scheduler: Scheduler{
			Enabled:           true,
			Interval:          30 * time.Second,
			LookbackBlocks:    50000,
			DisputeTimeout:    3 * time.Minute,
			EvaluationTimeout: 15 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "x402r-arbiter",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			RequestsPerSecond: 5,
			Burst:             20,
			MaxIdleTime:       10 * time.Minute,
		},
		MCP: MCP{
			Addr: ":3001",
		},
	}
}
