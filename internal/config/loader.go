package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "arbiter.yaml"

// Seed policies.
const (
	SeedPolicyFixed  = "fixed"
	SeedPolicyRandom = "random"
)

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadWithOverrides("", Overrides{})
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	return LoadWithOverrides(yamlPath, Overrides{})
}

// Overrides carries command-line values. Nil fields leave the config untouched.
type Overrides struct {
	Port      *string
	LogLevel  *string
	DSN       *string
	NatsURL   *string
	LedgerURL *string
	ModelURL  *string
	Threshold *float64
}

// LoadWithOverrides returns a Config using the hierarchy:
// defaults < YAML < ENV < CLI overrides.
func LoadWithOverrides(yamlPath string, o Overrides) (*Config, error) {
	if yamlPath == "" {
		yamlPath = DefaultConfigFile
		if p := os.Getenv("ARBITER_CONFIG"); p != "" {
			yamlPath = p
		}
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyOverrides(&cfg, o)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.Port != nil {
		cfg.Server.Port = *o.Port
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.DSN != nil {
		cfg.Postgres.DSN = *o.DSN
	}
	if o.NatsURL != nil {
		cfg.NATS.URL = *o.NatsURL
	}
	if o.LedgerURL != nil {
		cfg.Ledger.URL = *o.LedgerURL
	}
	if o.ModelURL != nil {
		cfg.Model.URL = *o.ModelURL
	}
	if o.Threshold != nil {
		cfg.Arbiter.ConfidenceThreshold = *o.Threshold
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ARBITER_PORT")
	setString(&cfg.Server.CORSOrigin, "ARBITER_CORS_ORIGIN")
	setString(&cfg.Server.APIKey, "ARBITER_API_KEY")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ARBITER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ARBITER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ARBITER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ARBITER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ARBITER_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setDuration(&cfg.Redis.LockTTL, "ARBITER_LOCK_TTL")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "ARBITER_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "ARBITER_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "ARBITER_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "ARBITER_CACHE_L2_TTL")

	// Ledger
	setString(&cfg.Ledger.URL, "ARBITER_LEDGER_URL")
	setString(&cfg.Ledger.APIKey, "ARBITER_LEDGER_API_KEY")
	setDuration(&cfg.Ledger.Timeout, "ARBITER_LEDGER_TIMEOUT")

	// Primary model
	setString(&cfg.Model.URL, "ARBITER_MODEL_URL")
	setString(&cfg.Model.APIKey, "ARBITER_MODEL_API_KEY")
	setString(&cfg.Model.Name, "ARBITER_MODEL_NAME")
	setInt(&cfg.Model.MaxTokens, "ARBITER_MODEL_MAX_TOKENS")
	setDuration(&cfg.Model.Timeout, "ARBITER_MODEL_TIMEOUT")
	setFloat64(&cfg.Model.RequestsPerSecond, "ARBITER_MODEL_RPS")

	// Replay model (independent credential)
	setString(&cfg.Replay.URL, "ARBITER_REPLAY_URL")
	setString(&cfg.Replay.APIKey, "ARBITER_REPLAY_API_KEY")
	setString(&cfg.Replay.Name, "ARBITER_REPLAY_MODEL_NAME")
	setInt(&cfg.Replay.MaxTokens, "ARBITER_REPLAY_MAX_TOKENS")
	setDuration(&cfg.Replay.Timeout, "ARBITER_REPLAY_TIMEOUT")
	setFloat64(&cfg.Replay.RequestsPerSecond, "ARBITER_REPLAY_RPS")

	// Evidence
	setString(&cfg.Evidence.IPFSGateway, "ARBITER_IPFS_GATEWAY")
	setDuration(&cfg.Evidence.FetchTimeout, "ARBITER_EVIDENCE_FETCH_TIMEOUT")
	setInt64(&cfg.Evidence.MaxBytes, "ARBITER_EVIDENCE_MAX_BYTES")
	setInt(&cfg.Evidence.Concurrency, "ARBITER_EVIDENCE_CONCURRENCY")
	setString(&cfg.Evidence.S3Bucket, "ARBITER_S3_BUCKET")
	setString(&cfg.Evidence.S3Region, "ARBITER_S3_REGION")
	setString(&cfg.Evidence.S3Endpoint, "ARBITER_S3_ENDPOINT")
	setString(&cfg.Evidence.S3Prefix, "ARBITER_S3_PREFIX")
	setString(&cfg.Evidence.GCSBucket, "ARBITER_GCS_BUCKET")
	setString(&cfg.Evidence.GCSPrefix, "ARBITER_GCS_PREFIX")

	// Arbiter
	setFloat64(&cfg.Arbiter.ConfidenceThreshold, "ARBITER_CONFIDENCE_THRESHOLD")
	setString(&cfg.Arbiter.SeedPolicy, "ARBITER_SEED_POLICY")
	setUint64(&cfg.Arbiter.Seed, "ARBITER_SEED")
	setInt(&cfg.Arbiter.MaxEntryChars, "ARBITER_MAX_ENTRY_CHARS")
	setInt(&cfg.Arbiter.MaxPromptChars, "ARBITER_MAX_PROMPT_CHARS")
	setString(&cfg.Arbiter.SystemPromptFile, "ARBITER_SYSTEM_PROMPT_FILE")
	setBool(&cfg.Arbiter.AutoRefund, "ARBITER_AUTO_REFUND")

	// Scheduler
	setBool(&cfg.Scheduler.Enabled, "ARBITER_SCHEDULER_ENABLED")
	setDuration(&cfg.Scheduler.Interval, "ARBITER_SCHEDULER_INTERVAL")
	setUint64(&cfg.Scheduler.LookbackBlocks, "ARBITER_SCHEDULER_LOOKBACK_BLOCKS")
	setDuration(&cfg.Scheduler.DisputeTimeout, "ARBITER_SCHEDULER_DISPUTE_TIMEOUT")
	setDuration(&cfg.Scheduler.EvaluationTimeout, "ARBITER_SCHEDULER_EVALUATION_TIMEOUT")

	setString(&cfg.Logging.Level, "ARBITER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ARBITER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ARBITER_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "ARBITER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ARBITER_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "ARBITER_RATE_RPS")
	setInt(&cfg.Rate.Burst, "ARBITER_RATE_BURST")
	setDuration(&cfg.Rate.MaxIdleTime, "ARBITER_RATE_MAX_IDLE_TIME")

	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "ARBITER_OTEL_INSECURE")

	setBool(&cfg.MCP.Enabled, "ARBITER_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "ARBITER_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "ARBITER_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Ledger.URL == "" {
		return errors.New("ledger.url is required")
	}
	if cfg.Model.URL == "" {
		return errors.New("model.url is required")
	}
	if cfg.Replay.URL == "" {
		return errors.New("replay.url is required")
	}
	if cfg.Replay.APIKey != "" && cfg.Replay.APIKey == cfg.Model.APIKey {
		return errors.New("replay.api_key must differ from model.api_key")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if t := cfg.Arbiter.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("arbiter.confidence_threshold must be within [0,1], got %v", t)
	}
	switch cfg.Arbiter.SeedPolicy {
	case SeedPolicyFixed, SeedPolicyRandom:
	default:
		return fmt.Errorf("arbiter.seed_policy must be %q or %q, got %q", SeedPolicyFixed, SeedPolicyRandom, cfg.Arbiter.SeedPolicy)
	}
	if cfg.Arbiter.MaxEntryChars < 1 {
		return errors.New("arbiter.max_entry_chars must be >= 1")
	}
	if cfg.Arbiter.MaxPromptChars < cfg.Arbiter.MaxEntryChars {
		return errors.New("arbiter.max_prompt_chars must be >= arbiter.max_entry_chars")
	}
	if cfg.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be > 0")
	}
	if cfg.Scheduler.DisputeTimeout <= 0 {
		return errors.New("scheduler.dispute_timeout must be > 0")
	}
	if cfg.Evidence.Concurrency < 1 {
		return errors.New("evidence.concurrency must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
