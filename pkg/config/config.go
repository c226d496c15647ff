// Package config loads actsafe configuration from the environment, optionally
// overlaid on a YAML file.
//
// Precedence, lowest first: built-in defaults, the YAML file named by
// ACTSAFE_CONFIG, then environment variables that are set.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/actsafe/pkg/evidence"
	"github.com/Mindburn-Labs/actsafe/pkg/replayguard"
)

// Storage backends for receipts and the spend ledger.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Replay-guard backends.
const (
	ReplayFile  = "file"
	ReplaySQL   = "sql"
	ReplayRedis = "redis"
)

// Config holds runtime configuration.
type Config struct {
	DataDir       string        `yaml:"dataDir"`
	Backend       string        `yaml:"backend"`
	DatabaseURL   string        `yaml:"databaseUrl"`
	ReplayBackend string        `yaml:"replayBackend"`
	RedisAddr     string        `yaml:"redisAddr"`
	ReplayTTL     time.Duration `yaml:"replayTtl"`
	PolicyPath    string        `yaml:"policy"`

	// BroadcastRPS throttles broadcasts to the external ledger.
	BroadcastRPS   float64 `yaml:"broadcastRps"`
	BroadcastBurst int     `yaml:"broadcastBurst"`

	// AttachMemoEvidence asks the collaborator to attach
	// "<MemoPrefix>:<requestId>:<evidenceHash>" to the built transaction.
	AttachMemoEvidence bool   `yaml:"attachMemoEvidence"`
	MemoPrefix         string `yaml:"memoPrefix"`

	Evidence evidence.Config `yaml:"evidence"`

	LogLevel     string `yaml:"logLevel"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DataDir:        ".actsafe",
		Backend:        BackendFile,
		ReplayBackend:  ReplayFile,
		ReplayTTL:      replayguard.DefaultTTL,
		BroadcastRPS:   5,
		BroadcastBurst: 1,
		MemoPrefix:     "shadowcommit",
		Evidence:       evidence.Config{Type: evidence.StoreTypeFS},
		LogLevel:       "INFO",
		ServiceName:    "actsafe",
	}
}

// Load builds the configuration from ACTSAFE_CONFIG (if set) and the
// environment, fills derived defaults and validates the result.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("ACTSAFE_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayEnv() error {
	setString(&c.DataDir, "ACTSAFE_DATA_DIR")
	setString(&c.Backend, "ACTSAFE_BACKEND")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.ReplayBackend, "ACTSAFE_REPLAY_BACKEND")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.PolicyPath, "ACTSAFE_POLICY")
	setString(&c.MemoPrefix, "ACTSAFE_MEMO_PREFIX")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.ServiceName, "OTEL_SERVICE_NAME")

	if v := os.Getenv("EVIDENCE_STORAGE_TYPE"); v != "" {
		c.Evidence.Type = evidence.StoreType(v)
	}
	setString(&c.Evidence.Dir, "EVIDENCE_DIR")
	setString(&c.Evidence.S3Bucket, "EVIDENCE_S3_BUCKET")
	setString(&c.Evidence.S3Region, "AWS_REGION")
	setString(&c.Evidence.S3Region, "EVIDENCE_S3_REGION")
	setString(&c.Evidence.S3Endpoint, "EVIDENCE_S3_ENDPOINT")
	setString(&c.Evidence.S3Prefix, "EVIDENCE_S3_PREFIX")
	setString(&c.Evidence.GCSBucket, "EVIDENCE_GCS_BUCKET")
	setString(&c.Evidence.GCSPrefix, "EVIDENCE_GCS_PREFIX")

	if v := os.Getenv("ACTSAFE_REPLAY_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ACTSAFE_REPLAY_TTL: %w", err)
		}
		c.ReplayTTL = d
	}
	if v := os.Getenv("ACTSAFE_BROADCAST_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: ACTSAFE_BROADCAST_RPS: %w", err)
		}
		c.BroadcastRPS = f
	}
	if v := os.Getenv("ACTSAFE_BROADCAST_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ACTSAFE_BROADCAST_BURST: %w", err)
		}
		c.BroadcastBurst = n
	}
	if v := os.Getenv("ACTSAFE_MEMO_EVIDENCE"); v != "" {
		c.AttachMemoEvidence = v == "true" || v == "1"
	}
	return nil
}

func (c *Config) fillDerived() {
	c.Backend = strings.ToLower(c.Backend)
	c.ReplayBackend = strings.ToLower(c.ReplayBackend)
	c.LogLevel = strings.ToUpper(c.LogLevel)
	if c.Backend == BackendSQLite && c.DatabaseURL == "" {
		c.DatabaseURL = filepath.Join(c.DataDir, "actsafe.db")
	}
	if c.Evidence.Type == evidence.StoreTypeFS && c.Evidence.Dir == "" {
		c.Evidence.Dir = filepath.Join(c.DataDir, "evidence")
	}
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFile, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unsupported backend %q", c.Backend)
	}
	switch c.ReplayBackend {
	case ReplayFile:
	case ReplaySQL:
		if c.Backend == BackendFile {
			return fmt.Errorf("config: the sql replay backend needs a sqlite or postgres backend")
		}
	case ReplayRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: REDIS_ADDR is required for the redis replay backend")
		}
	default:
		return fmt.Errorf("config: unsupported replay backend %q", c.ReplayBackend)
	}
	if c.ReplayTTL <= 0 {
		return fmt.Errorf("config: replay TTL must be positive")
	}
	if c.BroadcastRPS <= 0 || c.BroadcastBurst < 1 {
		return fmt.Errorf("config: broadcast rate must be positive with burst >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
