package evidence

import (
	"context"
	"fmt"
)

// StoreType selects the evidence backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// Config describes an evidence backend.
type Config struct {
	Type       StoreType `yaml:"type"`
	Dir        string    `yaml:"dir"`
	S3Bucket   string    `yaml:"s3Bucket"`
	S3Region   string    `yaml:"s3Region"`
	S3Endpoint string    `yaml:"s3Endpoint"`
	S3Prefix   string    `yaml:"s3Prefix"`
	GCSBucket  string    `yaml:"gcsBucket"`
	GCSPrefix  string    `yaml:"gcsPrefix"`
}

// NewStoreFromConfig builds the configured backend. An empty type means fs.
func NewStoreFromConfig(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case StoreTypeFS, "":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("evidence: dir is required for fs storage")
		}
		return NewFileStore(cfg.Dir)
	case StoreTypeS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("evidence: EVIDENCE_S3_BUCKET is required for S3 storage")
		}
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.S3Bucket,
			Region:   region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case StoreTypeGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("evidence: EVIDENCE_GCS_BUCKET is required for GCS storage")
		}
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("evidence: unsupported storage type %q", cfg.Type)
	}
}
