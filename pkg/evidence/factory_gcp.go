//go:build gcp

package evidence

import "context"

func newGCSStore(ctx context.Context, cfg Config) (Store, error) {
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
}
