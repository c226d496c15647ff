//go:build !gcp

package evidence

import (
	"context"
	"fmt"
)

func newGCSStore(context.Context, Config) (Store, error) {
	return nil, fmt.Errorf("evidence: GCS storage is not enabled in this build (use -tags gcp)")
}
