package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/worker"
)

// Publisher uploads artifacts under Bucket/Prefix.
type Publisher struct {
	Objects Store
	Bucket  string
	Prefix  string
	Worker  worker.Options
	// Logger receives one line per finished upload. Defaults to slog.Default().
	Logger  *slog.Logger
}

var _ core.OutputAdapter[[]core.Artifact] = (*Publisher)(nil)

// Key returns the object key of an artifact.
func (p *Publisher) Key(name string) string {
	prefix := strings.Trim(p.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Store uploads every artifact, retrying transient failures. Uploads are
// independent; a failure does not roll back objects that already landed.
func (p *Publisher) Store(ctx context.Context, artifacts []core.Artifact) error {
	if p.Objects == nil {
		return fmt.Errorf("object store is not configured")
	}
	if p.Bucket == "" {
		return core.Configf("publish-bucket", "is required")
	}
	ok, err := p.Objects.BucketExists(ctx, p.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.Bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", p.Bucket)
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	results, err := worker.ProcessAllWithCallback(ctx, artifacts, func(ctx context.Context, a core.Artifact) (string, error) {
		key := p.Key(a.Name)
		if err := p.Objects.PutObject(ctx, p.Bucket, key, a.Data, a.ContentType); err != nil {
			return key, fmt.Errorf("upload %s: %w", key, err)
		}
		return key, nil
	}, func(r worker.Result[core.Artifact, string]) {
		if r.Err != nil {
			logger.Warn("upload failed", "bucket", p.Bucket, "key", r.Output, "err", r.Err)
			return
		}
		logger.Info("uploaded artifact", "bucket", p.Bucket, "key", r.Output, "bytes", len(r.Input.Data))
	}, p.Worker)
	if err != nil {
		return err
	}
	return worker.Errors(results)
}
