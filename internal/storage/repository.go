package storage

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	"github.com/pablintino/deploy-executor/internal/config"
	"github.com/pablintino/deploy-executor/internal/utils"
)

const ErrArtifactNotFound = utils.ConstError("artifact not found")

// Repository resolves deployable artifacts by name from the configured
// artifacts bucket.
type Repository interface {
	Exists(ctx context.Context, name string) (bool, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Size(ctx context.Context, name string) (int64, error)
	Close() error
}

type blobRepository struct {
	bucket *blob.Bucket
}

func NewBlobRepository(artifactsConfig *config.ArtifactsConfig) (*blobRepository, error) {
	options := &fileblob.Options{NoTempDir: true}
	bucket, err := fileblob.OpenBucket(artifactsConfig.StoragePath, options)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open artifacts location %s: %v",
			utils.ErrConfig, artifactsConfig.StoragePath, err)
	}
	return &blobRepository{bucket: bucket}, nil
}

func (r *blobRepository) Exists(ctx context.Context, name string) (bool, error) {
	return r.bucket.Exists(ctx, name)
}

func (r *blobRepository) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	exists, err := r.bucket.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	return r.bucket.NewReader(ctx, name, nil)
}

func (r *blobRepository) Size(ctx context.Context, name string) (int64, error) {
	attrs, err := r.bucket.Attributes(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	return attrs.Size, nil
}

func (r *blobRepository) Close() error {
	return r.bucket.Close()
}
