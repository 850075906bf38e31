package presign

import (
	"context"
	"path/filepath"
	"time"
)

// Store is the upload and presign subset of storage.ObjectStore.
type Store interface {
	UploadFile(ctx context.Context, localPath, bucket, objectName string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Issuer exposes local files as time-limited remote URLs.
type Issuer struct {
	store Store
	ttl   time.Duration
}

func NewIssuer(store Store, ttl time.Duration) *Issuer {
	return &Issuer{store: store, ttl: ttl}
}

// Issue uploads localPath as objectName and returns a presigned GET URL for it.
// An empty objectName defaults to the file's basename.
func (i *Issuer) Issue(ctx context.Context, localPath, bucket, objectName string) (string, error) {
	if objectName == "" {
		objectName = filepath.Base(localPath)
	}
	if err := i.store.UploadFile(ctx, localPath, bucket, objectName); err != nil {
		return "", err
	}
	return i.store.PresignGet(ctx, bucket, objectName, i.ttl)
}
