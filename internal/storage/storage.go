package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates the requested object key does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrEmptyPrefix indicates a folder download matched zero objects.
	ErrEmptyPrefix = errors.New("no objects under prefix")
)

// StoreError wraps a failed remote operation with the context needed to diagnose it.
type StoreError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *StoreError) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("%s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("%s s3://%s: %v", e.Op, e.Bucket, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsNotFound reports whether err represents a missing remote object.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// DefaultPresignTTL is used when PresignGet is called with a non-positive ttl.
const DefaultPresignTTL = time.Hour

// FolderStats summarizes a DownloadFolder run.
type FolderStats struct {
	Objects int
	Bytes   int64
}

// ObjectStore is the set of remote operations used by the sync and serving layers.
type ObjectStore interface {
	ListBuckets(ctx context.Context) ([]string, error)
	CreateBucket(ctx context.Context, name string) error
	DeleteBucket(ctx context.Context, name string) error
	// UploadFile uploads one file; an empty objectName defaults to the file's basename.
	UploadFile(ctx context.Context, localPath, bucket, objectName string) error
	// ListObjects returns the keys of a single listing page.
	ListObjects(ctx context.Context, bucket string) ([]string, error)
	DownloadFile(ctx context.Context, key, bucket, localPath string) error
	// UploadFolder walks localDir and uploads every file to prefix/<basename>.
	UploadFolder(ctx context.Context, localDir, bucket, prefix string) (int, error)
	// DownloadFolder fetches every object under prefix into localDir/<basename>.
	DownloadFolder(ctx context.Context, bucket, prefix, localDir string) (FolderStats, error)
	DeleteObjects(ctx context.Context, bucket string) (int, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
