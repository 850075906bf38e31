package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/karrick/godirwalk"
	"go.uber.org/zap"

	"github.com/yourorg/model-serve/internal/metrics"
)

// s3API is the subset of the s3 client used here; allows test fakes.
type s3API interface {
	manager.UploadAPIClient
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Options configures NewS3.
type Options struct {
	// Endpoint overrides the S3 endpoint (MinIO, localstack).
	Endpoint       string
	ForcePathStyle bool
	// CallTimeout bounds every remote call; zero leaves calls unbounded.
	CallTimeout time.Duration
	Logger      *zap.Logger
}

// S3Client implements ObjectStore on top of aws-sdk-go-v2.
type S3Client struct {
	api       s3API
	presigner presignAPI
	uploader  *manager.Uploader
	region    string
	timeout   time.Duration
	log       *zap.Logger
}

var _ ObjectStore = (*S3Client)(nil)

// NewS3 creates an S3 client from the default AWS config chain.
// AWS_REGION and the shared credentials files are honored by the SDK itself.
func NewS3(ctx context.Context, opts Options) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})
	return newS3Client(client, s3.NewPresignClient(client), cfg.Region, opts), nil
}

func newS3Client(api s3API, presigner presignAPI, region string, opts Options) *S3Client {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &S3Client{
		api:       api,
		presigner: presigner,
		uploader:  manager.NewUploader(api),
		region:    region,
		timeout:   opts.CallTimeout,
		log:       log.Named("s3"),
	}
}

func (s *S3Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// fail logs a failed operation and returns it as a *StoreError.
func (s *S3Client) fail(op, bucket, key string, err error) error {
	if !errors.Is(err, ErrNotFound) && isNotFound(err) {
		err = fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	fields := []zap.Field{zap.String("op", op), zap.String("bucket", bucket), zap.String("key", key), zap.Error(err)}
	if errors.Is(err, ErrNotFound) {
		s.log.Warn("object not found", fields...)
	} else {
		s.log.Error("s3 operation failed", fields...)
	}
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return &StoreError{Op: op, Bucket: bucket, Key: key, Err: err}
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}

func (s *S3Client) ListBuckets(ctx context.Context) ([]string, error) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	out, err := s.api.ListBuckets(cctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, s.fail("list buckets", "", "", err)
	}
	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	return names, nil
}

// CreateBucket creates name unless it already exists.
func (s *S3Client) CreateBucket(ctx context.Context, name string) error {
	buckets, err := s.ListBuckets(ctx)
	if err != nil {
		return &StoreError{Op: "create bucket", Bucket: name, Err: err}
	}
	if slices.Contains(buckets, name) {
		s.log.Info("bucket already exists", zap.String("bucket", name))
		return nil
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if s.region != "" && s.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if _, err := s.api.CreateBucket(cctx, in); err != nil {
		return s.fail("create bucket", name, "", err)
	}
	s.log.Info("bucket created", zap.String("bucket", name))
	return nil
}

// DeleteBucket removes name if it exists.
func (s *S3Client) DeleteBucket(ctx context.Context, name string) error {
	buckets, err := s.ListBuckets(ctx)
	if err != nil {
		return &StoreError{Op: "delete bucket", Bucket: name, Err: err}
	}
	if !slices.Contains(buckets, name) {
		s.log.Info("bucket not found, nothing to delete", zap.String("bucket", name))
		return nil
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if _, err := s.api.DeleteBucket(cctx, &s3.DeleteBucketInput{Bucket: aws.String(name)}); err != nil {
		return s.fail("delete bucket", name, "", err)
	}
	s.log.Info("bucket deleted", zap.String("bucket", name))
	return nil
}

func (s *S3Client) UploadFile(ctx context.Context, localPath, bucket, objectName string) error {
	if objectName == "" {
		objectName = filepath.Base(localPath)
	}
	if err := s.put(ctx, localPath, bucket, objectName); err != nil {
		return s.fail("upload", bucket, objectName, err)
	}
	s.log.Info("uploaded file", zap.String("file", localPath), zap.String("bucket", bucket), zap.String("key", objectName))
	return nil
}

func (s *S3Client) put(ctx context.Context, localPath, bucket, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	_, err = s.uploader.Upload(cctx, &s3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key), Body: f})
	return err
}

// ListObjects returns the keys of the first listing page only. Buckets holding
// more than one page of objects are truncated; use DownloadFolder or
// DeleteObjects for full traversal.
func (s *S3Client) ListObjects(ctx context.Context, bucket string) ([]string, error) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	out, err := s.api.ListObjectsV2(cctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	if err != nil {
		return nil, s.fail("list objects", bucket, "", err)
	}
	keys := make([]string, 0, len(out.Contents))
	for _, o := range out.Contents {
		keys = append(keys, aws.ToString(o.Key))
	}
	if aws.ToBool(out.IsTruncated) {
		s.log.Warn("object listing truncated to first page", zap.String("bucket", bucket), zap.Int("keys", len(keys)))
	}
	return keys, nil
}

func (s *S3Client) DownloadFile(ctx context.Context, key, bucket, localPath string) error {
	if dir := filepath.Dir(localPath); dir != "." {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return s.fail("download", bucket, key, err)
			}
			s.log.Debug("created directory", zap.String("dir", dir))
		}
	}
	n, err := s.fetch(ctx, bucket, key, localPath)
	if err != nil {
		return s.fail("download", bucket, key, err)
	}
	s.log.Info("downloaded object",
		zap.String("bucket", bucket), zap.String("key", key),
		zap.String("file", localPath), zap.String("size", humanize.Bytes(uint64(n))))
	return nil
}

// fetch streams one object into dst through a temp file in the same directory.
func (s *S3Client) fetch(ctx context.Context, bucket, key, dst string) (int64, error) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	out, err := s.api.GetObject(cctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return 0, err
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, out.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	metrics.BytesDownloaded.Add(float64(n))
	return n, nil
}

// UploadFolder uploads every file under localDir, at any depth, to
// prefix/<basename>. Subdirectory structure is not kept in the key.
// Entries are visited in lexical order, so on basename collisions the last
// path walked wins.
func (s *S3Client) UploadFolder(ctx context.Context, localDir, bucket, prefix string) (int, error) {
	var uploaded int
	err := godirwalk.Walk(localDir, &godirwalk.Options{
		Callback: func(p string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			key := path.Join(prefix, de.Name())
			if err := s.put(ctx, p, bucket, key); err != nil {
				return &StoreError{Op: "upload folder", Bucket: bucket, Key: key, Err: err}
			}
			uploaded++
			s.log.Info("uploaded file", zap.String("file", p), zap.String("key", key))
			return nil
		},
	})
	if err != nil {
		var se *StoreError
		if errors.As(err, &se) {
			return uploaded, s.fail(se.Op, se.Bucket, se.Key, se.Err)
		}
		return uploaded, s.fail("upload folder", bucket, prefix, err)
	}
	return uploaded, nil
}

// DownloadFolder lists every page under prefix and downloads each object to
// localDir/<basename(key)>. Keys sharing a basename overwrite each other in
// listing order. Keys ending in "/" are folder placeholders and are skipped.
func (s *S3Client) DownloadFolder(ctx context.Context, bucket, prefix, localDir string) (FolderStats, error) {
	var stats FolderStats
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return stats, s.fail("download folder", bucket, prefix, err)
	}
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		cctx, cancel := s.callCtx(ctx)
		page, err := p.NextPage(cctx)
		cancel()
		if err != nil {
			return stats, s.fail("download folder", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			dst := filepath.Join(localDir, path.Base(key))
			n, err := s.fetch(ctx, bucket, key, dst)
			if err != nil {
				return stats, s.fail("download folder", bucket, key, err)
			}
			stats.Objects++
			stats.Bytes += n
			metrics.ObjectsDownloaded.Inc()
			s.log.Info("downloaded object", zap.String("key", key), zap.String("file", dst), zap.String("size", humanize.Bytes(uint64(n))))
		}
	}
	if stats.Objects == 0 {
		return stats, s.fail("download folder", bucket, prefix, ErrEmptyPrefix)
	}
	return stats, nil
}

// DeleteObjects removes every object in bucket, one bulk request per listing
// page. Per-object failures are collected and do not stop the batch.
func (s *S3Client) DeleteObjects(ctx context.Context, bucket string) (int, error) {
	var (
		deleted int
		errs    *multierror.Error
	)
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for p.HasMorePages() {
		cctx, cancel := s.callCtx(ctx)
		page, err := p.NextPage(cctx)
		cancel()
		if err != nil {
			return deleted, s.fail("delete objects", bucket, "", err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, o := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: o.Key})
		}
		cctx, cancel = s.callCtx(ctx)
		out, err := s.api.DeleteObjects(cctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: ids},
		})
		cancel()
		if err != nil {
			return deleted, s.fail("delete objects", bucket, "", err)
		}
		for _, e := range out.Errors {
			key := aws.ToString(e.Key)
			s.log.Error("error deleting object", zap.String("bucket", bucket), zap.String("key", key),
				zap.String("code", aws.ToString(e.Code)), zap.String("message", aws.ToString(e.Message)))
			errs = multierror.Append(errs, &StoreError{
				Op: "delete object", Bucket: bucket, Key: key,
				Err: fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message)),
			})
		}
		n := len(ids) - len(out.Errors)
		deleted += n
		s.log.Info("deleted objects", zap.String("bucket", bucket), zap.Int("count", n))
	}
	return deleted, errs.ErrorOrNil()
}

// PresignGet issues a time-limited GET URL for one object.
func (s *S3Client) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", s.fail("presign", bucket, key, err)
	}
	return req.URL, nil
}
