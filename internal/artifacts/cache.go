// Package artifacts materializes model artifact directories from the object
// store before the serving layer binds inference engines to them.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/yourorg/model-serve/internal/metrics"
	"github.com/yourorg/model-serve/internal/storage"
)

// MarkerFile is written into an artifact directory after a complete download
// when completion markers are enabled.
const MarkerFile = ".sync-complete"

// Descriptor identifies one artifact's remote prefix and local directory.
type Descriptor struct {
	Name         string `json:"name"`
	RemotePrefix string `json:"remote_prefix"`
	LocalPath    string `json:"local_path"`
}

// PresenceState is derived from the filesystem on every check; nothing is cached.
type PresenceState int

const (
	Absent PresenceState = iota
	Present
)

func (s PresenceState) String() string {
	if s == Present {
		return "present"
	}
	return "absent"
}

// Result describes what one EnsurePresent call did.
type Result struct {
	Descriptor
	Downloaded bool          `json:"downloaded"`
	Forced     bool          `json:"forced"`
	Objects    int           `json:"objects"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
	// LastDownloaded is when the directory was last actually fetched. Zero
	// for a skip unless a Recorder carries it over from an earlier download.
	LastDownloaded time.Time `json:"last_downloaded,omitempty"`
}

// SyncError reports an artifact that could not be materialized.
type SyncError struct {
	Artifact string
	Prefix   string
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync artifact %s from prefix %q: %v", e.Artifact, e.Prefix, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Downloader is the part of the object store the cache drives.
type Downloader interface {
	DownloadFolder(ctx context.Context, bucket, prefix, localDir string) (storage.FolderStats, error)
}

// Recorder persists sync outcomes. Failures to record are logged, never fatal.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

type Options struct {
	// CompletionMarker makes presence require MarkerFile, so an interrupted
	// download is retried instead of being taken as complete.
	CompletionMarker bool
	Recorder         Recorder
	Logger           *zap.Logger
}

// Cache decides per artifact whether a download is needed and performs it.
// It holds no state of its own beyond its collaborators.
type Cache struct {
	store Downloader
	opts  Options
	log   *zap.Logger
}

func New(store Downloader, opts Options) *Cache {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{store: store, opts: opts, log: log.Named("artifacts")}
}

// Presence reports whether d.LocalPath is a non-empty directory. Without
// completion markers a partially populated directory counts as present.
func (c *Cache) Presence(d Descriptor) PresenceState {
	info, err := os.Stat(d.LocalPath)
	if err != nil || !info.IsDir() || isEmptyDir(d.LocalPath) {
		return Absent
	}
	if c.opts.CompletionMarker {
		if _, err := os.Stat(filepath.Join(d.LocalPath, MarkerFile)); err != nil {
			return Absent
		}
	}
	return Present
}

// EnsurePresent downloads d when it is absent or force is set.
// A failed download removes the directory if this call created it.
func (c *Cache) EnsurePresent(ctx context.Context, bucket string, d Descriptor, force bool) (Result, error) {
	res := Result{Descriptor: d, Forced: force}
	start := time.Now()
	log := c.log.With(zap.String("artifact", d.Name), zap.String("prefix", d.RemotePrefix), zap.String("path", d.LocalPath))

	if !force && c.Presence(d) == Present {
		log.Info("artifact already present, skipping download")
		metrics.ArtifactSyncs.WithLabelValues(d.Name, "skipped").Inc()
		res.FinishedAt = time.Now().UTC()
		c.record(ctx, res)
		return res, nil
	}

	_, statErr := os.Stat(d.LocalPath)
	existed := statErr == nil
	if c.opts.CompletionMarker {
		_ = os.Remove(filepath.Join(d.LocalPath, MarkerFile))
	}

	log.Info("downloading artifact", zap.Bool("force", force))
	stats, err := c.store.DownloadFolder(ctx, bucket, d.RemotePrefix, d.LocalPath)
	if err != nil {
		if !existed {
			if rerr := os.RemoveAll(d.LocalPath); rerr != nil {
				log.Warn("failed to remove partial artifact directory", zap.Error(rerr))
			}
		}
		metrics.ArtifactSyncs.WithLabelValues(d.Name, "failed").Inc()
		log.Error("artifact download failed", zap.Error(err))
		return res, &SyncError{Artifact: d.Name, Prefix: d.RemotePrefix, Err: err}
	}
	if c.opts.CompletionMarker {
		stamp := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
		if err := os.WriteFile(filepath.Join(d.LocalPath, MarkerFile), stamp, 0o644); err != nil {
			return res, &SyncError{Artifact: d.Name, Prefix: d.RemotePrefix, Err: fmt.Errorf("write completion marker: %w", err)}
		}
	}

	res.Downloaded = true
	res.Objects = stats.Objects
	res.Bytes = stats.Bytes
	res.Duration = time.Since(start)
	res.FinishedAt = time.Now().UTC()
	res.LastDownloaded = res.FinishedAt
	metrics.ArtifactSyncs.WithLabelValues(d.Name, "downloaded").Inc()
	metrics.SyncDuration.WithLabelValues(d.Name).Observe(res.Duration.Seconds())
	log.Info("artifact downloaded",
		zap.Int("objects", stats.Objects),
		zap.String("size", humanize.Bytes(uint64(stats.Bytes))),
		zap.Duration("took", res.Duration))
	c.record(ctx, res)
	return res, nil
}

// EnsureAllPresent runs EnsurePresent for each descriptor in order and stops
// at the first failure. Results for the artifacts handled so far are returned.
func (c *Cache) EnsureAllPresent(ctx context.Context, bucket string, ds []Descriptor, force bool) ([]Result, error) {
	results := make([]Result, 0, len(ds))
	for _, d := range ds {
		res, err := c.EnsurePresent(ctx, bucket, d, force)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func isEmptyDir(dir string) bool {
	f, err := os.Open(dir)
	if err != nil {
		return true
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	return errors.Is(err, io.EOF)
}

func (c *Cache) record(ctx context.Context, r Result) {
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.Record(ctx, r); err != nil {
		c.log.Warn("failed to record sync result", zap.String("artifact", r.Name), zap.Error(err))
	}
}
