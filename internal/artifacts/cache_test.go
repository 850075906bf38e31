package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/model-serve/internal/storage"
)

// fakeStore serves flat folders keyed by prefix and counts downloads.
type fakeStore struct {
	folders map[string]map[string]string
	fail    map[string]error
	calls   []string
}

func (f *fakeStore) DownloadFolder(ctx context.Context, bucket, prefix, localDir string) (storage.FolderStats, error) {
	f.calls = append(f.calls, prefix)
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return storage.FolderStats{}, err
	}
	if err := f.fail[prefix]; err != nil {
		return storage.FolderStats{}, err
	}
	files := f.folders[prefix]
	if len(files) == 0 {
		return storage.FolderStats{}, &storage.StoreError{Op: "download folder", Bucket: bucket, Key: prefix, Err: storage.ErrEmptyPrefix}
	}
	var st storage.FolderStats
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(localDir, name), []byte(body), 0o644); err != nil {
			return st, err
		}
		st.Objects++
		st.Bytes += int64(len(body))
	}
	return st, nil
}

type memRecorder struct{ got []Result }

func (m *memRecorder) Record(ctx context.Context, r Result) error {
	m.got = append(m.got, r)
	return nil
}

func descriptor(t *testing.T, name string) Descriptor {
	return Descriptor{Name: name, RemotePrefix: "ml-models/" + name + "/", LocalPath: filepath.Join(t.TempDir(), name)}
}

func newStore() *fakeStore {
	return &fakeStore{
		folders: map[string]map[string]string{
			"ml-models/sentiment/": {"config.json": "{}", "model.safetensors": "weights"},
			"ml-models/pose/":      {"config.json": "{}"},
		},
		fail: map[string]error{},
	}
}

func TestEnsurePresentDownloadsWhenAbsent(t *testing.T) {
	st := newStore()
	c := New(st, Options{})
	d := descriptor(t, "sentiment")
	require.Equal(t, Absent, c.Presence(d))

	res, err := c.EnsurePresent(context.Background(), "models", d, false)
	require.NoError(t, err)
	assert.True(t, res.Downloaded)
	assert.Equal(t, 2, res.Objects)
	assert.Equal(t, int64(len("{}")+len("weights")), res.Bytes)
	assert.Equal(t, Present, c.Presence(d))
	assert.FileExists(t, filepath.Join(d.LocalPath, "model.safetensors"))
}

func TestEnsurePresentIsIdempotent(t *testing.T) {
	st := newStore()
	c := New(st, Options{})
	d := descriptor(t, "sentiment")

	_, err := c.EnsurePresent(context.Background(), "models", d, false)
	require.NoError(t, err)
	res, err := c.EnsurePresent(context.Background(), "models", d, false)
	require.NoError(t, err)

	assert.False(t, res.Downloaded)
	assert.Len(t, st.calls, 1)
}

func TestEnsurePresentForceAlwaysDownloads(t *testing.T) {
	st := newStore()
	c := New(st, Options{})
	d := descriptor(t, "sentiment")

	for i := 0; i < 2; i++ {
		res, err := c.EnsurePresent(context.Background(), "models", d, true)
		require.NoError(t, err)
		assert.True(t, res.Downloaded)
		assert.True(t, res.Forced)
	}
	assert.Len(t, st.calls, 2)
}

func TestEnsurePresentTrustsExistingDirectory(t *testing.T) {
	st := newStore()
	c := New(st, Options{})
	d := descriptor(t, "sentiment")
	// an interrupted earlier download leaves an incomplete directory behind
	require.NoError(t, os.MkdirAll(d.LocalPath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(d.LocalPath, "config.json"), []byte("{}"), 0o644))

	res, err := c.EnsurePresent(context.Background(), "models", d, false)
	require.NoError(t, err)
	assert.False(t, res.Downloaded)
	assert.Empty(t, st.calls)
}

func TestEmptyDirectoryIsAbsent(t *testing.T) {
	st := newStore()
	c := New(st, Options{})
	d := descriptor(t, "sentiment")
	require.NoError(t, os.MkdirAll(d.LocalPath, 0o755))
	assert.Equal(t, Absent, c.Presence(d))

	res, err := c.EnsurePresent(context.Background(), "models", d, false)
	require.NoError(t, err)
	assert.True(t, res.Downloaded)
	assert.Len(t, st.calls, 1)
}

func TestFailedListingOnFreshPathIsRetriedNextStart(t *testing.T) {
	st := newStore()
	st.fail["ml-models/sentiment/"] = errors.New("InvalidAccessKeyId")
	c := New(st, Options{})
	d := descriptor(t, "sentiment")

	_, err := c.EnsurePresent(context.Background(), "models", d, false)
	require.Error(t, err)
	assert.NoDirExists(t, d.LocalPath)
	assert.Equal(t, Absent, c.Presence(d))

	delete(st.fail, "ml-models/sentiment/")
	res, err := c.EnsurePresent(context.Background(), "models", d, false)
	require.NoError(t, err)
	assert.True(t, res.Downloaded)
	assert.Len(t, st.calls, 2)
	assert.FileExists(t, filepath.Join(d.LocalPath, "model.safetensors"))
}

func TestFailedForcedSyncKeepsExistingDirectory(t *testing.T) {
	st := newStore()
	c := New(st, Options{})
	d := descriptor(t, "sentiment")
	_, err := c.EnsurePresent(context.Background(), "models", d, false)
	require.NoError(t, err)

	st.fail["ml-models/sentiment/"] = errors.New("connection reset")
	_, err = c.EnsurePresent(context.Background(), "models", d, true)
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(d.LocalPath, "model.safetensors"))
	assert.Equal(t, Present, c.Presence(d))
}

func TestEnsurePresentCompletionMarker(t *testing.T) {
	st := newStore()
	c := New(st, Options{CompletionMarker: true})
	d := descriptor(t, "sentiment")
	require.NoError(t, os.MkdirAll(d.LocalPath, 0o755))
	require.Equal(t, Absent, c.Presence(d))

	res, err := c.EnsurePresent(context.Background(), "models", d, false)
	require.NoError(t, err)
	assert.True(t, res.Downloaded)
	assert.FileExists(t, filepath.Join(d.LocalPath, MarkerFile))
	assert.Equal(t, Present, c.Presence(d))

	_, err = c.EnsurePresent(context.Background(), "models", d, false)
	require.NoError(t, err)
	assert.Len(t, st.calls, 1)
}

func TestEnsurePresentEmptyPrefixLeavesArtifactAbsent(t *testing.T) {
	st := newStore()
	c := New(st, Options{})
	d := descriptor(t, "disaster")

	_, err := c.EnsurePresent(context.Background(), "models", d, false)
	require.ErrorIs(t, err, storage.ErrEmptyPrefix)
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "disaster", se.Artifact)
	assert.Equal(t, "ml-models/disaster/", se.Prefix)
	assert.NoDirExists(t, d.LocalPath)
	assert.Equal(t, Absent, c.Presence(d))
}

func TestEnsureAllPresentStopsAtFirstFailure(t *testing.T) {
	st := newStore()
	boom := errors.New("connection reset")
	st.fail["ml-models/pose/"] = boom
	rec := &memRecorder{}
	c := New(st, Options{Recorder: rec})
	ds := []Descriptor{descriptor(t, "sentiment"), descriptor(t, "pose"), descriptor(t, "disaster")}

	results, err := c.EnsureAllPresent(context.Background(), "models", ds, false)
	require.ErrorIs(t, err, boom)
	assert.Len(t, results, 1)
	assert.Equal(t, []string{"ml-models/sentiment/", "ml-models/pose/"}, st.calls)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "sentiment", rec.got[0].Name)
}

func TestEnsureAllPresentInOrder(t *testing.T) {
	st := newStore()
	st.folders["ml-models/disaster/"] = map[string]string{"config.json": "{}"}
	c := New(st, Options{})
	ds := []Descriptor{descriptor(t, "pose"), descriptor(t, "disaster"), descriptor(t, "sentiment")}

	results, err := c.EnsureAllPresent(context.Background(), "models", ds, false)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"ml-models/pose/", "ml-models/disaster/", "ml-models/sentiment/"}, st.calls)
	for i, r := range results {
		assert.Equal(t, ds[i].Name, r.Name)
		assert.Equal(t, Present, c.Presence(ds[i]))
	}
}
