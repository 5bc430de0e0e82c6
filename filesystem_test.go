package sarfs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/sarfs/internal/testutil"
	"github.com/meigma/sarfs/sar"
)

func TestFetchSingleFile(t *testing.T) {
	t.Parallel()
	files := testutil.Files(10, 500, 1)
	paths := testutil.Paths(files)
	srv, data := newArchiveServer(t, files)
	fs := newTestFS(t, testSettings(t, srv.URL))
	startFS(t, fs)

	assert.True(t, fs.IsNewPackage())
	for _, p := range paths {
		assert.False(t, fs.IsCrc32Ok(p))
	}

	require.NoError(t, fs.Fetch(paths[3], PriorityDefault))
	assert.True(t, fs.IsCrc32Ok(paths[3]))

	pkg := fs.pkg.Load()
	start, end := entrySpan(t, pkg, paths[3])
	assert.Equal(t, data[start:end], readPackage(t, fs)[start:end])

	got, err := fs.ReadAll(paths[3])
	require.NoError(t, err)
	assert.Equal(t, files[3].Data, got)

	size, ok := fs.FileSize(paths[3])
	assert.True(t, ok)
	assert.EqualValues(t, len(files[3].Data), size)
}

func TestFetchEverythingReportsProgress(t *testing.T) {
	t.Parallel()
	files := testutil.Files(25, 400, 2)
	paths := testutil.Paths(files)
	srv, _ := newArchiveServer(t, files)
	fs := newTestFS(t, testSettings(t, srv.URL))
	startFS(t, fs)

	var total uint64
	for _, p := range paths {
		e, _ := fs.pkg.Load().Entry(p)
		total += e.CompressedSize
	}

	var mu sync.Mutex
	var reports []uint64
	err := fs.FetchFiles(nil, PriorityDefault, func(gotTotal, soFar uint64) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, total, gotTotal)
		reports = append(reports, soFar)
	})
	require.NoError(t, err)

	require.NotEmpty(t, reports)
	assert.IsNonDecreasing(t, reports)
	assert.Equal(t, total, reports[len(reports)-1])
	for _, p := range paths {
		assert.True(t, fs.IsCrc32Ok(p), p.String())
	}
	assert.Eventually(t, func() bool { return !fs.HasWork() }, 5*time.Second, 5*time.Millisecond)

	stats := fs.Stats()
	assert.Equal(t, len(paths), stats.VerifiedFiles)
	assert.Equal(t, len(paths), stats.TotalFiles)
}

func TestPrefetchEverything(t *testing.T) {
	t.Parallel()
	files := testutil.Files(15, 300, 3)
	paths := testutil.Paths(files)
	srv, _ := newArchiveServer(t, files)
	fs := newTestFS(t, testSettings(t, srv.URL))
	startFS(t, fs)

	require.NoError(t, fs.PrefetchFiles(nil, PriorityLow))
	assert.Eventually(t, func() bool {
		for _, p := range paths {
			if !fs.IsCrc32Ok(p) {
				return false
			}
		}
		return true
	}, 10*time.Second, 5*time.Millisecond)

	// Everything is verified, so nothing is queued.
	require.NoError(t, fs.PrefetchFiles(nil, PriorityHigh))
	assert.False(t, fs.tasks.hasEntries())
}

func TestShutdownUnblocksFetch(t *testing.T) {
	t.Parallel()
	files := testutil.Files(10, 500, 4)
	paths := testutil.Paths(files)
	srv, _ := newArchiveServer(t, files)
	fs := newTestFS(t, testSettings(t, srv.URL))
	startFS(t, fs)

	srv.SetBlocking(true)
	errCh := make(chan error, 1)
	go func() { errCh <- fs.Fetch(paths[7], PriorityHigh) }()

	assert.Eventually(t, func() bool { return fs.HasWork() }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	fs.OnNetworkShutdown()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrShutdown)
	case <-time.After(5 * time.Second):
		t.Fatal("Fetch did not return after shutdown")
	}
	assert.False(t, fs.IsCrc32Ok(paths[7]))
	assert.True(t, fs.IsInitialized())
}

func TestRestartResumesFromDisk(t *testing.T) {
	t.Parallel()
	files := testutil.Files(8, 300, 5)
	paths := testutil.Paths(files)
	srv, _ := newArchiveServer(t, files)
	fs := newTestFS(t, testSettings(t, srv.URL))
	startFS(t, fs)

	require.NoError(t, fs.Fetch(paths[2], PriorityDefault))
	fs.OnNetworkShutdown()

	before := len(srv.Ranges())
	startFS(t, fs)
	assert.False(t, fs.IsNewPackage())
	assert.True(t, fs.IsCrc32Ok(paths[2]))
	assert.False(t, fs.IsCrc32Ok(paths[5]))
	// Only the header is requested when the local archive is current.
	assert.Len(t, srv.Ranges()[before:], 1)

	require.NoError(t, fs.Fetch(paths[5], PriorityDefault))
}

func TestFetchSurvivesFaults(t *testing.T) {
	t.Parallel()
	files := testutil.Files(12, 800, 6)
	paths := testutil.Paths(files)
	srv, _ := newArchiveServer(t, files, sar.WithObfuscation(true), sar.WithCompressedFileTable(true))
	fs := newTestFS(t, testSettings(t, srv.URL))
	srv.FailNext(2)
	startFS(t, fs)

	srv.DropNextAfter(10)
	srv.FailNext(1)
	e, _ := fs.pkg.Load().Entry(paths[6])
	srv.CorruptOnce(e.Offset)

	got, err := fs.ReadAll(paths[6])
	require.NoError(t, err)
	assert.Equal(t, files[6].Data, got)

	f, err := fs.Open(paths[7])
	require.NoError(t, err)
	defer f.Close()
	assert.EqualValues(t, len(files[7].Data), f.Size())
}

func TestCompressionDictionaryFetchedAtInit(t *testing.T) {
	t.Parallel()
	files := testutil.Files(6, 600, 7)
	paths := testutil.Paths(files)
	dict := make([]byte, 0, 512)
	for i := range 512 {
		dict = append(dict, byte(i/7)^7)
	}
	srv, _ := newArchiveServer(t, files, sar.WithCompressionDict(dict))
	fs := newTestFS(t, testSettings(t, srv.URL))
	startFS(t, fs)

	assert.True(t, fs.IsCrc32Ok(sar.CompressionDictPath))
	assert.True(t, fs.pkg.Load().IsCompressionDictProcessed())

	got, err := fs.ReadAll(paths[4])
	require.NoError(t, err)
	assert.Equal(t, files[4].Data, got)
}

func TestCallerErrors(t *testing.T) {
	t.Parallel()
	files := testutil.Files(3, 100, 8)
	paths := testutil.Paths(files)
	srv, _ := newArchiveServer(t, files)
	fs := newTestFS(t, testSettings(t, srv.URL))

	assert.ErrorIs(t, fs.Prefetch(paths[0], PriorityDefault), ErrNotInitialized)
	assert.ErrorIs(t, fs.Fetch(paths[0], PriorityDefault), ErrNotInitialized)
	assert.ErrorIs(t, fs.PrefetchFiles(nil, PriorityDefault), ErrNotInitialized)
	assert.False(t, fs.IsInitializationStarted())
	assert.False(t, fs.WaitForInit(time.Millisecond))

	startFS(t, fs)
	assert.True(t, fs.IsInitializationStarted())
	assert.True(t, fs.IsInitializationComplete())

	missing := sar.FilePath{Directory: sar.GameDirectoryContent, Type: sar.FileTypeText, Name: "missing"}
	assert.ErrorIs(t, fs.Prefetch(missing, PriorityDefault), ErrNotExist)
	assert.ErrorIs(t, fs.Fetch(missing, PriorityDefault), ErrNotExist)
	assert.ErrorIs(t, fs.PrefetchFiles([]sar.FilePath{missing}, PriorityDefault), ErrNoFiles)
	_, err := fs.ReadAll(missing)
	assert.ErrorIs(t, err, ErrNotExist)

	assert.False(t, fs.Exists(missing))
	assert.True(t, fs.Exists(paths[1]))
	assert.True(t, fs.IsServicedByNetwork(paths[1]))
	h, ok := fs.Header()
	assert.True(t, ok)
	assert.EqualValues(t, 3, h.TotalEntries)
	assert.Equal(t, 3, fs.FileTable().Len())
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	files := testutil.Files(4, 200, 9)
	paths := testutil.Paths(files)
	srv, _ := newArchiveServer(t, files)
	reg := prometheus.NewRegistry()
	fs := newTestFS(t, testSettings(t, srv.URL), WithRegisterer(reg))
	startFS(t, fs)
	require.NoError(t, fs.Fetch(paths[0], PriorityDefault))

	m := fs.stats.metrics
	assert.Eventually(t, func() bool {
		return promtest.ToFloat64(m.verifiedFiles) >= 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, promtest.ToFloat64(m.requestsIssued), 3.0)
	assert.Equal(t, promtest.ToFloat64(m.requestsIssued), promtest.ToFloat64(m.requestsCompleted))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.events.WithLabelValues(EventBootstrap)))
	assert.Positive(t, promtest.ToFloat64(m.bytes))

	_, err := New(fs.settings, WithRegisterer(reg))
	var already prometheus.AlreadyRegisteredError
	assert.True(t, errors.As(err, &already))
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	t.Parallel()
	_, err := New(DefaultSettings())
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestQueriesWithoutInstalledPackage(t *testing.T) {
	t.Parallel()
	files := testutil.Files(3, 100, 10)
	paths := testutil.Paths(files)
	srv, _ := newArchiveServer(t, files)
	fs := newTestFS(t, testSettings(t, srv.URL))

	// An initialized flag without an archive is what a concurrent Close
	// leaves behind for a moment.
	fs.initialized.Store(true)
	assert.ErrorIs(t, fs.Prefetch(paths[0], PriorityDefault), ErrNotInitialized)
	assert.ErrorIs(t, fs.PrefetchFiles(paths, PriorityDefault), ErrNotInitialized)
	assert.ErrorIs(t, fs.FetchFiles(nil, PriorityDefault, nil), ErrNotInitialized)
	assert.False(t, fs.Exists(paths[0]))
	_, ok := fs.FileSize(paths[0])
	assert.False(t, ok)
	_, ok = fs.ModifiedTime(paths[0])
	assert.False(t, ok)
	assert.False(t, fs.IsDirectory(sar.FilePath{Directory: sar.GameDirectoryContent, Name: "files"}))
	_, err := fs.DirectoryListing(sar.FilePath{Directory: sar.GameDirectoryContent}, sar.ListOptions{})
	assert.ErrorIs(t, err, ErrNotInitialized)

	fs.initialized.Store(false)
	startFS(t, fs)
	require.NoError(t, fs.Fetch(paths[1], PriorityDefault))
	require.NoError(t, fs.Close())
	assert.ErrorIs(t, fs.Prefetch(paths[0], PriorityDefault), ErrNotInitialized)
	_, err = fs.ReadAll(paths[1])
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDirectoryQueries(t *testing.T) {
	t.Parallel()
	stamp := time.Date(2023, 11, 5, 8, 30, 0, 0, time.UTC)
	mk := func(rel, data string) sar.BuildFile {
		p, err := sar.NewFilePath(sar.GameDirectoryContent, rel)
		require.NoError(t, err)
		return sar.BuildFile{Path: p, Data: []byte(data), ModTime: stamp}
	}
	files := []sar.BuildFile{
		mk("textures/hero.tex0", "hero"),
		mk("textures/ui/icon.tex0", "icon"),
		mk("scripts/boot.lua", "boot()"),
	}
	srv, _ := newArchiveServer(t, files)
	fs := newTestFS(t, testSettings(t, srv.URL))
	startFS(t, fs)

	textures := sar.FilePath{Directory: sar.GameDirectoryContent, Name: "textures"}
	assert.True(t, fs.IsDirectory(textures))
	assert.False(t, fs.IsDirectory(files[0].Path))

	listed, err := fs.DirectoryListing(textures, sar.ListOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, []sar.FilePath{files[0].Path, files[1].Path}, listed)
	for _, p := range listed {
		assert.False(t, fs.IsCrc32Ok(p), "listing must not download %s", p)
	}

	mod, ok := fs.ModifiedTime(files[2].Path)
	require.True(t, ok)
	assert.True(t, mod.Equal(stamp))
}
