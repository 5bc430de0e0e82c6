package sarfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meigma/sarfs/http"
	"github.com/meigma/sarfs/internal/testutil"
	"github.com/meigma/sarfs/sar"
)

var sleepYielder = YieldFunc(func() { time.Sleep(time.Millisecond) })

// testSettings returns settings for an archive served at serverURL and
// mirrored into a fresh temp dir.
func testSettings(t *testing.T, serverURL string) Settings {
	t.Helper()
	s := DefaultSettings()
	s.InitialURL = serverURL + "/pkg.sar"
	s.PackagePath = filepath.Join(t.TempDir(), "pkg.sar")
	return s
}

func newTestFS(t *testing.T, settings Settings, opts ...Option) *FileSystem {
	t.Helper()
	base := []Option{
		WithTransport(http.NewManager(http.WithResendBackoff(time.Millisecond, 5*time.Millisecond))),
		WithYielder(sleepYielder),
		WithRetryDelay(10 * time.Millisecond),
	}
	fs, err := New(settings, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

// startFS starts the worker and waits for initialization.
func startFS(t *testing.T, fs *FileSystem) {
	t.Helper()
	fs.OnNetworkInitialize()
	require.True(t, fs.WaitForInit(10*time.Second), "initialization timed out")
}

// newTestWorker runs worker initialization on the test goroutine so tests
// can drive fetch sets directly.
func newTestWorker(t *testing.T, fs *FileSystem) *worker {
	t.Helper()
	fs.running.Store(true)
	t.Cleanup(func() {
		fs.running.Store(false)
		fs.requests.BlockingCancelAll()
	})
	w := &worker{fs: fs, ctx: context.Background(), table: make(map[sar.FilePath]*fetchEntry)}
	require.True(t, w.initialize())
	return w
}

func fetchEntriesFor(t *testing.T, pkg *sar.PackageFS, p Priority, paths ...sar.FilePath) []*fetchEntry {
	t.Helper()
	out := make([]*fetchEntry, 0, len(paths))
	for _, path := range paths {
		e, ok := pkg.Entry(path)
		require.True(t, ok, path.String())
		out = append(out, &fetchEntry{path: path, entry: e, priority: p})
	}
	sortFetchEntries(out)
	return out
}

func readPackage(t *testing.T, fs *FileSystem) []byte {
	t.Helper()
	data, err := os.ReadFile(fs.settings.PackagePath)
	require.NoError(t, err)
	return data
}

func entrySpan(t *testing.T, pkg *sar.PackageFS, path sar.FilePath) (uint64, uint64) {
	t.Helper()
	e, ok := pkg.Entry(path)
	require.True(t, ok, path.String())
	return e.Offset, e.End()
}

func newArchiveServer(t *testing.T, files []sar.BuildFile, opts ...sar.BuildOption) (*testutil.RangeServer, []byte) {
	t.Helper()
	data, _ := testutil.BuildArchive(t, files, opts...)
	return testutil.NewRangeServer(t, data), data
}
