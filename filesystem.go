package sarfs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/sarfs/http"
	"github.com/meigma/sarfs/internal/signal"
	"github.com/meigma/sarfs/sar"
)

// ProgressFunc receives the total compressed size of a batch and how much
// of it is verified so far.
type ProgressFunc func(total, soFar uint64)

// FileSystem serves files from a local archive that is downloaded on demand
// from a remote copy.
//
// A FileSystem is idle until OnNetworkInitialize starts its worker. Fetch,
// Prefetch, Open and ReadAll are safe for concurrent use.
type FileSystem struct {
	settings       Settings
	logger         *slog.Logger
	transport      http.Transport
	yielder        Yielder
	policy         PriorityPolicy
	retryDelay     time.Duration
	packageOptions []sar.Option
	registerer     prometheus.Registerer

	url      *urlState
	requests *http.RequestList
	signal   *signal.Signal
	crc      *crc32Table
	tasks    *taskQueue
	window   *downloadWindow
	stats    *statTracker

	pkg atomic.Pointer[sar.PackageFS]

	running      atomic.Bool
	initStarted  atomic.Bool
	initComplete atomic.Bool
	initialized  atomic.Bool
	newPackage   atomic.Bool
	writeFailure atomic.Bool
	residentWork atomic.Bool

	mu         sync.Mutex
	cancel     context.CancelFunc
	workerDone chan struct{}
}

// New returns an idle FileSystem for settings.
func New(settings Settings, opts ...Option) (*FileSystem, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	fs := &FileSystem{
		settings:   settings,
		yielder:    GoschedYielder,
		policy:     DefaultPriorityPolicy,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(fs)
	}
	if fs.transport == nil {
		fs.transport = http.NewManager(http.WithLogger(fs.logger))
	}
	stats, err := newStatTracker(fs.registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	fs.stats = stats
	fs.url = newURLState(settings.InitialURL)
	fs.requests = http.NewRequestList()
	fs.signal = signal.New()
	fs.crc = newCrc32Table()
	fs.tasks = newTaskQueue()
	fs.window = newDownloadWindow(settings.LowerBoundMaxSizePerDownload,
		settings.UpperBoundMaxSizePerDownload, settings.TargetPerDownloadTime)
	fs.packageOptions = append([]sar.Option{sar.WithLogger(fs.logger)}, fs.packageOptions...)
	return fs, nil
}

func (fs *FileSystem) log() *slog.Logger {
	if fs.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return fs.logger
}

// openPackage opens the local archive for the worker.
func (fs *FileSystem) openPackage(path string) *sar.PackageFS {
	opts := append([]sar.Option{sar.WithWritable(), sar.WithTolerateIncomplete()}, fs.packageOptions...)
	return sar.Open(path, opts...)
}

// installPackage publishes pkg to callers, closing any previous archive.
func (fs *FileSystem) installPackage(pkg *sar.PackageFS) {
	if prev := fs.pkg.Swap(pkg); prev != nil && prev != pkg {
		_ = prev.Close()
	}
	fs.initialized.Store(true)
}

// loaded returns the installed archive, or nil before initialization and
// after Close.
func (fs *FileSystem) loaded() *sar.PackageFS {
	if !fs.initialized.Load() {
		return nil
	}
	return fs.pkg.Load()
}

func (fs *FileSystem) updateProgress() {
	verified, total := fs.crc.counts()
	fs.stats.progress(verified, total, fs.window.current())
}

// OnNetworkInitialize starts the worker. It does nothing if the worker is
// already running.
func (fs *FileSystem) OnNetworkInitialize() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.running.Load() {
		return
	}
	fs.requests.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	fs.cancel = cancel
	fs.initComplete.Store(false)
	fs.running.Store(true)
	fs.initStarted.Store(true)
	fs.workerDone = make(chan struct{})
	fs.log().Info("network initialize", slog.String("url", fs.settings.InitialURL))
	go fs.runWorker(ctx, fs.workerDone)
}

// OnNetworkShutdown stops the worker, cancels in-flight requests and waits
// for the worker to exit. Blocked Fetch calls return ErrShutdown. Verified
// files remain readable.
func (fs *FileSystem) OnNetworkShutdown() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.running.Load() {
		return
	}
	fs.running.Store(false)
	fs.cancel()
	fs.requests.BlockingCancelAll()
	fs.signal.Activate()
	<-fs.workerDone
	fs.log().Info("network shutdown")
}

// Close shuts the network down and releases the archive.
func (fs *FileSystem) Close() error {
	fs.OnNetworkShutdown()
	fs.initialized.Store(false)
	if pkg := fs.pkg.Swap(nil); pkg != nil {
		return pkg.Close()
	}
	return nil
}

// Fetch queues path and blocks, yielding, until it is verified.
func (fs *FileSystem) Fetch(path sar.FilePath, p Priority) error {
	if err := fs.Prefetch(path, p); err != nil {
		return err
	}
	for !fs.crc.isOk(path) {
		if !fs.running.Load() {
			return ErrShutdown
		}
		fs.yielder.Yield()
	}
	return nil
}

// FetchFiles queues paths and blocks until all are verified. An empty list
// means every file. progress, if not nil, is called whenever the verified
// byte count changes, ending with soFar equal to total.
func (fs *FileSystem) FetchFiles(paths []sar.FilePath, p Priority, progress ProgressFunc) error {
	if err := fs.PrefetchFiles(paths, p); err != nil {
		return err
	}
	pkg := fs.loaded()
	if pkg == nil {
		return ErrNotInitialized
	}
	if len(paths) == 0 {
		paths = pkg.FileTable().Paths()
	}
	type sized struct {
		path sar.FilePath
		size uint64
	}
	batch := make([]sized, 0, len(paths))
	var total uint64
	for _, path := range paths {
		if e, ok := pkg.Entry(path); ok {
			batch = append(batch, sized{path, e.CompressedSize})
			total += e.CompressedSize
		}
	}

	reported := false
	var last uint64
	for {
		var soFar uint64
		done := true
		for _, b := range batch {
			if fs.crc.isOk(b.path) {
				soFar += b.size
			} else {
				done = false
			}
		}
		if progress != nil && (!reported || soFar != last) {
			progress(total, soFar)
			reported, last = true, soFar
		}
		if done {
			return nil
		}
		if !fs.running.Load() {
			return ErrShutdown
		}
		fs.yielder.Yield()
	}
}

// Prefetch queues path without waiting.
func (fs *FileSystem) Prefetch(path sar.FilePath, p Priority) error {
	pkg := fs.loaded()
	if pkg == nil {
		return ErrNotInitialized
	}
	if !pkg.Exists(path) {
		return fmt.Errorf("%w: %s", ErrNotExist, path)
	}
	if fs.crc.isOk(path) {
		return nil
	}
	fs.tasks.fetch(path, p)
	fs.signal.Activate()
	return nil
}

// PrefetchFiles queues paths without waiting. An empty list means every
// file. Paths not in the archive are ignored; ErrNoFiles is returned if none
// remain.
func (fs *FileSystem) PrefetchFiles(paths []sar.FilePath, p Priority) error {
	pkg := fs.loaded()
	if pkg == nil {
		return ErrNotInitialized
	}
	if len(paths) == 0 {
		paths = pkg.FileTable().Paths()
	}
	var pending []sar.FilePath
	found := false
	for _, path := range paths {
		if !pkg.Exists(path) {
			continue
		}
		found = true
		if !fs.crc.isOk(path) {
			pending = append(pending, path)
		}
	}
	if !found {
		return ErrNoFiles
	}
	if len(pending) == 0 {
		return nil
	}
	fs.tasks.fetchAll(pending, p)
	fs.signal.Activate()
	return nil
}

// Open fetches path at its implicit priority and opens it.
func (fs *FileSystem) Open(path sar.FilePath) (*sar.File, error) {
	if err := fs.Fetch(path, fs.implicitPriority(path)); err != nil {
		return nil, err
	}
	pkg := fs.loaded()
	if pkg == nil {
		return nil, ErrNotInitialized
	}
	return pkg.Open(path)
}

// ReadAll fetches path at its implicit priority and returns its contents.
func (fs *FileSystem) ReadAll(path sar.FilePath) ([]byte, error) {
	if err := fs.Fetch(path, fs.implicitPriority(path)); err != nil {
		return nil, err
	}
	pkg := fs.loaded()
	if pkg == nil {
		return nil, ErrNotInitialized
	}
	return pkg.ReadAll(path)
}

func (fs *FileSystem) implicitPriority(path sar.FilePath) Priority {
	return fs.policy(path, fs.IsServicedByNetwork)
}

// WaitForInit blocks, yielding, until initialization completes or timeout
// elapses. A zero timeout waits until the worker stops.
func (fs *FileSystem) WaitForInit(timeout time.Duration) bool {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for !fs.initComplete.Load() {
		if !fs.running.Load() {
			return fs.IsInitialized()
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		fs.yielder.Yield()
	}
	return true
}

// IsServicedByNetwork reports whether path is served from the archive.
func (fs *FileSystem) IsServicedByNetwork(path sar.FilePath) bool {
	return fs.Exists(path)
}

// HasWork reports whether fetches are queued or in progress.
func (fs *FileSystem) HasWork() bool {
	return fs.tasks.hasEntries() || fs.residentWork.Load()
}

// HasExperiencedWriteFailure reports whether the last bootstrap write to the
// local archive failed.
func (fs *FileSystem) HasExperiencedWriteFailure() bool {
	return fs.writeFailure.Load()
}

// IsNewPackage reports whether bootstrap replaced the local archive.
func (fs *FileSystem) IsNewPackage() bool {
	return fs.newPackage.Load()
}

// IsInitialized reports whether an archive and its verification state are
// loaded. It stays true after shutdown.
func (fs *FileSystem) IsInitialized() bool {
	return fs.initialized.Load()
}

// IsInitializationStarted reports whether OnNetworkInitialize was called.
func (fs *FileSystem) IsInitializationStarted() bool {
	return fs.initStarted.Load()
}

// IsInitializationComplete reports whether the running worker finished
// bootstrap, the CRC scan, populating and the compression dictionary.
func (fs *FileSystem) IsInitializationComplete() bool {
	return fs.initComplete.Load()
}

// IsCrc32Ok reports whether path is verified.
func (fs *FileSystem) IsCrc32Ok(path sar.FilePath) bool {
	return fs.IsInitialized() && fs.crc.isOk(path)
}

// Exists reports whether path is in the archive.
func (fs *FileSystem) Exists(path sar.FilePath) bool {
	pkg := fs.loaded()
	return pkg != nil && pkg.Exists(path)
}

// FileSize returns the uncompressed size of path.
func (fs *FileSystem) FileSize(path sar.FilePath) (uint64, bool) {
	pkg := fs.loaded()
	if pkg == nil {
		return 0, false
	}
	e, ok := pkg.Entry(path)
	return e.UncompressedSize, ok
}

// ModifiedTime returns the recorded modification time of path. It does not
// wait for the file to download.
func (fs *FileSystem) ModifiedTime(path sar.FilePath) (time.Time, bool) {
	pkg := fs.loaded()
	if pkg == nil {
		return time.Time{}, false
	}
	return pkg.ModifiedTime(path)
}

// IsDirectory reports whether dir holds files in the archive.
func (fs *FileSystem) IsDirectory(dir sar.FilePath) bool {
	pkg := fs.loaded()
	return pkg != nil && pkg.IsDirectory(dir)
}

// DirectoryListing lists the archive files under dir. Listed files need not
// be downloaded yet.
func (fs *FileSystem) DirectoryListing(dir sar.FilePath, opts sar.ListOptions) ([]sar.FilePath, error) {
	pkg := fs.loaded()
	if pkg == nil {
		return nil, ErrNotInitialized
	}
	return pkg.DirectoryListing(dir, opts), nil
}

// FileTable returns the archive's file table, or nil before initialization.
func (fs *FileSystem) FileTable() *sar.FileTable {
	if pkg := fs.pkg.Load(); pkg != nil {
		return pkg.FileTable()
	}
	return nil
}

// Header returns the archive header.
func (fs *FileSystem) Header() (sar.Header, bool) {
	if pkg := fs.pkg.Load(); pkg != nil && pkg.IsOk() {
		return pkg.Header(), true
	}
	return sar.Header{}, false
}

// Stats returns a snapshot of file system activity.
func (fs *FileSystem) Stats() Stats {
	s := fs.stats.snapshot()
	s.VerifiedFiles, s.TotalFiles = fs.crc.counts()
	s.MaxDownloadSize = fs.window.current()
	return s
}
