package sarfs

import (
	"context"
	"hash/crc32"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/meigma/sarfs/sar"
)

// fetchRetryDelay paces the worker after a fetch set fails.
const fetchRetryDelay = 100 * time.Millisecond

// worker owns the archive for one OnNetworkInitialize/OnNetworkShutdown
// cycle: it bootstraps, then serves queued fetches until shutdown.
type worker struct {
	fs  *FileSystem
	ctx context.Context //nolint:containedctx // lifetime of one network session
	pkg *sar.PackageFS

	// ordered holds every file table entry in offset order.
	ordered []sar.Crc32Entry

	// table holds queued files not yet verified.
	table map[sar.FilePath]*fetchEntry
}

func (fs *FileSystem) runWorker(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	w := &worker{fs: fs, ctx: ctx, table: make(map[sar.FilePath]*fetchEntry)}
	if !w.initialize() {
		if w.pkg != nil && fs.pkg.Load() != w.pkg {
			_ = w.pkg.Close()
		}
		fs.log().Info("worker stopped before initialization completed")
		return
	}
	w.loop()
	fs.residentWork.Store(false)
}

// initialize bootstraps the archive, discovers which files are already
// valid and fills in what it can from local archives.
func (w *worker) initialize() bool {
	fs := w.fs
	began := time.Now()
	b := newBootstrapper(fs)
	if !b.run() {
		b.closePackage()
		return false
	}
	fs.stats.timing(EventBootstrap, time.Since(began))
	w.pkg = b.pkg
	fs.newPackage.Store(b.newPackage)
	fs.log().Info("bootstrap complete",
		slog.String("path", fs.settings.PackagePath),
		slog.Bool("new_package", b.newPackage),
		slog.Int("files", w.pkg.FileTable().Len()))

	entries := w.pkg.FileTableAsEntries()
	if b.newPackage {
		fs.crc.initialize(entries)
		fs.installPackage(w.pkg)
		fs.populateAll(w.ctx, w.pkg)
		if !w.fetchCompressionDict() {
			return false
		}
	} else {
		if !w.fetchCompressionDict() {
			return false
		}
		scan := time.Now()
		if err := w.pkg.PerformCrc32Check(w.ctx, entries); err != nil {
			return false
		}
		fs.stats.timing(EventCrcScan, time.Since(scan))
		fs.crc.initialize(entries)
		fs.installPackage(w.pkg)
		fs.populateAll(w.ctx, w.pkg)
	}

	for i := range entries {
		entries[i].Ok = false
	}
	w.ordered = entries
	fs.initComplete.Store(true)
	fs.updateProgress()
	verified, total := fs.crc.counts()
	fs.log().Info("initialization complete", slog.Int("verified", verified), slog.Int("files", total))
	return true
}

// fetchCompressionDict downloads the compression dictionary until it
// verifies. Every other compressed entry depends on it.
func (w *worker) fetchCompressionDict() bool {
	fs := w.fs
	path, ok := w.pkg.CompressionDictFilePath()
	if !ok {
		return true
	}
	e, _ := w.pkg.Entry(path)
	for w.pkg.ProcessCompressionDict() != nil {
		if !fs.running.Load() {
			return false
		}
		buf := make([]byte, e.CompressedSize)
		if fs.download(buf, e.Offset) != downloadOK {
			continue
		}
		if err := w.pkg.CommitChange(buf, e.Offset); err != nil {
			fs.stats.event(EventCommitFailure, 1)
			fs.log().Warn("commit compression dictionary", slog.Any("error", err))
			fs.signal.WaitTimeout(fs.retryDelay)
		}
	}
	fs.crc.setOk(path)
	return true
}

func (w *worker) loop() {
	fs := w.fs
	for fs.running.Load() {
		if !fs.tasks.hasEntries() && len(w.table) == 0 {
			fs.residentWork.Store(false)
			fs.signal.Wait()
			continue
		}
		fs.residentWork.Store(true)
		w.admit(fs.tasks.popAll())

		entries := slices.Collect(maps.Values(w.table))
		sortFetchEntries(entries)
		if w.performFetch(entries) {
			fs.signal.WaitTimeout(fetchRetryDelay)
		}

		for p := range w.table {
			if fs.crc.isOk(p) {
				delete(w.table, p)
			}
		}
		if len(w.table) == 0 {
			w.table = make(map[sar.FilePath]*fetchEntry)
		}
		fs.updateProgress()
	}
}

// admit merges queued tasks into the resident table, keeping the highest
// priority per path.
func (w *worker) admit(tasks map[sar.FilePath]Priority) {
	for p, prio := range tasks {
		if fe, ok := w.table[p]; ok {
			fe.priority = max(fe.priority, prio)
			continue
		}
		if w.fs.crc.isOk(p) {
			continue
		}
		e, ok := w.pkg.Entry(p)
		if !ok {
			continue
		}
		w.table[p] = &fetchEntry{path: p, entry: e, priority: prio}
	}
}

// performFetch downloads fetch sets until one fails or the pass should be
// rebuilt. It reports whether a set failed.
func (w *worker) performFetch(entries []*fetchEntry) bool {
	fs := w.fs
	maxSize := fs.window.current()
	sets := buildFetchSets(entries, maxSize, fs.settings.MaxRedownloadSizeThreshold, len(w.ordered))
	for i := range sets {
		if !fs.running.Load() {
			return false
		}
		if i > 0 && (fs.window.current() != maxSize || fs.tasks.hasEntries()) {
			return false
		}
		if !w.performFetchSet(&sets[i]) {
			return fs.running.Load()
		}
		if !fs.settings.NormalPriority {
			fs.yielder.Yield()
		}
	}
	return false
}

// spanned returns every entry lying entirely within [start, end], including
// files nobody asked for that share the downloaded range.
func (w *worker) spanned(start, end uint64) []sar.Crc32Entry {
	i := sort.Search(len(w.ordered), func(i int) bool {
		return w.ordered[i].Entry.Offset >= start
	})
	var out []sar.Crc32Entry
	for ; i < len(w.ordered) && w.ordered[i].Entry.Offset <= end; i++ {
		if w.ordered[i].Entry.End() <= end {
			out = append(out, w.ordered[i])
		}
	}
	return out
}

func (w *worker) performFetchSet(set *fetchSet) bool {
	if set.big {
		return w.performChunkedFetch(set.entries[0])
	}
	fs := w.fs
	began := time.Now()
	buf := make([]byte, set.size())
	if fs.download(buf, set.start) != downloadOK {
		return false
	}
	downloaded := time.Since(began)

	spanned := w.spanned(set.start, set.end)
	postCrc := w.pkg.HasPostCrc32()
	if postCrc {
		for _, e := range spanned {
			data := buf[e.Entry.Offset-set.start : e.Entry.End()-set.start]
			if crc32.ChecksumIEEE(data) != e.Entry.Crc32Post {
				fs.stats.event(EventCrcMismatch, 1)
				fs.log().Warn("downloaded file failed crc check",
					slog.String("path", e.Path.String()),
					slog.Uint64("offset", e.Entry.Offset))
				return false
			}
		}
	}

	if err := w.pkg.CommitChange(buf, set.start); err != nil {
		fs.stats.event(EventCommitFailure, 1)
		fs.log().Warn("commit fetch set", slog.Uint64("offset", set.start), slog.Any("error", err))
		return false
	}

	ok := true
	for _, e := range spanned {
		if postCrc || w.pkg.CheckFile(e.Path) {
			fs.crc.setOk(e.Path)
			continue
		}
		ok = false
		fs.stats.event(EventCrcMismatch, 1)
		fs.log().Warn("committed file failed crc check", slog.String("path", e.Path.String()))
	}

	if !ok {
		return false
	}
	fs.window.update(downloaded, set.size())
	elapsed := time.Since(began)
	fs.stats.timing(EventFetchSet, elapsed)
	fs.log().Debug("fetch set complete",
		slog.Uint64("offset", set.start),
		slog.Uint64("size", set.size()),
		slog.Int("files", len(spanned)),
		slog.Duration("download", downloaded),
		slog.Duration("elapsed", elapsed))
	return true
}

// performChunkedFetch downloads a file larger than one request in chunks,
// committing each one. New tasks interrupt it between chunks; the committed
// marker lets the next pass resume. With post CRCs the running checksum gates
// the final chunk, otherwise the assembled file is verified on disk.
func (w *worker) performChunkedFetch(fe *fetchEntry) bool {
	fs := w.fs
	size := fe.entry.CompressedSize
	postCrc := w.pkg.HasPostCrc32()
	for fe.committed < size {
		if !fs.running.Load() {
			return false
		}
		if fe.committed > 0 && fs.tasks.hasEntries() {
			return true
		}
		chunk := min(size-fe.committed, fs.window.current())
		offset := fe.entry.Offset + fe.committed
		buf := make([]byte, chunk)
		began := time.Now()
		if fs.download(buf, offset) != downloadOK {
			return false
		}
		elapsed := time.Since(began)

		crc := crc32.Update(fe.crc, crc32.IEEETable, buf)
		if postCrc && fe.committed+chunk == size && crc != fe.entry.Crc32Post {
			w.chunkedMismatch(fe)
			return false
		}
		if err := w.pkg.CommitChange(buf, offset); err != nil {
			fs.stats.event(EventCommitFailure, 1)
			fs.log().Warn("commit chunk", slog.Uint64("offset", offset), slog.Any("error", err))
			return false
		}
		fe.committed += chunk
		fe.crc = crc
		fs.window.update(elapsed, chunk)
		fs.stats.timing(EventFetchSet, elapsed)
	}

	if postCrc || w.pkg.CheckFile(fe.path) {
		fs.crc.setOk(fe.path)
		return true
	}
	w.chunkedMismatch(fe)
	return false
}

// chunkedMismatch restarts a chunked entry from its first byte.
func (w *worker) chunkedMismatch(fe *fetchEntry) {
	fe.committed, fe.crc = 0, 0
	w.fs.stats.event(EventCrcMismatch, 1)
	w.fs.log().Warn("chunked file failed crc check", slog.String("path", fe.path.String()))
}
