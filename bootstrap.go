package sarfs

import (
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/meigma/sarfs/http"
	"github.com/meigma/sarfs/sar"
)

// initState is a step of the bootstrap state machine.
type initState int32

const (
	stateRequestHeader initState = iota
	stateWaitingForHeader
	stateReceivedHeader
	stateCheckExistingPackage
	stateRequestFileTable
	stateWaitingForFileTable
	stateReceivedFileTable
	stateUpdateAndReloadPackage
	stateComplete
	stateError
)

var initStateNames = [...]string{
	stateRequestHeader:          "request header",
	stateWaitingForHeader:       "waiting for header",
	stateReceivedHeader:         "received header",
	stateCheckExistingPackage:   "check existing package",
	stateRequestFileTable:       "request file table",
	stateWaitingForFileTable:    "waiting for file table",
	stateReceivedFileTable:      "received file table",
	stateUpdateAndReloadPackage: "update and reload package",
	stateComplete:               "complete",
	stateError:                  "error",
}

func (s initState) String() string {
	if s >= 0 && int(s) < len(initStateNames) {
		return initStateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// bootstrapper brings the local archive in line with the remote one.
//
// Each poll performs the work of the current state. HTTP callbacks write the
// received bytes and then publish the next state, so the worker only reads
// the buffers after it observes that state.
type bootstrapper struct {
	fs    *FileSystem
	state atomic.Int32

	headerBytes []byte
	tableBytes  []byte
	header      sar.Header

	pkg        *sar.PackageFS
	newPackage bool
	errorStart time.Time
}

func newBootstrapper(fs *FileSystem) *bootstrapper {
	return &bootstrapper{fs: fs}
}

func (b *bootstrapper) current() initState {
	return initState(b.state.Load())
}

func (b *bootstrapper) set(s initState) {
	prev := initState(b.state.Swap(int32(s)))
	if prev != s {
		b.fs.log().Debug("bootstrap state", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// run polls until the archive is ready or the file system stops running.
// It reports whether bootstrap completed.
func (b *bootstrapper) run() bool {
	for b.fs.running.Load() {
		if b.poll() == stateComplete {
			return true
		}
	}
	return false
}

// poll performs one step and returns the resulting state.
func (b *bootstrapper) poll() initState {
	switch b.current() {
	case stateRequestHeader:
		b.requestHeader()
	case stateWaitingForHeader, stateWaitingForFileTable:
		b.fs.signal.Wait()
	case stateReceivedHeader:
		b.set(stateCheckExistingPackage)
	case stateCheckExistingPackage:
		b.checkExistingPackage()
	case stateRequestFileTable:
		b.requestFileTable()
	case stateReceivedFileTable:
		b.set(stateUpdateAndReloadPackage)
	case stateUpdateAndReloadPackage:
		b.updateAndReload()
	case stateError:
		b.handleError()
	case stateComplete:
	}
	return b.current()
}

// request fetches exactly len(buf) bytes at offset. onSuccess runs on the
// transport goroutine once the bytes are in buf; returning false resends.
func (b *bootstrapper) request(buf []byte, offset uint64, received initState, onSuccess func() bool) {
	fs := b.fs
	req := http.NewRequest(fs.url.current())
	req.IgnoreDomainRequestBudget = true
	req.SetBodyOutputBuffer(buf)
	req.AddRangeHeader(offset, offset+uint64(len(buf))-1)
	req.Callback = func(result http.Result, resp *http.Response) http.CallbackResult {
		fs.stats.requestCompleted(resp.BodySize())
		if result == http.ResultCanceled {
			fs.signal.Activate()
			return http.CallbackSuccess
		}
		if result == http.ResultSuccess &&
			resp.Status() == nethttp.StatusPartialContent &&
			!resp.BodyDataWasTruncated() &&
			resp.BodySize() == len(buf) &&
			onSuccess() {
			if u := resp.RedirectURL(); u != "" {
				fs.url.setRedirect(u)
			}
			b.set(received)
			fs.signal.Activate()
			return http.CallbackSuccess
		}
		if !fs.running.Load() {
			fs.signal.Activate()
			return http.CallbackSuccess
		}
		fs.log().Debug("bootstrap request needs resend",
			slog.Uint64("offset", offset),
			slog.String("result", result.String()),
			slog.Int("status", resp.Status()),
			slog.Int("received", resp.BodySize()))
		return http.CallbackNeedsResend
	}
	req.PrepForResend = func(_ *http.Response, _, resend *http.Request) {
		resend.URL = fs.url.reset()
		fs.stats.requestIssued()
	}
	fs.stats.requestIssued()
	fs.transport.Start(fs.requests, req)
}

func (b *bootstrapper) requestHeader() {
	b.headerBytes = make([]byte, sar.HeaderSize)
	b.set(stateWaitingForHeader)
	b.request(b.headerBytes, 0, stateReceivedHeader, func() bool {
		h, err := sar.ParseHeader(b.headerBytes)
		if err != nil {
			b.fs.log().Warn("invalid remote header", slog.Any("error", err))
			return false
		}
		b.header = h
		return true
	})
}

func (b *bootstrapper) requestFileTable() {
	if b.header.FileTableSize == 0 {
		b.tableBytes = nil
		b.set(stateUpdateAndReloadPackage)
		return
	}
	b.tableBytes = make([]byte, b.header.FileTableSize)
	b.set(stateWaitingForFileTable)
	b.request(b.tableBytes, b.header.FileTableOffset, stateReceivedFileTable, func() bool { return true })
}

// checkExistingPackage keeps the local archive if its header matches the
// remote one. Otherwise the local archive is set aside as the .old sidecar
// and replaced by a zero-filled file of the remote size.
func (b *bootstrapper) checkExistingPackage() {
	fs := b.fs
	path := fs.settings.PackagePath
	b.closePackage()

	existing := fs.openPackage(path)
	if existing.IsOk() && existing.Header() == b.header {
		b.pkg = existing
		b.newPackage = false
		b.set(stateComplete)
		return
	}

	wasOk := existing.IsOk()
	_ = existing.Close()
	b.newPackage = true
	fs.log().Info("package out of date",
		slog.String("path", path),
		slog.Bool("existing_ok", wasOk),
		slog.Uint64("total_size", b.header.TotalSize))

	old := oldPackagePath(path)
	if wasOk {
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			fs.log().Warn("remove stale sidecar", slog.String("path", old), slog.Any("error", err))
		}
		if err := os.Rename(path, old); err != nil {
			fs.log().Warn("preserve old package", slog.String("path", path), slog.Any("error", err))
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fs.log().Warn("remove package", slog.String("path", path), slog.Any("error", err))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		b.writeFailed("create package directory", err)
		return
	}
	if err := sar.CreateSparse(path, b.header.TotalSize); err != nil {
		b.writeFailed("create package", err)
		return
	}
	b.pkg = fs.openPackage(path)
	b.set(stateRequestFileTable)
}

// updateAndReload writes the header and file table into the new archive and
// reopens it so they are parsed from disk.
func (b *bootstrapper) updateAndReload() {
	fs := b.fs
	if err := b.pkg.CommitChange(b.headerBytes, 0); err != nil {
		b.writeFailed("commit header", err)
		return
	}
	if len(b.tableBytes) > 0 {
		if err := b.pkg.CommitChange(b.tableBytes, b.header.FileTableOffset); err != nil {
			b.writeFailed("commit file table", err)
			return
		}
	}
	fs.writeFailure.Store(false)

	b.closePackage()
	b.pkg = fs.openPackage(fs.settings.PackagePath)
	if !b.pkg.IsOk() {
		fs.log().Warn("reloaded package is not ok", slog.Any("error", b.pkg.Err()))
		b.enterError()
		return
	}
	b.set(stateComplete)
}

func (b *bootstrapper) writeFailed(op string, err error) {
	b.fs.log().Warn("package write failed", slog.String("op", op), slog.Any("error", err))
	b.fs.writeFailure.Store(true)
	b.enterError()
}

func (b *bootstrapper) enterError() {
	if b.errorStart.IsZero() {
		b.errorStart = time.Now()
	}
	b.set(stateError)
}

// handleError waits out the retry delay, cleans up after write failures and
// starts over.
func (b *bootstrapper) handleError() {
	fs := b.fs
	if b.errorStart.IsZero() {
		b.errorStart = time.Now()
	}
	if remaining := fs.retryDelay - time.Since(b.errorStart); remaining > 0 {
		fs.signal.WaitTimeout(remaining)
		return
	}

	if fs.writeFailure.Load() {
		path := fs.settings.PackagePath
		if err := os.Remove(oldPackagePath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
			fs.log().Warn("remove sidecar", slog.Any("error", err))
		}
		b.closePackage()
		if err := sar.CreateSparse(path, 0); err != nil {
			fs.log().Warn("create placeholder package", slog.Any("error", err))
		}
		b.pkg = fs.openPackage(path)
	}
	b.errorStart = time.Time{}
	b.set(stateRequestHeader)
}

func (b *bootstrapper) closePackage() {
	if b.pkg != nil {
		_ = b.pkg.Close()
		b.pkg = nil
	}
}

func oldPackagePath(path string) string {
	return path + ".old"
}
