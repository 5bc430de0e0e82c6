package sarfs

import (
	"log/slog"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meigma/sarfs/http"
)

// urlState holds the configured archive URL and the last redirect target.
type urlState struct {
	mu       sync.Mutex
	initial  string
	redirect string
}

func newURLState(initial string) *urlState {
	return &urlState{initial: initial}
}

// current returns the redirect target if one is cached.
func (u *urlState) current() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.redirect != "" {
		return u.redirect
	}
	return u.initial
}

func (u *urlState) setRedirect(url string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.redirect = url
}

// reset drops the cached redirect and returns the configured URL.
func (u *urlState) reset() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.redirect = ""
	return u.initial
}

type downloadResult int

const (
	downloadOK downloadResult = iota
	downloadFailed
	downloadCanceled
)

func (r downloadResult) String() string {
	switch r {
	case downloadOK:
		return "ok"
	case downloadFailed:
		return "failed"
	default:
		return "canceled"
	}
}

// downloadHelper tracks one ranged download into a caller-owned buffer.
//
// The callback and PrepForResend run one after another on the transport
// goroutine, so progress and last need no lock. The waiter reads result
// only after observing done.
type downloadHelper struct {
	fs       *FileSystem
	out      []byte
	start    uint64
	progress uint64
	last     http.Result
	result   downloadResult
	done     atomic.Bool
}

func (d *downloadHelper) finish(r downloadResult) {
	d.result = r
	d.done.Store(true)
	d.fs.signal.Activate()
}

func (d *downloadHelper) callback(result http.Result, resp *http.Response) http.CallbackResult {
	d.fs.stats.requestCompleted(resp.BodySize())
	if result == http.ResultCanceled {
		d.finish(downloadCanceled)
		return http.CallbackSuccess
	}

	want := uint64(len(d.out)) - d.progress
	if result == http.ResultSuccess &&
		resp.Status() == nethttp.StatusPartialContent &&
		!resp.BodyDataWasTruncated() &&
		uint64(resp.BodySize()) == want {
		if u := resp.RedirectURL(); u != "" {
			d.fs.url.setRedirect(u)
		}
		d.finish(downloadOK)
		return http.CallbackSuccess
	}

	if !d.fs.running.Load() {
		d.finish(downloadFailed)
		return http.CallbackSuccess
	}
	d.fs.log().Debug("download needs resend",
		slog.Uint64("offset", d.start+d.progress),
		slog.Uint64("want", want),
		slog.String("result", result.String()),
		slog.Int("status", resp.Status()),
		slog.Int("received", resp.BodySize()))
	d.last = result
	return http.CallbackNeedsResend
}

// prepForResend resumes after a dropped connection and restarts after
// anything else, including a request that never reached the server. A
// restart also drops the cached redirect.
func (d *downloadHelper) prepForResend(orig *http.Response, _, resend *http.Request) {
	if d.last == http.ResultConnectionFailure {
		d.progress += uint64(orig.BodySize())
	} else {
		d.progress = 0
		resend.URL = d.fs.url.reset()
	}
	size := uint64(len(d.out))
	if d.progress >= size {
		d.progress = 0
	}
	resend.SetBodyOutputBuffer(d.out[d.progress:])
	resend.AddRangeHeader(d.start+d.progress, d.start+size-1)
	d.fs.stats.requestIssued()
}

// download fills out with archive bytes starting at start and blocks until
// the transfer succeeds, or fails because the file system is shutting down.
func (fs *FileSystem) download(out []byte, start uint64) downloadResult {
	if len(out) == 0 {
		return downloadOK
	}
	d := &downloadHelper{fs: fs, out: out, start: start}
	req := http.NewRequest(fs.url.current())
	req.IgnoreDomainRequestBudget = true
	req.SetBodyOutputBuffer(out)
	req.AddRangeHeader(start, start+uint64(len(out))-1)
	req.Callback = d.callback
	req.PrepForResend = d.prepForResend

	began := time.Now()
	fs.stats.requestIssued()
	fs.transport.Start(fs.requests, req)
	for !d.done.Load() {
		fs.signal.Wait()
	}
	fs.stats.networkWait(time.Since(began))
	// The worker shares the signal with other completions; pass on any
	// wake-up this wait may have consumed.
	fs.signal.Activate()
	return d.result
}
