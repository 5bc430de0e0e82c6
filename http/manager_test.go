package http //nolint:revive // intentional naming for domain clarity

import (
	"bytes"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type outcome struct {
	result Result
	resp   *Response
}

// collect returns a callback that reports every outcome and asks for a resend
// while needsResend returns true.
func collect(needsResend func(Result, *Response) bool) (Callback, <-chan outcome) {
	ch := make(chan outcome, 16)
	return func(result Result, resp *Response) CallbackResult {
		ch <- outcome{result: result, resp: resp}
		if needsResend != nil && result != ResultCanceled && needsResend(result, resp) {
			return CallbackNeedsResend
		}
		return CallbackSuccess
	}, ch
}

func wait(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
		return outcome{}
	}
}

func newRangeServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func testManager() *Manager {
	return NewManager(WithResendBackoff(time.Millisecond, 5*time.Millisecond))
}

func TestManagerRangeRequest(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	server := newRangeServer(t, data)
	list := NewRequestList()
	t.Cleanup(list.BlockingCancelAll)

	out := make([]byte, 10)
	req := NewRequest(server.URL)
	req.AddRangeHeader(10, 19)
	req.SetBodyOutputBuffer(out)
	req.IgnoreDomainRequestBudget = true
	cb, ch := collect(nil)
	req.Callback = cb

	testManager().Start(list, req)
	o := wait(t, ch)
	require.Equal(t, ResultSuccess, o.result)
	assert.Equal(t, nethttp.StatusPartialContent, o.resp.Status())
	assert.Equal(t, data[10:20], o.resp.Body())
	assert.Equal(t, data[10:20], out)
	assert.False(t, o.resp.BodyDataWasTruncated())
	assert.Empty(t, o.resp.RedirectURL())
}

func TestManagerTruncation(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("x"), 100)
	server := newRangeServer(t, data)
	list := NewRequestList()
	t.Cleanup(list.BlockingCancelAll)

	req := NewRequest(server.URL)
	req.AddRangeHeader(0, 49)
	req.SetBodyOutputBuffer(make([]byte, 20))
	cb, ch := collect(nil)
	req.Callback = cb
	testManager().Start(list, req)

	o := wait(t, ch)
	require.Equal(t, ResultSuccess, o.result)
	assert.True(t, o.resp.BodyDataWasTruncated())
	assert.Equal(t, 20, o.resp.BodySize())

	owned := NewRequest(server.URL)
	owned.SetMaxBodySize(30)
	cb, ch = collect(nil)
	owned.Callback = cb
	testManager().Start(list, owned)

	o = wait(t, ch)
	require.Equal(t, ResultSuccess, o.result)
	assert.True(t, o.resp.BodyDataWasTruncated())
	assert.Equal(t, 30, o.resp.BodySize())
}

func TestManagerResend(t *testing.T) {
	t.Parallel()

	data := []byte("resend payload")
	var hits atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "yes", r.Header.Get("X-Resent"))
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	list := NewRequestList()
	t.Cleanup(list.BlockingCancelAll)

	req := NewRequest(server.URL)
	req.AddRangeHeader(0, uint64(len(data)-1))
	req.SetBodyOutputBuffer(make([]byte, len(data)))
	cb, ch := collect(func(_ Result, resp *Response) bool {
		return resp.Status() != nethttp.StatusPartialContent
	})
	req.Callback = cb
	var preps atomic.Int32
	req.PrepForResend = func(orig *Response, _, resend *Request) {
		preps.Add(1)
		assert.Equal(t, nethttp.StatusServiceUnavailable, orig.Status())
		if resend.Header == nil {
			resend.Header = nethttp.Header{}
		}
		resend.Header.Set("X-Resent", "yes")
	}
	testManager().Start(list, req)

	assert.Equal(t, nethttp.StatusServiceUnavailable, wait(t, ch).resp.Status())
	assert.Equal(t, nethttp.StatusServiceUnavailable, wait(t, ch).resp.Status())
	o := wait(t, ch)
	assert.Equal(t, nethttp.StatusPartialContent, o.resp.Status())
	assert.Equal(t, data, o.resp.Body())
	assert.Equal(t, int32(2), preps.Load())
	assert.Equal(t, int32(3), hits.Load())
}

func TestManagerConnectionDrop(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("0123456789"), 10)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(nethttp.StatusPartialContent)
		_, _ = w.Write(data[:40])
		w.(nethttp.Flusher).Flush()
		panic(nethttp.ErrAbortHandler)
	}))
	t.Cleanup(server.Close)
	list := NewRequestList()
	t.Cleanup(list.BlockingCancelAll)

	req := NewRequest(server.URL)
	req.AddRangeHeader(0, uint64(len(data)-1))
	req.SetBodyOutputBuffer(make([]byte, len(data)))
	cb, ch := collect(nil)
	req.Callback = cb
	testManager().Start(list, req)

	o := wait(t, ch)
	assert.Equal(t, ResultConnectionFailure, o.result)
	assert.Equal(t, NoStatus, o.resp.Status())
	assert.Equal(t, data[:40], o.resp.Body())
}

func TestManagerRedirect(t *testing.T) {
	t.Parallel()

	data := []byte("redirected")
	mux := nethttp.NewServeMux()
	mux.HandleFunc("/new", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	})
	mux.Handle("/old", nethttp.RedirectHandler("/new", nethttp.StatusFound))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	list := NewRequestList()
	t.Cleanup(list.BlockingCancelAll)

	req := NewRequest(server.URL + "/old")
	req.AddRangeHeader(0, 3)
	cb, ch := collect(nil)
	req.Callback = cb
	testManager().Start(list, req)

	o := wait(t, ch)
	require.Equal(t, ResultSuccess, o.result)
	assert.Equal(t, server.URL+"/new", o.resp.RedirectURL())
	assert.Equal(t, []byte("redi"), o.resp.Body())
}

func TestRequestListBlockingCancelAll(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	server := httptest.NewServer(nethttp.HandlerFunc(func(_ nethttp.ResponseWriter, r *nethttp.Request) {
		started <- struct{}{}
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)
	list := NewRequestList()
	m := testManager()

	req := NewRequest(server.URL)
	cb, ch := collect(nil)
	req.Callback = cb
	m.Start(list, req)
	<-started
	assert.Equal(t, 1, list.InFlight())

	list.BlockingCancelAll()
	assert.Equal(t, 0, list.InFlight())
	assert.Equal(t, ResultCanceled, wait(t, ch).result)

	closed := NewRequest(server.URL)
	cb, ch = collect(nil)
	closed.Callback = cb
	m.Start(list, closed)
	assert.Equal(t, ResultCanceled, wait(t, ch).result, "closed list cancels immediately")

	list.Reset()
	data := []byte("ok")
	okServer := newRangeServer(t, data)
	again := NewRequest(okServer.URL)
	cb, ch = collect(nil)
	again.Callback = cb
	m.Start(list, again)
	assert.Equal(t, ResultSuccess, wait(t, ch).result)
	list.BlockingCancelAll()
}

func TestManagerDomainBudget(t *testing.T) {
	t.Parallel()

	server := newRangeServer(t, []byte("budget"))
	list := NewRequestList()
	m := NewManager(WithDomainBudget(rate.Every(time.Hour), 1))

	var mu sync.Mutex
	var results []Result
	done := make(chan struct{}, 8)
	start := func(ignore bool) {
		req := NewRequest(server.URL)
		req.IgnoreDomainRequestBudget = ignore
		req.Callback = func(result Result, _ *Response) CallbackResult {
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			done <- struct{}{}
			return CallbackSuccess
		}
		m.Start(list, req)
	}

	start(false) // consumes the burst
	<-done
	for range 3 {
		start(true)
	}
	for i := range 3 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("request %d ignoring the budget did not complete", i)
		}
	}

	start(false) // waits for a token that never comes
	select {
	case <-done:
		t.Fatal("budgeted request should be throttled")
	case <-time.After(50 * time.Millisecond):
	}
	list.BlockingCancelAll()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 5)
	for _, r := range results[:4] {
		assert.Equal(t, ResultSuccess, r)
	}
	assert.Equal(t, ResultCanceled, results[4], fmt.Sprint(results))
}
