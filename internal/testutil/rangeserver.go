package testutil

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// RangeServer serves a byte slice over HTTP range requests and can inject
// faults into upcoming responses.
type RangeServer struct {
	*httptest.Server

	mu         sync.Mutex
	data       []byte
	ranges     []string
	failNext   int
	dropNext   []int
	corruptAt  []uint64
	blocking   bool
	dataServed uint64
}

// NewRangeServer starts a server for data. It is closed when the test ends.
func NewRangeServer(tb testing.TB, data []byte) *RangeServer {
	tb.Helper()
	s := &RangeServer{data: data}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	tb.Cleanup(s.Close)
	return s
}

// SetData replaces the served bytes.
func (s *RangeServer) SetData(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
}

// FailNext makes the next n requests answer 503.
func (s *RangeServer) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// DropNextAfter makes the next request send only n body bytes and then drop
// the connection. Calls queue up, one per request.
func (s *RangeServer) DropNextAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropNext = append(s.dropNext, n)
}

// CorruptOnce flips the byte at absolute offset in the next response that
// covers it.
func (s *RangeServer) CorruptOnce(offset uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corruptAt = append(s.corruptAt, offset)
}

// SetBlocking makes requests hang until the client gives up on them.
func (s *RangeServer) SetBlocking(blocking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocking = blocking
}

// Ranges returns the Range header of every request received so far.
func (s *RangeServer) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

// BytesServed returns the number of body bytes written to clients.
func (s *RangeServer) BytesServed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataServed
}

func (s *RangeServer) handle(w http.ResponseWriter, r *http.Request) {
	rangeHeader := r.Header.Get("Range")

	s.mu.Lock()
	s.ranges = append(s.ranges, rangeHeader)
	data := s.data
	blocking := s.blocking
	fail := s.failNext > 0
	if fail {
		s.failNext--
	}
	drop := -1
	if !fail && !blocking && len(s.dropNext) > 0 {
		drop = s.dropNext[0]
		s.dropNext = s.dropNext[1:]
	}
	s.mu.Unlock()

	if blocking {
		<-r.Context().Done()
		return
	}
	if fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	start, end, ok := parseRange(rangeHeader, len(data))
	if !ok {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	body := data[start : end+1]

	s.mu.Lock()
	kept := s.corruptAt[:0]
	for _, at := range s.corruptAt {
		if at >= uint64(start) && at <= uint64(end) {
			body = bytes.Clone(body)
			body[at-uint64(start)] ^= 0xFF
			continue
		}
		kept = append(kept, at)
	}
	s.corruptAt = kept
	s.mu.Unlock()

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusPartialContent)

	if drop >= 0 && drop < len(body) {
		_, _ = w.Write(body[:drop])
		s.served(drop)
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}
	_, _ = w.Write(body)
	s.served(len(body))
}

func (s *RangeServer) served(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataServed += uint64(n) //nolint:gosec // n is non-negative
}

// parseRange parses "bytes=a-b". A missing header selects everything.
func parseRange(h string, size int) (start, end int, ok bool) {
	if h == "" {
		if size == 0 {
			return 0, 0, false
		}
		return 0, size - 1, true
	}
	byteRange, found := strings.CutPrefix(h, "bytes=")
	if !found {
		return 0, 0, false
	}
	a, b, found := strings.Cut(byteRange, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, false
	}
	end, err = strconv.Atoi(b)
	if err != nil {
		return 0, 0, false
	}
	if start < 0 || start > end || start >= size {
		return 0, 0, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true
}
