package sarfs

import (
	"sync"
	"sync/atomic"

	"github.com/meigma/sarfs/sar"
)

// crc32Table tracks which files have been verified. Once every registered
// file is verified, lookups no longer take the lock.
type crc32Table struct {
	mu    sync.Mutex
	ok    map[sar.FilePath]bool
	notOk atomic.Int64
	allOk atomic.Bool
}

func newCrc32Table() *crc32Table {
	return &crc32Table{ok: make(map[sar.FilePath]bool)}
}

// initialize replaces the table with the results of a CRC scan.
func (t *crc32Table) initialize(entries []sar.Crc32Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ok = make(map[sar.FilePath]bool, len(entries))
	var notOk int64
	for _, e := range entries {
		t.ok[e.Path] = e.Ok
		if !e.Ok {
			notOk++
		}
	}
	t.notOk.Store(notOk)
	t.allOk.Store(notOk == 0)
}

func (t *crc32Table) isOk(path sar.FilePath) bool {
	if t.allOk.Load() {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ok[path]
}

// setOk marks path verified. Repeated calls have no further effect.
func (t *crc32Table) setOk(path sar.FilePath) {
	t.mu.Lock()
	defer t.mu.Unlock()
	was, registered := t.ok[path]
	if was {
		return
	}
	t.ok[path] = true
	if !registered {
		return
	}
	if t.notOk.Load() > 0 && t.notOk.Add(-1) == 0 {
		t.allOk.Store(true)
	}
}

// remaining returns the paths not yet verified, or nil when all are.
func (t *crc32Table) remaining() []sar.FilePath {
	if t.allOk.Load() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sar.FilePath
	for p, ok := range t.ok {
		if !ok {
			out = append(out, p)
		}
	}
	return out
}

func (t *crc32Table) isAllOk() bool {
	return t.allOk.Load()
}

// counts returns the number of verified and registered files.
func (t *crc32Table) counts() (verified, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ok) - int(t.notOk.Load()), len(t.ok)
}
