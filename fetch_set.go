package sarfs

import (
	"cmp"
	"slices"

	"github.com/meigma/sarfs/sar"
)

// fetchEntry is a file the worker intends to download.
type fetchEntry struct {
	path     sar.FilePath
	entry    sar.Entry
	priority Priority

	// committed counts bytes of a big entry already written to disk by
	// earlier chunks. It is reset when the assembled file fails its check.
	committed uint64

	// crc is the running CRC32 of the committed bytes, checked against
	// Crc32Post before the final chunk is written.
	crc uint32
}

// sortFetchEntries orders entries by priority, highest first, then by
// position in the archive.
func sortFetchEntries(entries []*fetchEntry) {
	slices.SortFunc(entries, func(a, b *fetchEntry) int {
		if c := cmp.Compare(b.priority, a.priority); c != 0 {
			return c
		}
		if c := cmp.Compare(a.entry.Offset, b.entry.Offset); c != 0 {
			return c
		}
		return cmp.Compare(a.entry.End(), b.entry.End())
	})
}

// fetchSet is a run of same-priority entries fetched with one range request.
// Bytes between entries are downloaded too and overwrite whatever is on
// disk; they belong to files that are either already verified or will be
// verified by this request.
type fetchSet struct {
	priority Priority
	entries  []*fetchEntry
	start    uint64
	end      uint64

	// big marks a single entry fetched in chunks of at most the current
	// maximum request size.
	big bool
}

func (s *fetchSet) size() uint64 {
	return s.end - s.start
}

// buildFetchSets groups entries, already sorted by sortFetchEntries, into
// fetch sets and orders them for download.
//
// An entry joins the current set when it has the same priority, starts at or
// after the set's end, leaves a gap of at most threshold bytes and keeps the
// set within maxSize. Entries larger than maxSize, or with chunks already
// committed, form big sets of their own.
//
// When the sets cover nearly every file in the archive they are fetched in
// archive order within each priority. Otherwise the sets that verify the most
// files per byte go first.
func buildFetchSets(entries []*fetchEntry, maxSize, threshold uint64, totalEntries int) []fetchSet {
	var sets []fetchSet
	var cur *fetchSet
	for _, e := range entries {
		if e.committed > 0 || e.entry.CompressedSize > maxSize {
			sets = append(sets, fetchSet{
				priority: e.priority,
				entries:  []*fetchEntry{e},
				start:    e.entry.Offset,
				end:      e.entry.End(),
				big:      true,
			})
			cur = nil
			continue
		}
		if cur != nil && canJoin(cur, e, maxSize, threshold) {
			cur.entries = append(cur.entries, e)
			cur.end = max(cur.end, e.entry.End())
			continue
		}
		sets = append(sets, fetchSet{
			priority: e.priority,
			entries:  []*fetchEntry{e},
			start:    e.entry.Offset,
			end:      e.entry.End(),
		})
		cur = &sets[len(sets)-1]
	}

	if len(entries)*10 >= totalEntries*9 {
		slices.SortStableFunc(sets, func(a, b fetchSet) int {
			if c := cmp.Compare(b.priority, a.priority); c != 0 {
				return c
			}
			return cmp.Compare(a.start, b.start)
		})
		return sets
	}
	slices.SortStableFunc(sets, func(a, b fetchSet) int {
		if c := cmp.Compare(b.priority, a.priority); c != 0 {
			return c
		}
		// Files per byte, highest first: a.n/a.size > b.n/b.size.
		// Sizes are offset by one so empty sets compare sanely.
		ra := uint64(len(a.entries)) * (b.size() + 1)
		rb := uint64(len(b.entries)) * (a.size() + 1)
		if c := cmp.Compare(rb, ra); c != 0 {
			return c
		}
		return cmp.Compare(a.start, b.start)
	})
	return sets
}

func canJoin(s *fetchSet, e *fetchEntry, maxSize, threshold uint64) bool {
	off := e.entry.Offset
	switch {
	case e.priority != s.priority:
		return false
	case off < s.end:
		return false
	case off-s.end > threshold:
		return false
	case e.entry.End()-s.start > maxSize:
		return false
	}
	return true
}
