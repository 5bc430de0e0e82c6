package sar

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"slices"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/meigma/sarfs/internal/sizing"
	"github.com/meigma/sarfs/sar/internal/fb"
)

// fileTableVersion is the schema version written into encoded file tables.
const fileTableVersion = 1

// Entry locates one file inside an archive.
type Entry struct {
	// Offset is the absolute archive offset of the stored payload.
	Offset uint64

	// CompressedSize is the stored payload size. It equals UncompressedSize
	// when the payload is stored without compression.
	CompressedSize uint64

	// UncompressedSize is the size of the original file.
	UncompressedSize uint64

	// ModifiedTime is the source file modification time in Unix seconds.
	ModifiedTime uint64

	// Crc32Pre is the CRC32 of the original file bytes.
	Crc32Pre uint32

	// Crc32Post is the CRC32 of the stored payload bytes. It is only
	// meaningful when the header has FlagPostCrc32.
	Crc32Post uint32
}

// End returns the exclusive end offset of the stored payload.
func (e Entry) End() uint64 {
	return e.Offset + e.CompressedSize
}

// IsCompressed reports whether the payload is stored compressed.
func (e Entry) IsCompressed() bool {
	return e.CompressedSize != e.UncompressedSize
}

// FileTable maps paths to entries. Iteration is in archive offset order.
type FileTable struct {
	entries map[FilePath]Entry
	order   []FilePath
}

// NewFileTable builds a table from a path-to-entry map.
func NewFileTable(entries map[FilePath]Entry) *FileTable {
	t := &FileTable{
		entries: make(map[FilePath]Entry, len(entries)),
		order:   make([]FilePath, 0, len(entries)),
	}
	for p, e := range entries {
		t.entries[p] = e
		t.order = append(t.order, p)
	}
	t.sortOrder()
	return t
}

func (t *FileTable) sortOrder() {
	slices.SortFunc(t.order, func(a, b FilePath) int {
		ea, eb := t.entries[a], t.entries[b]
		if c := cmp.Compare(ea.Offset, eb.Offset); c != 0 {
			return c
		}
		return cmp.Compare(a.String(), b.String())
	})
}

// Lookup returns the entry for path.
func (t *FileTable) Lookup(path FilePath) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.entries[path]
	return e, ok
}

// Len returns the number of entries.
func (t *FileTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Paths returns every path in offset order. The slice is a copy.
func (t *FileTable) Paths() []FilePath {
	if t == nil {
		return nil
	}
	return slices.Clone(t.order)
}

// All returns an iterator over paths and entries in offset order.
func (t *FileTable) All() iter.Seq2[FilePath, Entry] {
	return func(yield func(FilePath, Entry) bool) {
		if t == nil {
			return
		}
		for _, p := range t.order {
			if !yield(p, t.entries[p]) {
				return
			}
		}
	}
}

// EncodeFileTable serializes the table with FlatBuffers.
func EncodeFileTable(t *FileTable) []byte {
	builder := flatbuffers.NewBuilder(1024)

	// FlatBuffers builds back to front; offsets are collected in reverse so
	// the vector keeps offset order.
	n := t.Len()
	offsets := make([]flatbuffers.UOffsetT, n)
	for i := n - 1; i >= 0; i-- {
		p := t.order[i]
		e := t.entries[p]
		pathOffset := builder.CreateString(p.String())
		fb.EntryStart(builder)
		fb.EntryAddPath(builder, pathOffset)
		fb.EntryAddOffset(builder, e.Offset)
		fb.EntryAddCompressedSize(builder, e.CompressedSize)
		fb.EntryAddUncompressedSize(builder, e.UncompressedSize)
		fb.EntryAddModifiedTime(builder, e.ModifiedTime)
		fb.EntryAddCrc32Pre(builder, e.Crc32Pre)
		fb.EntryAddCrc32Post(builder, e.Crc32Post)
		offsets[i] = fb.EntryEnd(builder)
	}

	fb.FileTableStartEntriesVector(builder, n)
	for i := n - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entriesOffset := builder.EndVector(n)

	fb.FileTableStart(builder)
	fb.FileTableAddVersion(builder, fileTableVersion)
	fb.FileTableAddEntries(builder, entriesOffset)
	builder.Finish(fb.FileTableEnd(builder))
	return builder.FinishedBytes()
}

// DecodeFileTable parses a FlatBuffers-encoded file table.
func DecodeFileTable(data []byte) (t *FileTable, err error) {
	defer func() {
		if r := recover(); r != nil {
			t = nil
			err = fmt.Errorf("%w: %v", ErrInvalidFileTable, r)
		}
	}()
	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidFileTable, len(data))
	}

	root := fb.GetRootAsFileTable(data, 0)
	if v := root.Version(); v != fileTableVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFileTable, v)
	}

	n := root.EntriesLength()
	t = &FileTable{
		entries: make(map[FilePath]Entry, n),
		order:   make([]FilePath, 0, n),
	}
	var fbEntry fb.Entry
	for i := range n {
		if !root.Entries(&fbEntry, i) {
			return nil, fmt.Errorf("%w: missing entry %d", ErrInvalidFileTable, i)
		}
		p, perr := ParseFilePath(string(fbEntry.Path()))
		if perr != nil {
			return nil, errors.Join(ErrInvalidFileTable, perr)
		}
		if _, dup := t.entries[p]; dup {
			return nil, fmt.Errorf("%w: duplicate path %s", ErrInvalidFileTable, p)
		}
		t.entries[p] = Entry{
			Offset:           fbEntry.Offset(),
			CompressedSize:   fbEntry.CompressedSize(),
			UncompressedSize: fbEntry.UncompressedSize(),
			ModifiedTime:     fbEntry.ModifiedTime(),
			Crc32Pre:         fbEntry.Crc32Pre(),
			Crc32Post:        fbEntry.Crc32Post(),
		}
		t.order = append(t.order, p)
	}
	t.sortOrder()
	return t, nil
}

// validate checks that every entry lies between the header and the file table.
func (t *FileTable) validate(h Header) error {
	for p, e := range t.All() {
		end, ok := sizing.Within(e.Offset, e.CompressedSize, HeaderSize, h.FileTableOffset)
		if !ok {
			return fmt.Errorf("%w: %s spans [%d,%d) outside payload area", ErrInvalidFileTable, p, e.Offset, end)
		}
	}
	if uint64(t.Len()) != uint64(h.TotalEntries) {
		return fmt.Errorf("%w: %d entries, header declares %d", ErrInvalidFileTable, t.Len(), h.TotalEntries)
	}
	return nil
}
