package sar

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/sarfs/internal/sizing"
)

// CompressionDictPath is the path of the shared zstd dictionary entry.
var CompressionDictPath = FilePath{
	Directory: GameDirectoryConfig,
	Type:      FileTypeCompressionDict,
	Name:      "pkgcdict",
}

// PackageFS provides random access to a single archive file.
//
// A PackageFS is always returned by Open, even when the archive is missing or
// damaged; IsOk reports whether the header and file table loaded. A PackageFS
// that is not ok can still CommitChange when opened writable, which is how a
// fresh archive is filled in.
//
// Reads and commits use positional I/O and are safe for concurrent use.
type PackageFS struct {
	path             string
	writable         bool
	tolerant         bool
	crcConcurrency   int
	maxDecoderMemory uint64
	logger           *slog.Logger

	file    *os.File
	header  Header
	table   *FileTable
	codec   *codec
	loadErr error

	dictMu        sync.Mutex
	dictProcessed atomic.Bool
}

// Open opens the archive at path.
func Open(path string, opts ...Option) *PackageFS {
	p := &PackageFS{path: path}
	for _, opt := range opts {
		opt(p)
	}
	if p.crcConcurrency < 1 {
		p.crcConcurrency = runtime.GOMAXPROCS(0)
	}
	if err := p.load(); err != nil {
		p.loadErr = err
		p.log().Debug("archive not ok", slog.String("path", path), slog.Any("error", err))
	}
	return p
}

func (p *PackageFS) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

func (p *PackageFS) load() error {
	flag := os.O_RDONLY
	if p.writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(p.path, flag, 0)
	if err != nil {
		return err
	}
	p.file = f

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size < HeaderSize {
		return fmt.Errorf("%w: file is %d bytes", ErrInvalidHeader, size)
	}

	var hb [HeaderSize]byte
	if _, err := f.ReadAt(hb[:], 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	h, err := ParseHeader(hb[:])
	if err != nil {
		return err
	}
	if uint64(size) < h.TotalSize || (!p.tolerant && uint64(size) != h.TotalSize) {
		return fmt.Errorf("%w: file is %d bytes, header declares %d", ErrInvalidHeader, size, h.TotalSize)
	}

	tableOffset, err := sizing.Fit[int64](h.FileTableOffset, ErrSizeOverflow)
	if err != nil {
		return err
	}
	raw := make([]byte, h.FileTableSize)
	if _, err := f.ReadAt(raw, tableOffset); err != nil {
		return fmt.Errorf("read file table: %w", err)
	}
	if h.HasCompressedFileTable() {
		if raw, err = decompressFileTable(raw, p.maxDecoderMemory); err != nil {
			return err
		}
	}
	table, err := DecodeFileTable(raw)
	if err != nil {
		return err
	}
	if err := table.validate(h); err != nil {
		return err
	}

	p.header = h
	p.table = table
	p.codec = newCodec(h.IsOldLZ4Compression(), p.maxDecoderMemory)

	if !p.tolerant {
		if _, ok := p.CompressionDictFilePath(); ok {
			if err := p.ProcessCompressionDict(); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsOk reports whether the header and file table loaded.
func (p *PackageFS) IsOk() bool {
	return p.loadErr == nil
}

// Err returns the reason the archive is not ok, or nil.
func (p *PackageFS) Err() error {
	return p.loadErr
}

// Path returns the absolute path of the archive file.
func (p *PackageFS) Path() string {
	return p.path
}

// Header returns the archive header. It is the zero Header when not ok.
func (p *PackageFS) Header() Header {
	return p.header
}

// FileTable returns the file table, or nil when not ok.
func (p *PackageFS) FileTable() *FileTable {
	return p.table
}

// HasPostCrc32 reports whether entries carry a CRC32 of their stored bytes.
func (p *PackageFS) HasPostCrc32() bool {
	return p.IsOk() && p.header.HasPostCrc32()
}

// Exists reports whether path is in the file table.
func (p *PackageFS) Exists(path FilePath) bool {
	_, ok := p.table.Lookup(path)
	return ok
}

// Entry returns the file table entry for path.
func (p *PackageFS) Entry(path FilePath) (Entry, bool) {
	return p.table.Lookup(path)
}

// FileTableAsEntries returns one unchecked Crc32Entry per file, in offset order.
func (p *PackageFS) FileTableAsEntries() []Crc32Entry {
	entries := make([]Crc32Entry, 0, p.table.Len())
	for path, e := range p.table.All() {
		entries = append(entries, Crc32Entry{Path: path, Entry: e})
	}
	return entries
}

// CompressionDictFilePath returns the dictionary path if the archive has one.
func (p *PackageFS) CompressionDictFilePath() (FilePath, bool) {
	if p.Exists(CompressionDictPath) {
		return CompressionDictPath, true
	}
	return FilePath{}, false
}

// IsCompressionDictProcessed reports whether the dictionary has been loaded.
func (p *PackageFS) IsCompressionDictProcessed() bool {
	return p.dictProcessed.Load()
}

// ProcessCompressionDict reads and verifies the compression dictionary entry
// and binds it to the decoder. It is a no-op once it has succeeded.
func (p *PackageFS) ProcessCompressionDict() error {
	if p.dictProcessed.Load() {
		return nil
	}
	p.dictMu.Lock()
	defer p.dictMu.Unlock()
	if p.dictProcessed.Load() {
		return nil
	}

	e, ok := p.table.Lookup(CompressionDictPath)
	if !ok {
		return ErrNoCompressionDict
	}
	size, err := sizing.Fit[int](e.CompressedSize, ErrSizeOverflow)
	if err != nil {
		return err
	}
	dict := make([]byte, size)
	if err := p.ReadRaw(e.Offset, dict); err != nil {
		return err
	}
	if crc32.ChecksumIEEE(dict) != e.Crc32Pre {
		return fmt.Errorf("%w: compression dictionary", ErrCrc32Mismatch)
	}
	p.codec.setDict(dict)
	p.dictProcessed.Store(true)
	p.log().Debug("compression dictionary processed", slog.Int("size", size))
	return nil
}

// CommitChange writes data at offset. It works on an archive that is not ok
// so that header and file table bytes can be written into a fresh file.
func (p *PackageFS) CommitChange(data []byte, offset uint64) error {
	if !p.writable {
		return ErrReadOnly
	}
	if p.file == nil {
		return fmt.Errorf("%w: %w", ErrNotOk, p.loadErr)
	}
	off, err := sizing.Fit[int64](offset, ErrSizeOverflow)
	if err != nil {
		return err
	}
	if _, err := p.file.WriteAt(data, off); err != nil {
		return fmt.Errorf("commit %d bytes at %d: %w", len(data), offset, err)
	}
	return nil
}

// ReadRaw reads stored bytes at offset into buf without decoding them.
func (p *PackageFS) ReadRaw(offset uint64, buf []byte) error {
	if p.file == nil {
		return fmt.Errorf("%w: %w", ErrNotOk, p.loadErr)
	}
	off, err := sizing.Fit[int64](offset, ErrSizeOverflow)
	if err != nil {
		return err
	}
	n, err := p.file.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("read %d bytes at %d: %w", len(buf), offset, err)
}

// ReadAll returns the decoded contents of path.
func (p *PackageFS) ReadAll(path FilePath) ([]byte, error) {
	if !p.IsOk() {
		return nil, fmt.Errorf("%w: %w", ErrNotOk, p.loadErr)
	}
	e, ok := p.table.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
	}
	return p.decode(path, e)
}

// Open returns a reader over the decoded contents of path.
func (p *PackageFS) Open(path FilePath) (*File, error) {
	data, err := p.ReadAll(path)
	if err != nil {
		return nil, err
	}
	return newFile(path, data), nil
}

// decode reads the stored payload of e and undoes obfuscation and compression.
func (p *PackageFS) decode(path FilePath, e Entry) ([]byte, error) {
	size, err := sizing.Fit[int](e.CompressedSize, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	data := make([]byte, size)
	if err := p.ReadRaw(e.Offset, data); err != nil {
		return nil, err
	}
	if path == CompressionDictPath {
		return data, nil
	}
	if p.header.IsObfuscated() {
		Obfuscate(ObfuscationKey(path.RelativePath()), data, 0)
	}
	if !e.IsCompressed() {
		return data, nil
	}
	if !p.header.IsOldLZ4Compression() {
		if _, ok := p.CompressionDictFilePath(); ok {
			if err := p.ProcessCompressionDict(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrNoCompressionDict, err)
			}
		}
	}
	return p.codec.decompress(data, e.UncompressedSize)
}

// Close releases the archive file.
func (p *PackageFS) Close() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// CreateSparse replaces the file at path with a zero-filled file of size
// bytes. On filesystems that support it the file is sparse.
func CreateSparse(path string, size uint64) error {
	n, err := sizing.Fit[int64](size, ErrSizeOverflow)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Truncate(n); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Crc32Entry pairs a file table entry with the result of a CRC32 check.
type Crc32Entry struct {
	Path  FilePath
	Entry Entry
	Ok    bool
}

// PerformCrc32Check verifies every entry against the archive on disk and sets
// its Ok field. Entries are checked in parallel. The only error is ctx's.
func (p *PackageFS) PerformCrc32Check(ctx context.Context, entries []Crc32Entry) error {
	if !p.IsOk() {
		for i := range entries {
			entries[i].Ok = false
		}
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.crcConcurrency)
	for i := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entries[i].Ok = p.checkEntry(entries[i].Path, entries[i].Entry) == nil
			return nil
		})
	}
	return g.Wait()
}

// CheckFile verifies a single file against the archive on disk.
func (p *PackageFS) CheckFile(path FilePath) bool {
	e, ok := p.table.Lookup(path)
	if !ok || !p.IsOk() {
		return false
	}
	return p.checkEntry(path, e) == nil
}

func (p *PackageFS) checkEntry(path FilePath, e Entry) error {
	if p.header.HasPostCrc32() {
		off, err := sizing.Fit[int64](e.Offset, ErrSizeOverflow)
		if err != nil {
			return err
		}
		size, err := sizing.Fit[int64](e.CompressedSize, ErrSizeOverflow)
		if err != nil {
			return err
		}
		h := crc32.NewIEEE()
		if _, err := io.Copy(h, io.NewSectionReader(p.file, off, size)); err != nil {
			return err
		}
		if h.Sum32() != e.Crc32Post {
			return ErrCrc32Mismatch
		}
		return nil
	}

	data, err := p.decode(path, e)
	if err != nil {
		return err
	}
	if crc32.ChecksumIEEE(data) != e.Crc32Pre {
		return ErrCrc32Mismatch
	}
	return nil
}
