package sar

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"slices"
	"time"
)

// Compression selects the payload compression scheme used by Build.
type Compression uint8

// Compression schemes.
const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses the String form of a Compression.
func ParseCompression(s string) (Compression, error) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("sar: unknown compression %q", s)
}

// BuildFile is one input file for Build.
type BuildFile struct {
	Path    FilePath
	Data    []byte
	ModTime time.Time
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	compression       Compression
	obfuscate         bool
	postCrc32         bool
	compressedTable   bool
	dict              []byte
	gameDirectory     GameDirectory
	buildChangelist   uint32
	buildVersionMajor uint16
	packageVariation  uint16
	platform          uint8
}

// WithCompression sets the payload compression scheme (default: zstd).
func WithCompression(c Compression) BuildOption {
	return func(cfg *buildConfig) {
		cfg.compression = c
	}
}

// WithObfuscation enables per-file payload obfuscation.
func WithObfuscation(enabled bool) BuildOption {
	return func(cfg *buildConfig) {
		cfg.obfuscate = enabled
	}
}

// WithPostCrc32 controls whether entries record a CRC32 of their stored
// bytes (default: true).
func WithPostCrc32(enabled bool) BuildOption {
	return func(cfg *buildConfig) {
		cfg.postCrc32 = enabled
	}
}

// WithCompressedFileTable enables zstd compression of the file table.
func WithCompressedFileTable(enabled bool) BuildOption {
	return func(cfg *buildConfig) {
		cfg.compressedTable = enabled
	}
}

// WithCompressionDict stores dict in the archive at CompressionDictPath and
// compresses every other payload against it. Requires zstd compression.
func WithCompressionDict(dict []byte) BuildOption {
	return func(cfg *buildConfig) {
		cfg.dict = dict
	}
}

// WithGameDirectory records the directory the archive serves.
func WithGameDirectory(dir GameDirectory) BuildOption {
	return func(cfg *buildConfig) {
		cfg.gameDirectory = dir
	}
}

// WithBuildChangelist records the source changelist and major version.
func WithBuildChangelist(changelist uint32, versionMajor uint16) BuildOption {
	return func(cfg *buildConfig) {
		cfg.buildChangelist = changelist
		cfg.buildVersionMajor = versionMajor
	}
}

// WithPlatform records the target platform and package variation.
func WithPlatform(platform uint8, variation uint16) BuildOption {
	return func(cfg *buildConfig) {
		cfg.platform = platform
		cfg.packageVariation = variation
	}
}

// Build writes a complete archive containing files to w and returns its
// header. Files are laid out in path order.
func Build(w io.Writer, files []BuildFile, opts ...BuildOption) (Header, error) {
	cfg := buildConfig{
		compression: CompressionZstd,
		postCrc32:   true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.dict != nil && cfg.compression != CompressionZstd {
		return Header{}, errors.New("sar: compression dictionary requires zstd")
	}

	inputs := slices.Clone(files)
	if cfg.dict != nil {
		inputs = append(inputs, BuildFile{Path: CompressionDictPath, Data: cfg.dict})
	}
	seen := make(map[FilePath]struct{}, len(inputs))
	for _, f := range inputs {
		if !f.Path.IsValid() {
			return Header{}, fmt.Errorf("%w: %q", ErrInvalidPath, f.Path)
		}
		if _, dup := seen[f.Path]; dup {
			return Header{}, fmt.Errorf("%w: %s", ErrDuplicatePath, f.Path)
		}
		seen[f.Path] = struct{}{}
	}
	if uint64(len(inputs)) > math.MaxUint32 {
		return Header{}, ErrSizeOverflow
	}
	slices.SortFunc(inputs, func(a, b BuildFile) int {
		return cmp.Compare(a.Path.String(), b.Path.String())
	})

	enc, err := newEncoder(cfg.compression, cfg.dict)
	if err != nil {
		return Header{}, err
	}
	defer enc.close()

	var payload bytes.Buffer
	entries := make(map[FilePath]Entry, len(inputs))
	offset := uint64(HeaderSize)
	for _, f := range inputs {
		stored, err := cfg.encodePayload(enc, f)
		if err != nil {
			return Header{}, fmt.Errorf("encode %s: %w", f.Path, err)
		}
		e := Entry{
			Offset:           offset,
			CompressedSize:   uint64(len(stored)),
			UncompressedSize: uint64(len(f.Data)),
			Crc32Pre:         crc32.ChecksumIEEE(f.Data),
		}
		if !f.ModTime.IsZero() && f.ModTime.Unix() > 0 {
			e.ModifiedTime = uint64(f.ModTime.Unix()) //nolint:gosec // checked positive
		}
		if cfg.postCrc32 {
			e.Crc32Post = crc32.ChecksumIEEE(stored)
		}
		entries[f.Path] = e
		payload.Write(stored)
		offset += uint64(len(stored))
	}

	table := EncodeFileTable(NewFileTable(entries))
	if cfg.compressedTable {
		if table, err = compressFileTable(table); err != nil {
			return Header{}, err
		}
	}
	if uint64(len(table)) > math.MaxUint32 {
		return Header{}, ErrSizeOverflow
	}

	h := Header{
		Signature:         HeaderSignature,
		Version:           HeaderVersion,
		TotalSize:         offset + uint64(len(table)),
		FileTableOffset:   offset,
		FileTableSize:     uint32(len(table)),  //nolint:gosec // checked above
		TotalEntries:      uint32(len(inputs)), //nolint:gosec // checked above
		BuildChangelist:   cfg.buildChangelist,
		BuildVersionMajor: cfg.buildVersionMajor,
		PackageVariation:  cfg.packageVariation,
		GameDirectory:     cfg.gameDirectory,
		Platform:          cfg.platform,
		Flags:             cfg.flags(),
	}
	hb, err := h.MarshalBinary()
	if err != nil {
		return Header{}, err
	}
	for _, chunk := range [][]byte{hb, payload.Bytes(), table} {
		if _, err := w.Write(chunk); err != nil {
			return Header{}, err
		}
	}
	return h, nil
}

func (cfg *buildConfig) flags() Flags {
	var f Flags
	if cfg.compressedTable {
		f |= FlagCompressedFileTable
	}
	if cfg.obfuscate {
		f |= FlagObfuscated
	}
	if cfg.compression == CompressionLZ4 {
		f |= FlagOldLZ4Compression
	}
	if cfg.postCrc32 {
		f |= FlagPostCrc32
	}
	return f
}

// encodePayload returns the stored form of f. The dictionary is stored as is.
func (cfg *buildConfig) encodePayload(enc *encoder, f BuildFile) ([]byte, error) {
	if f.Path == CompressionDictPath {
		return f.Data, nil
	}
	stored, err := enc.compress(f.Data)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = bytes.Clone(f.Data)
	}
	if cfg.obfuscate {
		Obfuscate(ObfuscationKey(f.Path.RelativePath()), stored, 0)
	}
	return stored, nil
}
