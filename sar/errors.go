package sar

import "errors"

var (
	// ErrInvalidHeader is returned when archive header bytes are malformed.
	ErrInvalidHeader = errors.New("sar: invalid header")

	// ErrInvalidFileTable is returned when the file table cannot be decoded.
	ErrInvalidFileTable = errors.New("sar: invalid file table")

	// ErrInvalidPath is returned when a path string cannot be parsed.
	ErrInvalidPath = errors.New("sar: invalid path")

	// ErrNotExist is returned when a path is not in the file table.
	ErrNotExist = errors.New("sar: file does not exist")

	// ErrNotOk is returned when an operation needs a healthy archive.
	ErrNotOk = errors.New("sar: archive is not ok")

	// ErrCrc32Mismatch is returned when data does not match its recorded CRC32.
	ErrCrc32Mismatch = errors.New("sar: crc32 mismatch")

	// ErrDecompression is returned when a payload fails to decompress.
	ErrDecompression = errors.New("sar: decompression failed")

	// ErrNoCompressionDict is returned when a payload needs the compression
	// dictionary and it has not been processed.
	ErrNoCompressionDict = errors.New("sar: compression dictionary not processed")

	// ErrSizeOverflow is returned when a size or offset overflows.
	ErrSizeOverflow = errors.New("sar: size overflow")

	// ErrReadOnly is returned by CommitChange on an archive not opened writable.
	ErrReadOnly = errors.New("sar: archive is read-only")

	// ErrDuplicatePath is returned by Build when two files share a path.
	ErrDuplicatePath = errors.New("sar: duplicate path")
)
