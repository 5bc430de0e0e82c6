package sar

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size in bytes of an encoded Header.
const HeaderSize = 48

// Header identification.
const (
	HeaderSignature uint32 = 0x53415246
	HeaderVersion   uint32 = 1
)

// Flags describe how an archive was built.
type Flags uint16

// Archive flags.
const (
	// FlagCompressedFileTable marks a zstd-compressed file table.
	FlagCompressedFileTable Flags = 1 << iota

	// FlagObfuscated marks payloads XORed with a per-file keystream.
	FlagObfuscated

	// FlagOldLZ4Compression marks payloads compressed with LZ4 instead of zstd.
	FlagOldLZ4Compression

	// FlagPostCrc32 marks entries that carry a CRC32 of their stored bytes.
	FlagPostCrc32
)

// Header is the fixed-size record at offset 0 of every archive.
//
// Header is comparable; two archives with equal headers are the same build of
// the same package.
type Header struct {
	Signature         uint32
	Version           uint32
	TotalSize         uint64
	FileTableOffset   uint64
	FileTableSize     uint32
	TotalEntries      uint32
	BuildChangelist   uint32
	BuildVersionMajor uint16
	PackageVariation  uint16
	GameDirectory     GameDirectory
	Platform          uint8
	Flags             Flags
	Reserved          [4]byte
}

// IsObfuscated reports whether payloads are obfuscated.
func (h Header) IsObfuscated() bool { return h.Flags&FlagObfuscated != 0 }

// HasCompressedFileTable reports whether the file table is compressed.
func (h Header) HasCompressedFileTable() bool { return h.Flags&FlagCompressedFileTable != 0 }

// IsOldLZ4Compression reports whether payloads use the old LZ4 scheme.
func (h Header) IsOldLZ4Compression() bool { return h.Flags&FlagOldLZ4Compression != 0 }

// HasPostCrc32 reports whether entries carry a CRC32 of their stored bytes.
func (h Header) HasPostCrc32() bool { return h.Flags&FlagPostCrc32 != 0 }

// AppendBinary appends the encoded header to b.
func (h Header) AppendBinary(b []byte) ([]byte, error) {
	var buf [HeaderSize]byte
	le := binary.LittleEndian
	le.PutUint32(buf[0:], h.Signature)
	le.PutUint32(buf[4:], h.Version)
	le.PutUint64(buf[8:], h.TotalSize)
	le.PutUint64(buf[16:], h.FileTableOffset)
	le.PutUint32(buf[24:], h.FileTableSize)
	le.PutUint32(buf[28:], h.TotalEntries)
	le.PutUint32(buf[32:], h.BuildChangelist)
	le.PutUint16(buf[36:], h.BuildVersionMajor)
	le.PutUint16(buf[38:], h.PackageVariation)
	buf[40] = byte(h.GameDirectory)
	buf[41] = h.Platform
	le.PutUint16(buf[42:], uint16(h.Flags))
	copy(buf[44:], h.Reserved[:])
	return append(b, buf[:]...), nil
}

// MarshalBinary encodes the header into HeaderSize bytes.
func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize))
}

// ParseHeader decodes and validates a header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("%w: size %d, want %d", ErrInvalidHeader, len(b), HeaderSize)
	}
	le := binary.LittleEndian
	h := Header{
		Signature:         le.Uint32(b[0:]),
		Version:           le.Uint32(b[4:]),
		TotalSize:         le.Uint64(b[8:]),
		FileTableOffset:   le.Uint64(b[16:]),
		FileTableSize:     le.Uint32(b[24:]),
		TotalEntries:      le.Uint32(b[28:]),
		BuildChangelist:   le.Uint32(b[32:]),
		BuildVersionMajor: le.Uint16(b[36:]),
		PackageVariation:  le.Uint16(b[38:]),
		GameDirectory:     GameDirectory(b[40]),
		Platform:          b[41],
		Flags:             Flags(le.Uint16(b[42:])),
	}
	copy(h.Reserved[:], b[44:])

	if h.Signature != HeaderSignature {
		return Header{}, fmt.Errorf("%w: bad signature %#x", ErrInvalidHeader, h.Signature)
	}
	if h.Version != HeaderVersion {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidHeader, h.Version)
	}
	if h.FileTableOffset < HeaderSize || h.FileTableOffset > h.TotalSize ||
		uint64(h.FileTableSize) > h.TotalSize-h.FileTableOffset {
		return Header{}, fmt.Errorf("%w: file table [%d,+%d) outside archive of %d bytes",
			ErrInvalidHeader, h.FileTableOffset, h.FileTableSize, h.TotalSize)
	}
	return h, nil
}
