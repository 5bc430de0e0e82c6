//go:generate flatc --go --go-namespace fb -o internal schema/filetable.fbs

// Package sar implements the .sar package archive: a single flat file holding
// a fixed-size header, concatenated file payloads and a file table.
//
// Payloads may be compressed (zstd, or LZ4 for archives built with the old
// scheme, optionally against a shared zstd dictionary) and obfuscated with a
// per-file XOR keystream. Every entry carries a CRC32 of its original bytes
// and, when the archive was built with post-CRC support, a CRC32 of its stored
// bytes so a downloaded range can be verified without decoding it.
//
// PackageFS opens an archive for random access. It tolerates archives that are
// still being filled in place, which is how the parent package downloads them
// incrementally.
package sar
