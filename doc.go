// Package sarfs provides a network-backed, incrementally verified file system
// over a single .sar package archive.
//
// A FileSystem mirrors a remote archive into a local file of the same layout.
// On start it downloads the remote header and file table, decides whether the
// local archive is current, and if not replaces it with a sparse file that is
// filled in on demand. Files already present in an older local copy or in
// configured auxiliary archives are copied across instead of downloaded.
//
// Callers ask for files with Fetch, Prefetch, Open and ReadAll. A background
// worker batches requested files into contiguous HTTP range requests ordered
// by priority, verifies each file's CRC32, commits the bytes to disk and marks
// the file verified. Fetch blocks, yielding cooperatively, until the file is
// verified or the file system shuts down.
//
// Transient network and server errors are retried indefinitely; callers only
// observe them as latency.
package sarfs
