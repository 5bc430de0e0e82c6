package sar

import "log/slog"

// Option configures a PackageFS.
type Option func(*PackageFS)

// WithWritable opens the archive for writing so CommitChange can be used.
func WithWritable() Option {
	return func(p *PackageFS) {
		p.writable = true
	}
}

// WithTolerateIncomplete accepts an archive whose payloads have not all been
// written yet. The header and file table must still be valid. The compression
// dictionary is processed lazily instead of at open.
func WithTolerateIncomplete() Option {
	return func(p *PackageFS) {
		p.tolerant = true
	}
}

// WithLogger sets the logger for archive diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *PackageFS) {
		p.logger = logger
	}
}

// WithCrcConcurrency bounds the number of entries checked in parallel by
// PerformCrc32Check. Values < 1 use GOMAXPROCS.
func WithCrcConcurrency(n int) Option {
	return func(p *PackageFS) {
		p.crcConcurrency = n
	}
}

// WithMaxDecoderMemory limits the memory used by each zstd decoder.
// Set limit to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(p *PackageFS) {
		p.maxDecoderMemory = limit
	}
}
