package sarfs

import (
	"context"
	"errors"
	"hash/crc32"
	"log/slog"
	"os"
	"time"

	"github.com/meigma/sarfs/internal/sizing"
	"github.com/meigma/sarfs/sar"
)

// compatible reports whether raw payload bytes can be copied from src into
// dst unchanged: both must encode payloads the same way.
func compatible(dst, src *sar.PackageFS) bool {
	dh, sh := dst.Header(), src.Header()
	if dh.IsObfuscated() != sh.IsObfuscated() || dh.IsOldLZ4Compression() != sh.IsOldLZ4Compression() {
		return false
	}
	dd, dstHasDict := dst.Entry(sar.CompressionDictPath)
	sd, srcHasDict := src.Entry(sar.CompressionDictPath)
	if dstHasDict != srcHasDict {
		return false
	}
	return !dstHasDict || (dd.CompressedSize == sd.CompressedSize && dd.Crc32Pre == sd.Crc32Pre)
}

// populateFrom copies unverified files that have identical healthy copies in
// the archive at srcPath. It returns the number of files copied. The source
// is deleted afterwards when deleteAfter is set.
func (fs *FileSystem) populateFrom(ctx context.Context, pkg *sar.PackageFS, srcPath string, deleteAfter bool) int {
	if deleteAfter {
		defer func() {
			if err := os.Remove(srcPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				fs.log().Warn("remove populate source", slog.String("path", srcPath), slog.Any("error", err))
			}
		}()
	}

	remaining := fs.crc.remaining()
	if len(remaining) == 0 {
		return 0
	}
	src := sar.Open(srcPath, fs.packageOptions...)
	defer src.Close() //nolint:errcheck // read-only source
	if !src.IsOk() {
		fs.log().Debug("populate source not ok", slog.String("path", srcPath), slog.Any("error", src.Err()))
		return 0
	}
	if !compatible(pkg, src) {
		fs.log().Info("populate source incompatible", slog.String("path", srcPath))
		return 0
	}

	candidates := make([]sar.Crc32Entry, 0, len(remaining))
	for _, p := range remaining {
		if e, ok := src.Entry(p); ok {
			candidates = append(candidates, sar.Crc32Entry{Path: p, Entry: e})
		}
	}
	if err := src.PerformCrc32Check(ctx, candidates); err != nil {
		return 0
	}

	copied := 0
	for _, c := range candidates {
		if !c.Ok || !fs.running.Load() {
			continue
		}
		if fs.copyEntry(pkg, src, c) {
			fs.crc.setOk(c.Path)
			copied++
		}
	}
	fs.log().Info("populated from package",
		slog.String("path", srcPath),
		slog.Int("candidates", len(candidates)),
		slog.Int("copied", copied))
	return copied
}

// copyEntry copies one stored payload from src into pkg. The entries must
// describe the same file.
func (fs *FileSystem) copyEntry(pkg, src *sar.PackageFS, c sar.Crc32Entry) bool {
	dst, ok := pkg.Entry(c.Path)
	if !ok ||
		dst.CompressedSize != c.Entry.CompressedSize ||
		dst.UncompressedSize != c.Entry.UncompressedSize ||
		dst.Crc32Pre != c.Entry.Crc32Pre {
		return false
	}
	size, err := sizing.Fit[int](dst.CompressedSize, sar.ErrSizeOverflow)
	if err != nil {
		return false
	}
	buf := make([]byte, size)
	if err := src.ReadRaw(c.Entry.Offset, buf); err != nil {
		fs.log().Debug("read populate entry", slog.String("path", c.Path.String()), slog.Any("error", err))
		return false
	}
	if pkg.HasPostCrc32() && crc32.ChecksumIEEE(buf) != dst.Crc32Post {
		return false
	}
	if err := pkg.CommitChange(buf, dst.Offset); err != nil {
		fs.stats.event(EventCommitFailure, 1)
		fs.log().Warn("commit populated entry", slog.String("path", c.Path.String()), slog.Any("error", err))
		return false
	}
	return true
}

// populateAll copies from the .old sidecar, deleting it afterwards, and then
// from each configured populate package.
func (fs *FileSystem) populateAll(ctx context.Context, pkg *sar.PackageFS) {
	began := time.Now()
	copied := 0
	old := oldPackagePath(fs.settings.PackagePath)
	if _, err := os.Stat(old); err == nil {
		copied += fs.populateFrom(ctx, pkg, old, true)
	}
	for _, p := range fs.settings.PopulatePackages {
		copied += fs.populateFrom(ctx, pkg, p, false)
	}
	fs.stats.timing(EventPopulate, time.Since(began))
	if copied > 0 {
		fs.stats.event(EventPopulatedFiles, uint64(copied))
	}
}
