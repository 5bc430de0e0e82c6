// Package testutil provides archive fixtures and a fault-injecting HTTP range
// server for tests.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/meigma/sarfs/sar"
)

// Files returns n deterministic files of roughly size bytes each under
// content://files/. File i is named "file%03d.txt" and its contents depend on
// seed, so two calls with different seeds produce different archives with the
// same paths.
func Files(n, size int, seed byte) []sar.BuildFile {
	files := make([]sar.BuildFile, n)
	for i := range files {
		data := make([]byte, size+i)
		for j := range data {
			// Mix a compressible pattern with per-file variation.
			data[j] = byte(j/7) ^ byte(i*31) ^ seed
		}
		files[i] = sar.BuildFile{
			Path: sar.FilePath{
				Directory: sar.GameDirectoryContent,
				Type:      sar.FileTypeText,
				Name:      fmt.Sprintf("files/file%03d", i),
			},
			Data: data,
		}
	}
	return files
}

// Paths returns the paths of files in order.
func Paths(files []sar.BuildFile) []sar.FilePath {
	paths := make([]sar.FilePath, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}

// BuildArchive builds an archive in memory.
func BuildArchive(tb testing.TB, files []sar.BuildFile, opts ...sar.BuildOption) ([]byte, sar.Header) {
	tb.Helper()
	var buf bytes.Buffer
	h, err := sar.Build(&buf, files, opts...)
	if err != nil {
		tb.Fatalf("build archive: %v", err)
	}
	return buf.Bytes(), h
}

// WriteArchive builds an archive and writes it to name inside a temp dir.
// It returns the absolute path and the archive bytes.
func WriteArchive(tb testing.TB, name string, files []sar.BuildFile, opts ...sar.BuildOption) (string, []byte) {
	tb.Helper()
	data, _ := BuildArchive(tb, files, opts...)
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write archive: %v", err)
	}
	return path, data
}
