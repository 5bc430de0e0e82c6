package sarfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/sarfs/internal/testutil"
	"github.com/meigma/sarfs/sar"
)

func TestPopulateCopiesOnlyIdenticalFiles(t *testing.T) {
	t.Parallel()
	files := testutil.Files(8, 400, 1)
	paths := testutil.Paths(files)

	// Same path, same size, different bytes.
	aux := testutil.Files(8, 400, 1)
	aux[2].Data = append([]byte(nil), aux[2].Data...)
	aux[2].Data[10] ^= 0x55
	// Different size.
	aux[5].Data = aux[5].Data[:100]
	auxPath, _ := testutil.WriteArchive(t, "aux.sar", aux)

	srv, data := newArchiveServer(t, files)
	settings := testSettings(t, srv.URL)
	settings.PopulatePackages = []string{auxPath}
	fs := newTestFS(t, settings)
	w := newTestWorker(t, fs)

	for i, p := range paths {
		assert.Equal(t, i != 2 && i != 5, fs.IsCrc32Ok(p), p.String())
	}
	// Only the header and the file table came over the network.
	assert.Len(t, srv.Ranges(), 2)
	assert.FileExists(t, auxPath)

	onDisk := readPackage(t, fs)
	for _, i := range []int{2, 5} {
		start, end := entrySpan(t, w.pkg, paths[i])
		assert.Equal(t, make([]byte, end-start), onDisk[start:end], paths[i].String())
	}
	start, end := entrySpan(t, w.pkg, paths[0])
	assert.Equal(t, data[start:end], onDisk[start:end])
}

func TestPopulateSkipsIncompatibleArchive(t *testing.T) {
	t.Parallel()
	files := testutil.Files(4, 200, 2)
	auxPath, _ := testutil.WriteArchive(t, "aux.sar", files, sar.WithObfuscation(true))

	srv, _ := newArchiveServer(t, files)
	settings := testSettings(t, srv.URL)
	settings.PopulatePackages = []string{auxPath, "/does/not/exist.sar"}
	fs := newTestFS(t, settings)
	newTestWorker(t, fs)

	for _, p := range testutil.Paths(files) {
		assert.False(t, fs.IsCrc32Ok(p))
	}
	assert.Zero(t, fs.Stats().Events[EventPopulatedFiles])
}

func TestCompatible(t *testing.T) {
	t.Parallel()
	files := testutil.Files(3, 200, 3)
	dictA := []byte("dictionary-a-dictionary-a-dictionary-a")
	dictB := []byte("dictionary-b-dictionary-b-dictionary-b")

	open := func(opts ...sar.BuildOption) *sar.PackageFS {
		path, _ := testutil.WriteArchive(t, "pkg.sar", files, opts...)
		pkg := sar.Open(path)
		require.True(t, pkg.IsOk())
		t.Cleanup(func() { _ = pkg.Close() })
		return pkg
	}
	plain := open()
	tests := []struct {
		name string
		a, b *sar.PackageFS
		want bool
	}{
		{"same encoding", plain, open(sar.WithBuildChangelist(9, 9)), true},
		{"obfuscation differs", plain, open(sar.WithObfuscation(true)), false},
		{"compression scheme differs", plain, open(sar.WithCompression(sar.CompressionLZ4)), false},
		{"dictionary presence differs", plain, open(sar.WithCompressionDict(dictA)), false},
		{"same dictionary", open(sar.WithCompressionDict(dictA)), open(sar.WithCompressionDict(dictA)), true},
		{"different dictionary", open(sar.WithCompressionDict(dictA)), open(sar.WithCompressionDict(dictB)), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compatible(tt.a, tt.b), tt.name)
		assert.Equal(t, tt.want, compatible(tt.b, tt.a), tt.name)
	}
}
