package sar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTableOrder(t *testing.T) {
	t.Parallel()

	a := FilePath{Directory: GameDirectoryContent, Type: FileTypeText, Name: "a"}
	b := FilePath{Directory: GameDirectoryContent, Type: FileTypeText, Name: "b"}
	c := FilePath{Directory: GameDirectoryContent, Type: FileTypeText, Name: "c"}
	table := NewFileTable(map[FilePath]Entry{
		a: {Offset: 300, CompressedSize: 10, UncompressedSize: 10},
		b: {Offset: 48, CompressedSize: 100, UncompressedSize: 200},
		c: {Offset: 148, CompressedSize: 152, UncompressedSize: 152},
	})
	assert.Equal(t, []FilePath{b, c, a}, table.Paths())

	decoded, err := DecodeFileTable(EncodeFileTable(table))
	require.NoError(t, err)
	assert.Equal(t, table.Paths(), decoded.Paths())
	for p, e := range table.All() {
		got, ok := decoded.Lookup(p)
		require.True(t, ok)
		assert.Equal(t, e, got)
	}
}

func TestDecodeFileTableRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, data := range [][]byte{nil, {1, 2}, {0xFF, 0xFF, 0xFF, 0x7F, 1, 2, 3, 4}} {
		_, err := DecodeFileTable(data)
		assert.ErrorIs(t, err, ErrInvalidFileTable)
	}
}

func TestFileTableValidate(t *testing.T) {
	t.Parallel()

	p := FilePath{Directory: GameDirectoryContent, Type: FileTypeText, Name: "a"}
	h := Header{FileTableOffset: 200, TotalEntries: 1}

	ok := NewFileTable(map[FilePath]Entry{p: {Offset: HeaderSize, CompressedSize: 152}})
	require.NoError(t, ok.validate(h))

	overlapping := NewFileTable(map[FilePath]Entry{p: {Offset: HeaderSize, CompressedSize: 153}})
	assert.ErrorIs(t, overlapping.validate(h), ErrInvalidFileTable)

	h.TotalEntries = 2
	assert.ErrorIs(t, ok.validate(h), ErrInvalidFileTable)
}
