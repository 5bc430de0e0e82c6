package sar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    FilePath
		wantErr bool
	}{
		{in: "content://textures/hero.tex0", want: FilePath{GameDirectoryContent, FileTypeTexture0, "textures/hero"}},
		{in: "CONFIG://Game\\Settings.JSON", want: FilePath{GameDirectoryConfig, FileTypeJSON, "game/settings"}},
		{in: "content://misc/blob.bin", want: FilePath{GameDirectoryContent, FileTypeUnknown, "misc/blob.bin"}},
		{in: "content:///a//b.lua", want: FilePath{GameDirectoryContent, FileTypeScript, "a/b"}},
		{in: "textures/hero.tex0", wantErr: true},
		{in: "nowhere://x.json", wantErr: true},
		{in: "content://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFilePath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilePathString(t *testing.T) {
	t.Parallel()

	p, err := ParseFilePath("content://textures/hero.tex2")
	require.NoError(t, err)
	assert.Equal(t, "content://textures/hero.tex2", p.String())
	assert.Equal(t, "textures/hero.tex2", p.RelativePath())
	assert.True(t, p.Type.IsTexture())
	assert.Equal(t, "content://textures/hero.tex3", p.WithType(p.Type+1).String())
}

func TestFilePathComparable(t *testing.T) {
	t.Parallel()

	a, err := ParseFilePath("content://A/B.json")
	require.NoError(t, err)
	b, err := ParseFilePath("content://a/b.json")
	require.NoError(t, err)

	m := map[FilePath]int{a: 1}
	assert.Equal(t, 1, m[b])
}
