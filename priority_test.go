package sarfs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meigma/sarfs/sar"
)

func TestDefaultPriorityPolicy(t *testing.T) {
	t.Parallel()
	hero := func(ft sar.FileType) sar.FilePath {
		return sar.FilePath{Directory: sar.GameDirectoryContent, Type: ft, Name: "textures/hero"}
	}
	servedExcept := func(local ...sar.FilePath) func(sar.FilePath) bool {
		return func(p sar.FilePath) bool {
			for _, l := range local {
				if l == p {
					return false
				}
			}
			return true
		}
	}

	tests := []struct {
		name   string
		path   sar.FilePath
		served func(sar.FilePath) bool
		want   Priority
	}{
		{"all mips served", hero(sar.FileTypeTexture2), servedExcept(), PriorityDefault},
		{"lower mip local", hero(sar.FileTypeTexture2), servedExcept(hero(sar.FileTypeTexture1)), PriorityMedium},
		{"higher mip local", hero(sar.FileTypeTexture2), servedExcept(hero(sar.FileTypeTexture3)), PriorityMedium},
		{"distant mip local", hero(sar.FileTypeTexture2), servedExcept(hero(sar.FileTypeTexture4)), PriorityDefault},
		{"first mip has no lower neighbour", hero(sar.FileTypeTexture0), servedExcept(hero(sar.FileTypeUnknown)), PriorityDefault},
		{"last mip has no higher neighbour", hero(sar.FileTypeTexture4), servedExcept(hero(sar.FileTypeVideo)), PriorityDefault},
		{"not a texture", hero(sar.FileTypeScript), servedExcept(hero(sar.FileTypeTexture0)), PriorityDefault},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultPriorityPolicy(tt.path, tt.served), tt.name)
	}
}

func TestPriorityString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "priority(9)", Priority(9).String())
}
