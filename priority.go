package sarfs

import (
	"fmt"

	"github.com/meigma/sarfs/sar"
)

// Priority orders network fetches. Higher priorities are fetched first.
type Priority int

// Fetch priorities.
const (
	PriorityLow Priority = iota
	PriorityDefault
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityDefault:
		return "default"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// PriorityPolicy picks the priority of the implicit fetch performed by Open
// and ReadAll. isServicedByNetwork reports whether a path is served by the
// archive rather than by some local-only source.
type PriorityPolicy func(path sar.FilePath, isServicedByNetwork func(sar.FilePath) bool) Priority

// DefaultPriorityPolicy raises a texture to PriorityMedium when an adjacent
// mip level is not served by the network, since the caller is likely to need
// this level soon after the local one. Everything else gets PriorityDefault.
func DefaultPriorityPolicy(path sar.FilePath, isServicedByNetwork func(sar.FilePath) bool) Priority {
	if !path.Type.IsTexture() {
		return PriorityDefault
	}
	if path.Type > sar.FileTypeTexture0 && !isServicedByNetwork(path.WithType(path.Type-1)) {
		return PriorityMedium
	}
	if path.Type < sar.FileTypeTexture4 && !isServicedByNetwork(path.WithType(path.Type+1)) {
		return PriorityMedium
	}
	return PriorityDefault
}
