package pipeline

import (
	"fmt"

	"github.com/kennethvuongcode/surprise-models/internal/tensor"
)

// IndexedVector pairs an embedding with the original frame index it belongs
// to.
type IndexedVector struct {
	Index  int
	Vector []float32
}

// Realign scatters B embedding vectors back into a [frameCount, dim] F32
// tensor matching the original frame order. Positions with no vector
// (dropped frames) hold the zero vector. Every index must be in range and
// appear at most once, and every vector must have width dim.
func Realign(frameCount, dim int, pairs []IndexedVector) (tensor.Tensor, error) {
	if frameCount <= 0 || dim <= 0 {
		return tensor.Tensor{}, fmt.Errorf("invalid realign target %dx%d", frameCount, dim)
	}
	if len(pairs) > frameCount {
		return tensor.Tensor{}, fmt.Errorf("%d vectors for %d frames", len(pairs), frameCount)
	}

	vals := make([]float32, frameCount*dim) // zero-filled gaps
	seen := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		if p.Index < 0 || p.Index >= frameCount {
			return tensor.Tensor{}, fmt.Errorf("frame index %d out of range [0,%d)", p.Index, frameCount)
		}
		if seen[p.Index] {
			return tensor.Tensor{}, fmt.Errorf("duplicate vector for frame index %d", p.Index)
		}
		seen[p.Index] = true
		if len(p.Vector) != dim {
			return tensor.Tensor{}, fmt.Errorf("frame %d: vector width %d, want %d", p.Index, len(p.Vector), dim)
		}
		copy(vals[p.Index*dim:], p.Vector)
	}

	return tensor.FromFloat32([]int{frameCount, dim}, vals)
}
