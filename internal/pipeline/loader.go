package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kennethvuongcode/surprise-models/internal/safetensors"
	"github.com/kennethvuongcode/surprise-models/internal/tensor"
)

// ErrNoFrameKey reports an archive with no frame-like tensor key. It is
// chunk-fatal, not run-fatal.
var ErrNoFrameKey = errors.New("no frame tensor key in archive")

// KeyPredicate selects the tensor key holding frame data.
type KeyPredicate func(key string) bool

// FrameKey is the default predicate: the key contains "frame",
// case-insensitive.
func FrameKey(key string) bool {
	return strings.Contains(strings.ToLower(key), "frame")
}

// LoadFrames opens the archive at path, picks the first key matching the
// predicate, and loads that tensor fully into memory. The archive handle is
// released before returning, regardless of outcome.
func LoadFrames(path string, match KeyPredicate) (tensor.Tensor, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return tensor.Tensor{}, err
	}
	defer f.Close()

	for _, key := range f.Keys() {
		if !match(key) {
			continue
		}
		t, err := f.Tensor(key)
		if err != nil {
			return tensor.Tensor{}, err
		}
		if t.DType != tensor.U8 {
			return tensor.Tensor{}, fmt.Errorf("frame tensor %q has dtype %s, want U8", key, t.DType)
		}
		return t, nil
	}
	return tensor.Tensor{}, fmt.Errorf("%w (keys: %s)", ErrNoFrameKey, strings.Join(f.Keys(), ", "))
}
