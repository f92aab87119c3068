package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kennethvuongcode/surprise-models/internal/safetensors"
	"github.com/kennethvuongcode/surprise-models/internal/tensor"
)

// Archive key names in output archives.
const (
	FrameDataKey     = "frame_data"
	EmbeddingDataKey = "embedding_data"
)

// WriteArchive persists the original frame tensor and the realigned
// embedding tensor to path. The archive is written to a temp file in the
// target directory and renamed into place, so a failed write never leaves a
// partial file that a later run would mistake for a completed chunk.
func WriteArchive(path string, frames, embeddings tensor.Tensor) error {
	if len(frames.Shape) == 0 || len(embeddings.Shape) != 2 {
		return fmt.Errorf("unexpected tensor shapes %v / %v", frames.Shape, embeddings.Shape)
	}
	if frames.Shape[0] != embeddings.Shape[0] {
		return fmt.Errorf("frame count %d does not match embedding count %d",
			frames.Shape[0], embeddings.Shape[0])
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := safetensors.Save(tmpPath, map[string]tensor.Tensor{
		FrameDataKey:     frames,
		EmbeddingDataKey: embeddings,
	}); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
