// Package encoder drives the vision feature extractor. The production
// backend is a Python worker subprocess holding the model; the Encoder
// interface keeps the pipeline testable against a stub.
package encoder

import (
	"context"
	"fmt"
)

// DefaultPrompt is the fixed text paired with every image batch.
const DefaultPrompt = "Describe the driving scene."

// Image is one RGB24 frame ready for the extractor: len(Pix) == Width*Height*3.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// Encoder turns a batch of images into one pooled feature vector per image.
// Implementations own a heavyweight model context, so construct once per run
// and Close when done.
type Encoder interface {
	// EncodeBatch returns one vector per input image, in input order.
	EncodeBatch(ctx context.Context, images []Image) ([][]float32, error)
	// Dim is the fixed width of every vector this encoder produces.
	Dim() int
	Close() error
}

// ValidateImage checks that an image's pixel buffer matches its dimensions.
func ValidateImage(img Image) error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", img.Width, img.Height)
	}
	if len(img.Pix) != img.Width*img.Height*3 {
		return fmt.Errorf("image %dx%d needs %d bytes, got %d",
			img.Width, img.Height, img.Width*img.Height*3, len(img.Pix))
	}
	return nil
}
