package pipeline

import (
	"github.com/kennethvuongcode/surprise-models/internal/encoder"
	"github.com/kennethvuongcode/surprise-models/internal/tensor"
)

// FrameClass is the outcome of normalizing one frame.
type FrameClass int

const (
	// ClassValid frames go to the encoder unchanged.
	ClassValid FrameClass = iota
	// ClassRepaired frames had their alpha channel stripped first.
	ClassRepaired
	// ClassDropped frames are excluded and get a zero embedding.
	ClassDropped
)

// DropReason names why a frame was dropped.
type DropReason string

const (
	DropGrayscale DropReason = "grayscale"
	DropChannels  DropReason = "unexpected-channels"
)

// FrameRecord is the per-frame classification, aligned 1:1 with input
// indices.
type FrameRecord struct {
	Index  int
	Class  FrameClass
	Reason DropReason // set only for ClassDropped
}

// ValidImage pairs a usable RGB image with its original frame index.
type ValidImage struct {
	Index int
	Image encoder.Image
}

// Normalize classifies every frame in order. Rank-2 frames are dropped as
// grayscale, 4-channel frames lose their alpha channel and stay valid, any
// other channel count is dropped. The returned slices preserve original
// index order; records has one entry per input frame.
func Normalize(frames []tensor.Frame) (records []FrameRecord, valid []ValidImage) {
	records = make([]FrameRecord, 0, len(frames))
	for i, frame := range frames {
		switch {
		case frame.Rank() == 2:
			records = append(records, FrameRecord{Index: i, Class: ClassDropped, Reason: DropGrayscale})

		case frame.Channels() == 4:
			records = append(records, FrameRecord{Index: i, Class: ClassRepaired})
			valid = append(valid, ValidImage{Index: i, Image: stripAlpha(frame)})

		case frame.Channels() != 3:
			records = append(records, FrameRecord{Index: i, Class: ClassDropped, Reason: DropChannels})

		default:
			records = append(records, FrameRecord{Index: i, Class: ClassValid})
			valid = append(valid, ValidImage{Index: i, Image: encoder.Image{
				Height: frame.Shape[0],
				Width:  frame.Shape[1],
				Pix:    frame.Data,
			}})
		}
	}
	return records, valid
}

// stripAlpha copies an HxWx4 frame into an HxWx3 image, dropping the fourth
// channel. The source frame is left untouched so the original tensor can be
// persisted verbatim.
func stripAlpha(frame tensor.Frame) encoder.Image {
	h, w := frame.Shape[0], frame.Shape[1]
	pix := make([]byte, h*w*3)
	for p := 0; p < h*w; p++ {
		copy(pix[p*3:p*3+3], frame.Data[p*4:p*4+3])
	}
	return encoder.Image{Height: h, Width: w, Pix: pix}
}
