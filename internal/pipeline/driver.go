package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kennethvuongcode/surprise-models/internal/encoder"
)

// Status is the terminal state of one chunk.
type Status int

const (
	StatusDone Status = iota
	StatusFailed
	StatusSkippedNoValidFrames
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusSkippedNoValidFrames:
		return "skipped-no-valid-frames"
	default:
		return "unknown"
	}
}

// ChunkResult records what happened to one chunk.
type ChunkResult struct {
	Chunk   Chunk
	Status  Status
	Frames  int // original frame count
	Encoded int // frames that went through the encoder
	Dropped int // frames replaced by zero vectors
	Err     error
}

// Report aggregates a whole run.
type Report struct {
	Done         int
	Failed       int
	SkippedEmpty int
	Results      []ChunkResult
}

// Driver sequences the per-chunk pipeline. Chunks are independent; a
// failure in one is recorded and the run moves on.
type Driver struct {
	Encoder  encoder.Encoder
	Log      *slog.Logger
	FrameKey KeyPredicate
	// OnResult, if set, is called after each chunk settles (progress hook).
	OnResult func(ChunkResult)
}

// Run processes every chunk in order. The context is checked between
// chunks only; an in-flight chunk always settles.
func (d *Driver) Run(ctx context.Context, chunks []Chunk) Report {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	var report Report
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			log.Warn("run cancelled", "remaining", len(chunks)-len(report.Results))
			break
		}

		res := d.processChunk(ctx, chunk)
		switch res.Status {
		case StatusDone:
			report.Done++
			log.Info("chunk embedded", "chunk", chunk.Name,
				"frames", res.Frames, "encoded", res.Encoded, "dropped", res.Dropped)
		case StatusSkippedNoValidFrames:
			report.SkippedEmpty++
			log.Warn("chunk has no valid frames, skipping", "chunk", chunk.Name, "frames", res.Frames)
		case StatusFailed:
			report.Failed++
			log.Error("chunk failed", "chunk", chunk.Name, "err", res.Err)
		}

		report.Results = append(report.Results, res)
		if d.OnResult != nil {
			d.OnResult(res)
		}
	}
	return report
}

func (d *Driver) processChunk(ctx context.Context, chunk Chunk) ChunkResult {
	res := ChunkResult{Chunk: chunk}
	fail := func(step string, err error) ChunkResult {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("%s: %w", step, err)
		return res
	}

	match := d.FrameKey
	if match == nil {
		match = FrameKey
	}

	frameTensor, err := LoadFrames(chunk.InputPath, match)
	if err != nil {
		return fail("load", err)
	}

	frames, err := frameTensor.Frames()
	if err != nil {
		return fail("load", err)
	}
	res.Frames = len(frames)

	records, valid := Normalize(frames)
	res.Dropped = len(records) - len(valid)
	if len(valid) == 0 {
		res.Status = StatusSkippedNoValidFrames
		return res
	}

	images := make([]encoder.Image, len(valid))
	for i, v := range valid {
		images[i] = v.Image
	}
	vectors, err := d.Encoder.EncodeBatch(ctx, images)
	if err != nil {
		return fail("encode", err)
	}
	if len(vectors) != len(valid) {
		return fail("encode", fmt.Errorf("got %d vectors for %d images", len(vectors), len(valid)))
	}
	res.Encoded = len(vectors)

	pairs := make([]IndexedVector, len(valid))
	for i, v := range valid {
		pairs[i] = IndexedVector{Index: v.Index, Vector: vectors[i]}
	}
	embeddings, err := Realign(len(frames), d.Encoder.Dim(), pairs)
	if err != nil {
		return fail("realign", err)
	}

	if err := WriteArchive(chunk.OutputPath, frameTensor, embeddings); err != nil {
		return fail("write", err)
	}

	res.Status = StatusDone
	return res
}
