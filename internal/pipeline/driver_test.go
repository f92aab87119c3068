package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kennethvuongcode/surprise-models/internal/encoder"
	"github.com/kennethvuongcode/surprise-models/internal/safetensors"
	"github.com/kennethvuongcode/surprise-models/internal/tensor"
)

// fakeEncoder emits deterministic vectors derived from the first pixel of
// each image, and fails on images whose first pixel is 99.
type fakeEncoder struct {
	calls   int
	batches []int
}

func (f *fakeEncoder) Dim() int { return 4 }

func (f *fakeEncoder) EncodeBatch(ctx context.Context, images []encoder.Image) ([][]float32, error) {
	f.calls++
	f.batches = append(f.batches, len(images))
	out := make([][]float32, len(images))
	for i, img := range images {
		if img.Pix[0] == 99 {
			return nil, errors.New("synthetic encoder failure")
		}
		out[i] = []float32{float32(img.Pix[0]), float32(img.Width), float32(img.Height), 1}
	}
	return out, nil
}

func (f *fakeEncoder) Close() error { return nil }

// rgbChunk writes an archive of n 2x2 RGB frames whose first pixel is
// firstPix+i for frame i.
func rgbChunk(t *testing.T, path string, n int, firstPix byte) {
	t.Helper()
	data := make([]byte, n*2*2*3)
	for i := 0; i < n; i++ {
		data[i*12] = firstPix + byte(i)
	}
	tr, err := tensor.New(tensor.U8, []int{n, 2, 2, 3}, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	writeArchive(t, path, map[string]tensor.Tensor{"frame_data": tr})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
}

func TestDriverRun(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	// ok: 3 RGB frames
	rgbChunk(t, filepath.Join(src, "ok.safetensors"), 3, 10)

	// rgba: 2 RGBA frames; alpha must be stripped for the encoder but kept
	// in the archive copy
	rgbaData := make([]byte, 2*2*2*4)
	rgbaData[0] = 50
	rgbaData[3] = 255 // alpha
	rgbaData[16] = 60
	rgbaTensor, err := tensor.New(tensor.U8, []int{2, 2, 2, 4}, rgbaData)
	if err != nil {
		t.Fatal(err)
	}
	writeArchive(t, filepath.Join(src, "rgba.safetensors"), map[string]tensor.Tensor{"frame_data": rgbaTensor})

	// gray: rank-3 tensor, every frame grayscale, chunk skipped
	grayTensor, err := tensor.New(tensor.U8, []int{2, 2, 2}, make([]byte, 8))
	if err != nil {
		t.Fatal(err)
	}
	writeArchive(t, filepath.Join(src, "gray.safetensors"), map[string]tensor.Tensor{"frame_data": grayTensor})

	// nokey: archive without a frame-like key, chunk fails
	writeArchive(t, filepath.Join(src, "nokey.safetensors"), map[string]tensor.Tensor{"speed": u8Tensor(t, []int{4})})

	// boom: first pixel 99 triggers the synthetic encoder failure
	rgbChunk(t, filepath.Join(src, "boom.safetensors"), 1, 99)

	chunks, done, err := Locate(src, dst, 0)
	if err != nil {
		t.Fatal(err)
	}
	if done != 0 || len(chunks) != 5 {
		t.Fatalf("Locate: %d pending %d done", len(chunks), done)
	}

	enc := &fakeEncoder{}
	d := &Driver{Encoder: enc, Log: quietLogger()}
	report := d.Run(context.Background(), chunks)

	if report.Done != 2 || report.Failed != 2 || report.SkippedEmpty != 1 {
		t.Fatalf("report = done %d failed %d skipped %d", report.Done, report.Failed, report.SkippedEmpty)
	}
	// One encoder call per non-empty chunk (ok, rgba, boom), never per frame.
	if enc.calls != 3 {
		t.Errorf("encoder called %d times, want 3", enc.calls)
	}

	// ok chunk: archive holds aligned nonzero embeddings.
	f, err := safetensors.Open(filepath.Join(dst, "ok_embedded.safetensors"))
	if err != nil {
		t.Fatalf("ok output missing: %v", err)
	}
	frames, _ := f.Tensor(FrameDataKey)
	emb, err := f.Tensor(EmbeddingDataKey)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	if frames.Shape[0] != 3 || emb.Shape[0] != 3 || emb.Shape[1] != 4 {
		t.Fatalf("ok output shapes: frames %v emb %v", frames.Shape, emb.Shape)
	}
	vals, _ := emb.Float32s()
	for i := 0; i < 3; i++ {
		if vals[i*4] != float32(10+i) {
			t.Errorf("frame %d embedding[0] = %v, want %d", i, vals[i*4], 10+i)
		}
	}

	// rgba chunk: frame_data keeps 4 channels, embeddings derive from the
	// alpha-stripped pixels.
	f, err = safetensors.Open(filepath.Join(dst, "rgba_embedded.safetensors"))
	if err != nil {
		t.Fatalf("rgba output missing: %v", err)
	}
	frames, _ = f.Tensor(FrameDataKey)
	emb, _ = f.Tensor(EmbeddingDataKey)
	f.Close()
	if frames.Shape[3] != 4 {
		t.Errorf("rgba frame_data shape %v, want 4 channels preserved", frames.Shape)
	}
	if frames.Data[3] != 255 {
		t.Error("alpha byte lost in archived frame_data")
	}
	vals, _ = emb.Float32s()
	if vals[0] != 50 || vals[4] != 60 {
		t.Errorf("rgba embeddings = %v, %v; want 50, 60", vals[0], vals[4])
	}

	// gray chunk: skipped, no archive written.
	if _, err := os.Stat(filepath.Join(dst, "gray_embedded.safetensors")); !os.IsNotExist(err) {
		t.Error("gray chunk must not produce an output archive")
	}

	// Failure reasons surface on the results.
	for _, res := range report.Results {
		if res.Chunk.Name == "nokey.safetensors" {
			if !errors.Is(res.Err, ErrNoFrameKey) {
				t.Errorf("nokey error = %v, want ErrNoFrameKey", res.Err)
			}
		}
	}
}

func TestDriverZeroVectorsOnlyAtDroppedIndices(t *testing.T) {
	// All-valid chunk: no embedding row may be all-zero with the fake
	// encoder's nonzero outputs.
	src := t.TempDir()
	dst := t.TempDir()
	rgbChunk(t, filepath.Join(src, "full.safetensors"), 4, 1)

	chunks, _, err := Locate(src, dst, 0)
	if err != nil {
		t.Fatal(err)
	}
	d := &Driver{Encoder: &fakeEncoder{}, Log: quietLogger()}
	report := d.Run(context.Background(), chunks)
	if report.Done != 1 {
		t.Fatalf("report: %+v", report)
	}

	f, err := safetensors.Open(filepath.Join(dst, "full_embedded.safetensors"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	emb, _ := f.Tensor(EmbeddingDataKey)
	vals, _ := emb.Float32s()
	for i := 0; i < 4; i++ {
		zero := true
		for j := 0; j < 4; j++ {
			if vals[i*4+j] != 0 {
				zero = false
			}
		}
		if zero {
			t.Errorf("valid frame %d has a zero embedding", i)
		}
	}
}

func TestDriverIdempotentSecondRun(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	rgbChunk(t, filepath.Join(src, "a.safetensors"), 2, 10)
	rgbChunk(t, filepath.Join(src, "b", "c.safetensors"), 2, 20)

	chunks, _, err := Locate(src, dst, 0)
	if err != nil {
		t.Fatal(err)
	}
	d := &Driver{Encoder: &fakeEncoder{}, Log: quietLogger()}
	if report := d.Run(context.Background(), chunks); report.Done != 2 {
		t.Fatalf("first run: %+v", report)
	}

	outPath := filepath.Join(dst, "a_embedded.safetensors")
	before, err := os.Stat(outPath)
	if err != nil {
		t.Fatal(err)
	}

	// Second run over an unchanged source: nothing pending, nothing touched.
	chunks, done, err := Locate(src, dst, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 || done != 2 {
		t.Fatalf("second Locate: %d pending, %d done", len(chunks), done)
	}

	after, err := os.Stat(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !before.ModTime().Equal(after.ModTime()) || before.Size() != after.Size() {
		t.Error("second run modified an existing output archive")
	}
}

func TestDriverStopsBetweenChunksOnCancel(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	for i := 0; i < 3; i++ {
		rgbChunk(t, filepath.Join(src, fmt.Sprintf("c%d.safetensors", i)), 1, 10)
	}

	chunks, _, err := Locate(src, dst, 0)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	enc := &fakeEncoder{}
	d := &Driver{Encoder: enc, Log: quietLogger()}
	d.OnResult = func(ChunkResult) { cancel() } // cancel after the first chunk settles

	report := d.Run(ctx, chunks)
	if len(report.Results) != 1 {
		t.Errorf("expected run to stop after 1 chunk, processed %d", len(report.Results))
	}
	if report.Done != 1 {
		t.Errorf("first chunk should still complete, report: %+v", report)
	}
}
