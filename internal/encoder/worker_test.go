package encoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and
// io.WriteCloser, so in-memory buffers stand in for OS pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func TestEncodeBatch(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// Pre-fill the data pipe with a fake response for a 2-image batch of
	// 3-wide vectors.
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(2)) // count
	binary.Write(payload, binary.BigEndian, uint32(3)) // dim
	for _, v := range []float32{0.5, 0, 0, 0, -1.25, 0} {
		binary.Write(payload, binary.BigEndian, v)
	}
	dataPipeMock.Write(payload.Bytes())

	e := &PythonEncoder{
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		dim:      3,
		// Cmd is nil: we test the protocol, not process management
	}

	images := []Image{
		{Width: 2, Height: 1, Pix: []byte{1, 2, 3, 4, 5, 6}},
		{Width: 1, Height: 2, Pix: []byte{7, 8, 9, 10, 11, 12}},
	}
	vectors, err := e.EncodeBatch(context.Background(), images)
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}

	// Verify the request layout: count, then per image height/width/pixels.
	sent := stdinMock.Bytes()
	wantLen := 4 + 2*(4+4) + 6 + 6
	if len(sent) != wantLen {
		t.Errorf("expected %d request bytes, got %d", wantLen, len(sent))
	}
	if got := binary.BigEndian.Uint32(sent[:4]); got != 2 {
		t.Errorf("request count = %d, want 2", got)
	}
	if got := binary.BigEndian.Uint32(sent[4:8]); got != 1 {
		t.Errorf("first image height = %d, want 1", got)
	}

	// Verify the parsed vectors.
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if math.Abs(float64(vectors[0][0]-0.5)) > 1e-9 {
		t.Errorf("vectors[0][0] = %v, want 0.5", vectors[0][0])
	}
	if math.Abs(float64(vectors[1][1]+1.25)) > 1e-9 {
		t.Errorf("vectors[1][1] = %v, want -1.25", vectors[1][1])
	}
}

func TestEncodeBatch_WorkerError(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	payload := new(bytes.Buffer)
	payload.WriteByte(statusErr)
	errMsg := "CUDA out of memory"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)
	dataPipeMock.Write(payload.Bytes())

	e := &PythonEncoder{Stdin: stdinMock, DataPipe: dataPipeMock, dim: 3}

	_, err := e.EncodeBatch(context.Background(), []Image{
		{Width: 1, Height: 1, Pix: []byte{1, 2, 3}},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	want := "encoder worker error: " + errMsg
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestEncodeBatch_CountMismatch(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(3)) // worker claims 3 vectors
	binary.Write(payload, binary.BigEndian, uint32(2))
	dataPipeMock.Write(payload.Bytes())

	e := &PythonEncoder{Stdin: stdinMock, DataPipe: dataPipeMock, dim: 2}

	_, err := e.EncodeBatch(context.Background(), []Image{
		{Width: 1, Height: 1, Pix: []byte{1, 2, 3}},
	})
	if err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestEncodeBatch_RejectsBadImages(t *testing.T) {
	e := &PythonEncoder{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}

	tests := []struct {
		name   string
		images []Image
	}{
		{"empty batch", nil},
		{"zero dimensions", []Image{{Width: 0, Height: 4, Pix: nil}}},
		{"pixel length mismatch", []Image{{Width: 2, Height: 2, Pix: make([]byte, 5)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.EncodeBatch(context.Background(), tt.images); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestEncodeBatch_CancelledContext(t *testing.T) {
	e := &PythonEncoder{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.EncodeBatch(ctx, []Image{{Width: 1, Height: 1, Pix: []byte{1, 2, 3}}}); err == nil {
		t.Error("expected context error")
	}
}
