package encoder

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/kennethvuongcode/surprise-models/internal/utils"
)

// Config selects the model the Python worker loads and where it runs.
type Config struct {
	Script string // path to the worker script
	Model  string // model path or hub identifier
	Device string // "cpu" or "cuda:N"
	Prompt string // defaults to DefaultPrompt if empty
}

// PythonEncoder runs the vision model in a Python subprocess. Requests and
// responses travel over a length-prefixed binary protocol: stdin carries
// image batches down, a dedicated pipe (FD 3 in the child) carries features
// back, and stderr is buffered for crash forensics.
type PythonEncoder struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	dim      int
}

// Response status bytes sent by the worker.
const (
	statusOK  = 0
	statusErr = 1
)

// NewPythonEncoder starts the worker, which loads the model and then reports
// its feature width in a handshake. Startup is the expensive step; one
// encoder serves every chunk in a run.
func NewPythonEncoder(cfg Config) (*PythonEncoder, error) {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	py := utils.NewSafeCommand("python3", "-u", cfg.Script,
		"--model", cfg.Model,
		"--device", cfg.Device,
		"--prompt", prompt,
	)

	// Side-channel pipe for feature data; appears as FD 3 in the child.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("encoder worker failed to start: %w", err)
	}

	// Parent must drop its copy of the write end so EOF propagates.
	w.Close()

	enc := &PythonEncoder{Cmd: py, Stdin: stdin, DataPipe: r}

	// Handshake: the worker sends its feature width once the model is loaded.
	dim, err := enc.readHandshake()
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("encoder handshake failed: %w", err)
	}
	enc.dim = dim
	return enc, nil
}

func (e *PythonEncoder) readHandshake() (int, error) {
	status := make([]byte, 1)
	if _, err := io.ReadFull(e.DataPipe, status); err != nil {
		return 0, err
	}
	if status[0] == statusErr {
		return 0, e.readError()
	}
	var dim uint32
	if err := binary.Read(e.DataPipe, binary.BigEndian, &dim); err != nil {
		return 0, err
	}
	if dim == 0 {
		return 0, fmt.Errorf("worker reported zero feature width")
	}
	return int(dim), nil
}

// Dim returns the feature width negotiated at startup.
func (e *PythonEncoder) Dim() int { return e.dim }

// EncodeBatch sends one chunk's valid images and reads back a feature vector
// per image. The call is synchronous; the worker owns the device for its
// duration. A cancelled context is honored only between calls.
func (e *PythonEncoder) EncodeBatch(ctx context.Context, images []Image) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	for i, img := range images {
		if err := ValidateImage(img); err != nil {
			return nil, fmt.Errorf("batch image %d: %w", i, err)
		}
	}

	// Request: [count] then per image [height][width][pixels].
	if err := binary.Write(e.Stdin, binary.BigEndian, uint32(len(images))); err != nil {
		return nil, err
	}
	for _, img := range images {
		if err := binary.Write(e.Stdin, binary.BigEndian, uint32(img.Height)); err != nil {
			return nil, err
		}
		if err := binary.Write(e.Stdin, binary.BigEndian, uint32(img.Width)); err != nil {
			return nil, err
		}
		if _, err := e.Stdin.Write(img.Pix); err != nil {
			return nil, err
		}
	}

	// Response: [status] then [count][dim][count*dim float32].
	status := make([]byte, 1)
	if _, err := io.ReadFull(e.DataPipe, status); err != nil {
		return nil, err // catches worker crashes (pipe closes)
	}
	if status[0] == statusErr {
		return nil, e.readError()
	}

	var count, dim uint32
	if err := binary.Read(e.DataPipe, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	if err := binary.Read(e.DataPipe, binary.BigEndian, &dim); err != nil {
		return nil, err
	}
	if int(count) != len(images) {
		return nil, fmt.Errorf("worker returned %d vectors for %d images", count, len(images))
	}
	if e.dim != 0 && int(dim) != e.dim {
		return nil, fmt.Errorf("worker feature width changed from %d to %d", e.dim, dim)
	}

	raw := make([]byte, int(count)*int(dim)*4)
	if _, err := io.ReadFull(e.DataPipe, raw); err != nil {
		return nil, err
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		vec := make([]float32, dim)
		base := i * int(dim) * 4
		for j := range vec {
			vec[j] = math.Float32frombits(binary.BigEndian.Uint32(raw[base+j*4:]))
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// readError consumes a [msgLen][msg] error payload from the worker.
func (e *PythonEncoder) readError() error {
	var msgLen uint32
	if err := binary.Read(e.DataPipe, binary.BigEndian, &msgLen); err != nil {
		return err
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(e.DataPipe, msg); err != nil {
		return err
	}
	return fmt.Errorf("encoder worker error: %s", msg)
}

// Close shuts the worker down and reaps the process.
func (e *PythonEncoder) Close() error {
	e.Stdin.Close()
	e.DataPipe.Close()
	if e.Cmd != nil {
		return e.Cmd.Wait()
	}
	return nil
}
