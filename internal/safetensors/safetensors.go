// Package safetensors reads and writes the safetensors container format:
// an 8-byte little-endian header length, a JSON header mapping tensor names
// to dtype/shape/offsets, and a raw data section holding every tensor
// back to back.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/kennethvuongcode/surprise-models/internal/tensor"
)

// maxHeaderSize caps the JSON header to reject corrupted or hostile files
// before allocating anything.
const maxHeaderSize = 16 * 1024 * 1024

type headerEntry struct {
	DType   string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// File is a read-only handle on one archive. Tensor data is read on demand,
// so listing keys does not load the payload.
type File struct {
	f       *os.File
	entries map[string]headerEntry
	keys    []string
	dataOff int64
}

// Open parses the header of the archive at path. The caller owns the handle
// and must Close it.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading header length of %s: %w", path, err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen == 0 || headerLen > maxHeaderSize {
		f.Close()
		return nil, fmt.Errorf("%s: implausible header length %d", path, headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerJSON); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &raw); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing header of %s: %w", path, err)
	}

	entries := make(map[string]headerEntry, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var e headerEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			f.Close()
			return nil, fmt.Errorf("parsing entry %q in %s: %w", name, path, err)
		}
		if e.Offsets[0] < 0 || e.Offsets[1] < e.Offsets[0] {
			f.Close()
			return nil, fmt.Errorf("%s: tensor %q has invalid offsets %v", path, name, e.Offsets)
		}
		entries[name] = e
	}

	keys := make([]string, 0, len(entries))
	for name := range entries {
		keys = append(keys, name)
	}
	sort.Strings(keys)

	return &File{
		f:       f,
		entries: entries,
		keys:    keys,
		dataOff: int64(8 + headerLen),
	}, nil
}

// Keys lists the tensor names in the archive in sorted order.
func (f *File) Keys() []string { return f.keys }

// Tensor reads the named tensor fully into memory.
func (f *File) Tensor(name string) (tensor.Tensor, error) {
	e, ok := f.entries[name]
	if !ok {
		return tensor.Tensor{}, fmt.Errorf("no tensor %q in archive", name)
	}
	size := e.Offsets[1] - e.Offsets[0]
	data := make([]byte, size)
	if _, err := f.f.ReadAt(data, f.dataOff+e.Offsets[0]); err != nil {
		return tensor.Tensor{}, fmt.Errorf("reading tensor %q: %w", name, err)
	}
	t, err := tensor.New(tensor.DType(e.DType), e.Shape, data)
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("tensor %q: %w", name, err)
	}
	return t, nil
}

// Close releases the underlying file handle.
func (f *File) Close() error { return f.f.Close() }

// Save writes the given tensors to path as one archive. Keys are emitted in
// sorted order and the header is space-padded so the data section starts on
// an 8-byte boundary, matching the reference implementation.
func Save(path string, tensors map[string]tensor.Tensor) error {
	if len(tensors) == 0 {
		return fmt.Errorf("refusing to save an empty archive to %s", path)
	}

	keys := make([]string, 0, len(tensors))
	for name := range tensors {
		keys = append(keys, name)
	}
	sort.Strings(keys)

	header := make(map[string]headerEntry, len(tensors))
	var off int64
	for _, name := range keys {
		t := tensors[name]
		if t.DType.Size() == 0 {
			return fmt.Errorf("tensor %q has unsupported dtype %q", name, t.DType)
		}
		end := off + int64(len(t.Data))
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		header[name] = headerEntry{
			DType:   string(t.DType),
			Shape:   shape,
			Offsets: [2]int64{off, end},
		}
		off = end
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if pad := (8 - (8+len(headerJSON))%8) % 8; pad > 0 {
		padded := make([]byte, len(headerJSON)+pad)
		copy(padded, headerJSON)
		for i := len(headerJSON); i < len(padded); i++ {
			padded[i] = ' '
		}
		headerJSON = padded
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerJSON)))
	if _, err := out.Write(lenBuf[:]); err != nil {
		out.Close()
		return err
	}
	if _, err := out.Write(headerJSON); err != nil {
		out.Close()
		return err
	}
	for _, name := range keys {
		if _, err := out.Write(tensors[name].Data); err != nil {
			out.Close()
			return err
		}
	}
	return out.Close()
}
