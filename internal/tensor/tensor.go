package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType identifies the element type of a tensor, using the same names the
// safetensors header uses on disk.
type DType string

const (
	U8  DType = "U8"
	F32 DType = "F32"
)

// Size returns the width of one element in bytes, or 0 for unknown dtypes.
func (d DType) Size() int {
	switch d {
	case U8:
		return 1
	case F32:
		return 4
	default:
		return 0
	}
}

// Tensor is a dense, row-major tensor backed by its raw little-endian bytes.
// Keeping the raw bytes avoids a decode/re-encode round trip when a tensor
// is copied verbatim from an input archive to an output archive.
type Tensor struct {
	DType DType
	Shape []int
	Data  []byte
}

// New validates that the data length matches the shape and element size.
func New(dtype DType, shape []int, data []byte) (Tensor, error) {
	esize := dtype.Size()
	if esize == 0 {
		return Tensor{}, fmt.Errorf("unsupported dtype %q", dtype)
	}
	n := 1
	for _, dim := range shape {
		if dim < 0 {
			return Tensor{}, fmt.Errorf("negative dimension in shape %v", shape)
		}
		n *= dim
	}
	if len(data) != n*esize {
		return Tensor{}, fmt.Errorf("dtype %s shape %v needs %d bytes, got %d", dtype, shape, n*esize, len(data))
	}
	return Tensor{DType: dtype, Shape: shape, Data: data}, nil
}

// NumElems returns the total element count implied by the shape.
func (t Tensor) NumElems() int {
	n := 1
	for _, dim := range t.Shape {
		n *= dim
	}
	return n
}

// Frame is a view of one slice along a tensor's leading axis. Shape holds the
// per-frame dimensions, e.g. [H, W, C] for a color frame or [H, W] for a
// grayscale one. Data aliases the parent tensor's buffer.
type Frame struct {
	Shape []int
	Data  []byte
}

// Rank returns the number of per-frame dimensions.
func (f Frame) Rank() int { return len(f.Shape) }

// Channels returns the size of the trailing dimension, or 0 for rank-2 frames.
func (f Frame) Channels() int {
	if len(f.Shape) < 3 {
		return 0
	}
	return f.Shape[len(f.Shape)-1]
}

// Frames splits the tensor along its leading axis into per-frame views.
// The tensor must have rank >= 3 so each frame is at least a 2-D image.
func (t Tensor) Frames() ([]Frame, error) {
	if len(t.Shape) < 3 {
		return nil, fmt.Errorf("tensor rank %d too low to hold frames", len(t.Shape))
	}
	count := t.Shape[0]
	stride := t.DType.Size()
	for _, dim := range t.Shape[1:] {
		stride *= dim
	}
	frames := make([]Frame, count)
	for i := 0; i < count; i++ {
		frames[i] = Frame{
			Shape: t.Shape[1:],
			Data:  t.Data[i*stride : (i+1)*stride],
		}
	}
	return frames, nil
}

// FromFloat32 packs float32 values into an F32 tensor of the given shape.
func FromFloat32(shape []int, vals []float32) (Tensor, error) {
	data := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return New(F32, shape, data)
}

// Float32s decodes an F32 tensor's buffer into a value slice.
func (t Tensor) Float32s() ([]float32, error) {
	if t.DType != F32 {
		return nil, fmt.Errorf("dtype %s is not F32", t.DType)
	}
	vals := make([]float32, len(t.Data)/4)
	for i := range vals {
		vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
	}
	return vals, nil
}
