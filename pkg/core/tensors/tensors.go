// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tensors provides typed host buffers used as inputs and outputs of
// the WebGPU matmul planner. A Buffer owns a flat slice whose element type
// is fixed by its shape's dtype.
package tensors

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/webgpumatmul/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Buffer is a tensor held in host memory: a shape plus the flat backing
// slice. Float16 data is stored as []uint16 (IEEE 754 binary16 bits).
type Buffer struct {
	shape shapes.Shape
	flat  any
}

// New allocates a zero-initialized buffer of the given shape.
// It fails for element types with no registered storage.
func New(shape shapes.Shape) (*Buffer, error) {
	var flat any
	size := shape.Size()
	switch shape.DType {
	case dtypes.Float32:
		flat = make([]float32, size)
	case dtypes.Float64:
		flat = make([]float64, size)
	case dtypes.Float16:
		flat = make([]uint16, size)
	case dtypes.Int16:
		flat = make([]int16, size)
	case dtypes.Int32:
		flat = make([]int32, size)
	case dtypes.Int64:
		flat = make([]int64, size)
	default:
		return nil, errors.Errorf("tensors.New: unsupported dtype %s", shape.DType)
	}
	return &Buffer{shape: shape, flat: flat}, nil
}

// Scalar constrains the element types with direct flat-slice storage.
// Float16 is excluded: it is stored as raw bits ([]uint16) and converted
// through the float16 package.
type Scalar interface {
	float32 | float64 | int16 | int32 | int64
}

// FromFlat wraps an existing flat slice as a Buffer of the given dimensions.
// The slice length must equal the product of the dimensions.
func FromFlat[T Scalar](flat []T, dimensions ...int) (*Buffer, error) {
	shape := shapes.Make(dtypeOf[T](), dimensions...)
	if len(flat) != shape.Size() {
		return nil, errors.Errorf("tensors.FromFlat: %d values do not fill shape %s", len(flat), shape)
	}
	return &Buffer{shape: shape, flat: flat}, nil
}

// FromScalar returns a rank-0 buffer holding one value.
func FromScalar[T Scalar](value T) *Buffer {
	return &Buffer{shape: shapes.Make(dtypeOf[T]()), flat: []T{value}}
}

func dtypeOf[T Scalar]() dtypes.DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return dtypes.Float32
	case float64:
		return dtypes.Float64
	case int16:
		return dtypes.Int16
	case int32:
		return dtypes.Int32
	case int64:
		return dtypes.Int64
	}
	panic("unreachable")
}

// Shape returns the buffer's shape.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// DType returns the buffer's element type.
func (b *Buffer) DType() dtypes.DType { return b.shape.DType }

// Size returns the number of elements.
func (b *Buffer) Size() int { return b.shape.Size() }

// Flat returns the backing slice as `any`; callers switch on DType.
func (b *Buffer) Flat() any { return b.flat }

// Reshape reinterprets the buffer with new dimensions of the same total
// size. No data moves.
func (b *Buffer) Reshape(dimensions ...int) error {
	newShape := shapes.Make(b.shape.DType, dimensions...)
	if newShape.Size() != b.shape.Size() {
		return errors.Errorf("tensors.Reshape: cannot reshape %s to %s, sizes differ", b.shape, newShape)
	}
	b.shape = newShape
	return nil
}

// Float32 returns the backing slice of a Float32 buffer.
func (b *Buffer) Float32() ([]float32, error) {
	flat, ok := b.flat.([]float32)
	if !ok {
		return nil, errors.Errorf("tensors.Float32: buffer holds %s, not Float32", b.shape.DType)
	}
	return flat, nil
}

// CopyAsFloat32 extracts the buffer contents as a freshly allocated float32
// slice, converting from Float16 or Float64 as needed.
func (b *Buffer) CopyAsFloat32() ([]float32, error) {
	switch flat := b.flat.(type) {
	case []float32:
		out := make([]float32, len(flat))
		copy(out, flat)
		return out, nil
	case []float64:
		out := make([]float32, len(flat))
		for i, v := range flat {
			out[i] = float32(v)
		}
		return out, nil
	case []uint16:
		out := make([]float32, len(flat))
		for i, v := range flat {
			out[i] = float16.Frombits(v).Float32()
		}
		return out, nil
	default:
		return nil, errors.Errorf("tensors.CopyAsFloat32: no conversion from %s", b.shape.DType)
	}
}

// SetFromFloat32 fills the buffer from float32 values, converting to the
// buffer's element type. The value count must match the buffer size.
func (b *Buffer) SetFromFloat32(values []float32) error {
	if len(values) != b.Size() {
		return errors.Errorf("tensors.SetFromFloat32: %d values for buffer of size %d", len(values), b.Size())
	}
	switch flat := b.flat.(type) {
	case []float32:
		copy(flat, values)
	case []float64:
		for i, v := range values {
			flat[i] = float64(v)
		}
	case []uint16:
		for i, v := range values {
			flat[i] = float16.Fromfloat32(v).Bits()
		}
	default:
		return errors.Errorf("tensors.SetFromFloat32: no conversion to %s", b.shape.DType)
	}
	return nil
}
