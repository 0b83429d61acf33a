// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shapes defines the Shape of tensors handled by the WebGPU matmul
// planner: an element type plus an ordered list of dimension sizes.
//
// The last two dimensions of a matmul operand are the matrix dimensions;
// everything before them are the "outer" (batch) dimensions, combined across
// operands with numpy-style broadcasting.
package shapes

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape describes the element type and dimensions of a tensor.
// Dimensions must all be non-negative. A Shape with no dimensions is a
// scalar.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape of the given element type and dimensions.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	return Shape{DType: dtype, Dimensions: dimensions}
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar reports whether the shape has no dimensions.
func (s Shape) IsScalar() bool { return len(s.Dimensions) == 0 }

// Size returns the total number of elements, the product of all dimensions.
// A scalar has size 1; any zero dimension makes the size 0.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// OuterDims returns the batch dimensions: all but the last two.
// Shapes of rank <= 2 have no batch dimensions.
func (s Shape) OuterDims() []int {
	if len(s.Dimensions) <= 2 {
		return nil
	}
	return s.Dimensions[:len(s.Dimensions)-2]
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	clone := Shape{DType: s.DType}
	if s.Dimensions != nil {
		clone.Dimensions = make([]int, len(s.Dimensions))
		copy(clone.Dimensions, s.Dimensions)
	}
	return clone
}

// Equal reports whether two shapes have the same dtype and dimensions.
func (s Shape) Equal(other Shape) bool {
	if s.DType != other.DType || len(s.Dimensions) != len(other.Dimensions) {
		return false
	}
	for i, dim := range s.Dimensions {
		if dim != other.Dimensions[i] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer, e.g. "(Float32)[2 3 4]".
func (s Shape) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "(%s)[", s.DType)
	for i, dim := range s.Dimensions {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d", dim)
	}
	sb.WriteByte(']')
	return sb.String()
}

// Size returns the product of a dimensions slice. An empty slice has size 1.
func Size(dims []int) int {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	return size
}

// BroadcastDims combines two dimension lists under numpy broadcasting rules:
// the lists are right-aligned, the shorter one implicitly left-padded with
// 1s, and each aligned pair must be equal or contain a 1. The result takes
// the non-1 value of each pair.
func BroadcastDims(a, b []int) ([]int, error) {
	rank := len(a)
	if len(b) > rank {
		rank = len(b)
	}
	if rank == 0 {
		return nil, nil
	}
	out := make([]int, rank)
	for i := 0; i < rank; i++ {
		dimA, dimB := 1, 1
		if i >= rank-len(a) {
			dimA = a[i-(rank-len(a))]
		}
		if i >= rank-len(b) {
			dimB = b[i-(rank-len(b))]
		}
		switch {
		case dimA == dimB:
			out[i] = dimA
		case dimA == 1:
			out[i] = dimB
		case dimB == 1:
			out[i] = dimA
		default:
			return nil, errors.Errorf("dimensions %v and %v cannot broadcast: axis %d has %d vs %d",
				a, b, i, dimA, dimB)
		}
	}
	return out, nil
}
