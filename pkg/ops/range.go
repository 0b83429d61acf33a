// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ops implements the host-side generator and object-detection
// operators that accompany the matmul planner: Range and
// NonMaxSuppression. Both are plain synchronous loops; element-type
// dispatch is a closed switch over the supported kinds, so an unsupported
// dtype is a compile-visible gap, not a missing runtime registration.
package ops

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/webgpumatmul/pkg/core/shapes"
	"github.com/gomlx/webgpumatmul/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Range generates the 1-D sequence start, start+delta, ... stopping before
// limit. start and limit must be scalars of the same dtype; delta may be
// nil, defaulting to one. An empty (or negative-length) range yields a
// zero-size tensor; a zero delta is an input error.
func Range(start, limit, delta *tensors.Buffer) (*tensors.Buffer, error) {
	if start == nil || limit == nil {
		return nil, errors.New("range requires start and limit")
	}
	if !start.Shape().IsScalar() || !limit.Shape().IsScalar() {
		return nil, errors.Errorf("range start and limit must be scalars, got %s and %s",
			start.Shape(), limit.Shape())
	}
	dtype := start.DType()
	if limit.DType() != dtype {
		return nil, errors.Errorf("range start and limit dtypes differ: %s vs %s", dtype, limit.DType())
	}
	if delta != nil {
		if !delta.Shape().IsScalar() {
			return nil, errors.Errorf("range delta must be a scalar, got %s", delta.Shape())
		}
		if delta.DType() != dtype {
			return nil, errors.Errorf("range delta dtype %s differs from %s", delta.DType(), dtype)
		}
	}

	switch dtype {
	case dtypes.Float32:
		return rangeTyped[float32](start, limit, delta)
	case dtypes.Float64:
		return rangeTyped[float64](start, limit, delta)
	case dtypes.Int16:
		return rangeTyped[int16](start, limit, delta)
	case dtypes.Int32:
		return rangeTyped[int32](start, limit, delta)
	case dtypes.Int64:
		return rangeTyped[int64](start, limit, delta)
	case dtypes.Float16:
		return rangeFloat16(start, limit, delta)
	default:
		return nil, errors.Errorf("range does not support dtype %s", dtype)
	}
}

func rangeTyped[T tensors.Scalar](start, limit, delta *tensors.Buffer) (*tensors.Buffer, error) {
	startValue := scalarOf[T](start)
	limitValue := scalarOf[T](limit)
	deltaValue := T(1)
	if delta != nil {
		deltaValue = scalarOf[T](delta)
	}
	if deltaValue == 0 {
		return nil, errors.New("range delta cannot be zero")
	}
	n := rangeLength(float64(startValue), float64(limitValue), float64(deltaValue))
	values := make([]T, n)
	for i := range values {
		values[i] = startValue
		startValue += deltaValue
	}
	return tensors.FromFlat(values, n)
}

// rangeFloat16 computes in float32 and stores half-precision values,
// accumulating the step in float32 to avoid compounding rounding.
func rangeFloat16(start, limit, delta *tensors.Buffer) (*tensors.Buffer, error) {
	startValue := float16.Frombits(scalarOf[uint16](start)).Float32()
	limitValue := float16.Frombits(scalarOf[uint16](limit)).Float32()
	deltaValue := float32(1)
	if delta != nil {
		deltaValue = float16.Frombits(scalarOf[uint16](delta)).Float32()
	}
	if deltaValue == 0 {
		return nil, errors.New("range delta cannot be zero")
	}
	n := rangeLength(float64(startValue), float64(limitValue), float64(deltaValue))
	out, err := tensors.New(shapes.Make(dtypes.Float16, n))
	if err != nil {
		return nil, err
	}
	flat := out.Flat().([]uint16)
	for i := range flat {
		flat[i] = float16.Fromfloat32(startValue).Bits()
		startValue += deltaValue
	}
	return out, nil
}

// rangeLength returns max(0, ceil((limit-start)/delta)).
func rangeLength(start, limit, delta float64) int {
	n := int(math.Ceil((limit - start) / delta))
	if n < 0 {
		n = 0
	}
	return n
}

func scalarOf[T any](buf *tensors.Buffer) T {
	return buf.Flat().([]T)[0]
}
