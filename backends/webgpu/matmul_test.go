// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/webgpumatmul/pkg/core/shapes"
	"github.com/gomlx/webgpumatmul/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFromFlat(t *testing.T, values []float32, dims ...int) *tensors.Buffer {
	t.Helper()
	buf, err := tensors.FromFlat(values, dims...)
	require.NoError(t, err)
	return buf
}

// iota32 fills a deterministic, non-symmetric test operand.
func iota32(n int) []float32 {
	values := make([]float32, n)
	for i := range values {
		values[i] = float32(i%13) - 5.5
	}
	return values
}

// refMatMul is an independent reference: plain nested loops over padded
// shapes with its own broadcast arithmetic. Returns the flat result and its
// dimensions.
func refMatMul(t *testing.T, aFlat []float32, aDims []int, bFlat []float32, bDims []int, bias []float32) ([]float32, []int) {
	t.Helper()
	if len(aDims) == 1 {
		aDims = []int{1, aDims[0]}
	}
	if len(bDims) == 1 {
		bDims = []int{bDims[0], 1}
	}
	m, k := aDims[len(aDims)-2], aDims[len(aDims)-1]
	n := bDims[len(bDims)-1]
	require.Equal(t, k, bDims[len(bDims)-2], "reference inner dims")

	outerA := aDims[:len(aDims)-2]
	outerB := bDims[:len(bDims)-2]
	rank := len(outerA)
	if len(outerB) > rank {
		rank = len(outerB)
	}
	pad := func(dims []int) []int {
		padded := make([]int, rank)
		for i := range padded {
			padded[i] = 1
		}
		copy(padded[rank-len(dims):], dims)
		return padded
	}
	padA, padB := pad(outerA), pad(outerB)
	outDims := make([]int, rank)
	batchSize := 1
	for i := range outDims {
		outDims[i] = padA[i]
		if padB[i] > outDims[i] {
			outDims[i] = padB[i]
		}
		require.True(t, padA[i] == 1 || padB[i] == 1 || padA[i] == padB[i],
			"reference batch dims incompatible")
		batchSize *= outDims[i]
	}

	out := make([]float32, batchSize*m*n)
	for batch := 0; batch < batchSize; batch++ {
		// Decompose and re-fold with broadcast axes collapsed to 0.
		aBatch, bBatch := 0, 0
		rem := batch
		coords := make([]int, rank)
		for i := rank - 1; i >= 0; i-- {
			coords[i] = rem % outDims[i]
			rem /= outDims[i]
		}
		for i := 0; i < rank; i++ {
			ca, cb := coords[i], coords[i]
			if padA[i] == 1 {
				ca = 0
			}
			if padB[i] == 1 {
				cb = 0
			}
			aBatch = aBatch*padA[i] + ca
			bBatch = bBatch*padB[i] + cb
		}
		for row := 0; row < m; row++ {
			for col := 0; col < n; col++ {
				var sum float32
				for kk := 0; kk < k; kk++ {
					sum += aFlat[aBatch*m*k+row*k+kk] * bFlat[bBatch*k*n+kk*n+col]
				}
				if bias != nil {
					sum += bias[row]
				}
				out[batch*m*n+row*n+col] = sum
			}
		}
	}
	return out, append(outDims, m, n)
}

func TestMatMulEndToEnd(t *testing.T) {
	tests := []struct {
		name     string
		aDims    []int
		bDims    []int
		bias     []float32
		wantKind KernelKind
	}{
		{name: "native small", aDims: []int{3, 4}, bDims: []int{4, 4}, wantKind: KernelNative},
		{name: "native odd dims", aDims: []int{6, 3}, bDims: []int{3, 7}, wantKind: KernelNative},
		{name: "native with bias", aDims: []int{4, 4}, bDims: []int{4, 4},
			bias: []float32{1, -2, 3, -4}, wantKind: KernelNative},
		{name: "native batched broadcast", aDims: []int{1, 3, 6, 4}, bDims: []int{5, 1, 4, 2},
			wantKind: KernelNative},
		{name: "packed vec4", aDims: []int{16, 16}, bDims: []int{16, 16}, wantKind: KernelPacked},
		{name: "packed vec4 small m", aDims: []int{5, 16}, bDims: []int{16, 16}, wantKind: KernelPacked},
		{name: "packed scalar", aDims: []int{16, 9}, bDims: []int{9, 10}, wantKind: KernelPacked},
		{name: "packed ragged tiles", aDims: []int{33, 20}, bDims: []int{20, 34}, wantKind: KernelPacked},
		{name: "packed with bias", aDims: []int{16, 16}, bDims: []int{16, 16},
			bias: iota32(16), wantKind: KernelPacked},
		{name: "packed batched", aDims: []int{3, 16, 16}, bDims: []int{3, 16, 16}, wantKind: KernelPacked},
		{name: "packed batched broadcast", aDims: []int{1, 2, 9, 16}, bDims: []int{4, 1, 16, 12},
			wantKind: KernelPacked},
		{name: "rank-1 a", aDims: []int{4}, bDims: []int{4, 5}, wantKind: KernelNative},
		{name: "rank-1 b", aDims: []int{3, 4}, bDims: []int{4}, wantKind: KernelNative},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			queue := NewSimQueue()
			backend := New(queue)
			aFlat := iota32(shapes.Size(tc.aDims))
			bFlat := iota32(shapes.Size(tc.bDims))
			a := mustFromFlat(t, aFlat, tc.aDims...)
			b := mustFromFlat(t, bFlat, tc.bDims...)
			var bias *tensors.Buffer
			if tc.bias != nil {
				bias = mustFromFlat(t, tc.bias, len(tc.bias))
			}

			got, err := backend.MatMul(a, b, bias)
			require.NoError(t, err)
			require.Equal(t, 1, queue.Submissions())
			assert.Contains(t, queue.LastProgramKey(), tc.wantKind.String())

			want, wantDims := refMatMul(t, aFlat, tc.aDims, bFlat, tc.bDims, tc.bias)
			wantShape := shapes.Make(dtypes.Float32, wantDims...)
			// Rank-1 operands collapse their padded axis in the result.
			if len(tc.aDims) == 1 || len(tc.bDims) == 1 {
				require.Equal(t, wantShape.Size(), got.Size())
			} else {
				assert.True(t, got.Shape().Equal(wantShape),
					"shape %s, want %s", got.Shape(), wantShape)
			}
			gotFlat, err := got.CopyAsFloat32()
			require.NoError(t, err)
			assert.InDeltaSlice(t, want, gotFlat, 1e-3)
		})
	}
}

func TestMatMulRank1OutputShapes(t *testing.T) {
	backend := New(NewSimQueue())

	a := mustFromFlat(t, iota32(4), 4)
	b := mustFromFlat(t, iota32(20), 4, 5)
	out, err := backend.MatMul(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, out.Shape().Dimensions)

	a = mustFromFlat(t, iota32(12), 3, 4)
	b = mustFromFlat(t, iota32(4), 4)
	out, err = backend.MatMul(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, out.Shape().Dimensions)
}

// A batch of row vectors against one shared matrix is internally rewritten
// into a single matrix product; the caller-visible shape must be unchanged
// and the values must match the unrewritten computation.
func TestMatMulBatchedVectorRewrite(t *testing.T) {
	queue := NewSimQueue()
	backend := New(queue)
	aFlat := iota32(5 * 4)
	bFlat := iota32(4 * 7)
	a := mustFromFlat(t, aFlat, 5, 1, 4)
	b := mustFromFlat(t, bFlat, 4, 7)

	out, err := backend.MatMul(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 1, 7}, out.Shape().Dimensions)
	require.Equal(t, 1, queue.Submissions())

	want, _ := refMatMul(t, aFlat, []int{5, 1, 4}, bFlat, []int{4, 7}, nil)
	gotFlat, err := out.CopyAsFloat32()
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, gotFlat, 1e-3)
}

func TestMatMulFloat16(t *testing.T) {
	queue := NewSimQueue()
	backend := New(queue)
	aFlat := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	bFlat := []float32{1, 0, 0, 1, 2, -1, 1, 0.5, -2, 0.25, 4, -3}

	a, err := tensors.New(shapes.Make(dtypes.Float16, 3, 4))
	require.NoError(t, err)
	require.NoError(t, a.SetFromFloat32(aFlat))
	b, err := tensors.New(shapes.Make(dtypes.Float16, 4, 3))
	require.NoError(t, err)
	require.NoError(t, b.SetFromFloat32(bFlat))

	out, err := backend.MatMul(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float16, out.DType())
	require.Equal(t, 1, queue.Submissions())

	want, _ := refMatMul(t, aFlat, []int{3, 4}, bFlat, []int{4, 3}, nil)
	gotFlat, err := out.CopyAsFloat32()
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, gotFlat, 0.5)
}

// Empty outputs and empty reductions must not reach the queue at all.
func TestMatMulTrivialShapes(t *testing.T) {
	queue := NewSimQueue()
	backend := New(queue)

	a := mustFromFlat(t, []float32{}, 0, 4)
	b := mustFromFlat(t, iota32(12), 4, 3)
	out, err := backend.MatMul(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, out.Shape().Dimensions)
	assert.Equal(t, 0, queue.Submissions())
	assert.Equal(t, 0, backend.CachedPrograms())

	// K == 0 is an empty reduction: the product is all zeros.
	a = mustFromFlat(t, []float32{}, 3, 0)
	b = mustFromFlat(t, []float32{}, 0, 5)
	out, err = backend.MatMul(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, out.Shape().Dimensions)
	assert.Equal(t, 0, queue.Submissions())
	gotFlat, err := out.CopyAsFloat32()
	require.NoError(t, err)
	for i, value := range gotFlat {
		assert.Zerof(t, value, "output[%d]", i)
	}
}

func TestMatMulErrors(t *testing.T) {
	backend := New(NewSimQueue())

	f32 := func(dims ...int) *tensors.Buffer {
		return mustFromFlat(t, iota32(shapes.Size(dims)), dims...)
	}

	_, err := backend.MatMul(nil, f32(2, 2), nil)
	assert.Error(t, err)

	intBuf, err := tensors.New(shapes.Make(dtypes.Int32, 2, 2))
	require.NoError(t, err)
	_, err = backend.MatMul(intBuf, intBuf, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedDType), "got %v", err)

	f16Buf, err := tensors.New(shapes.Make(dtypes.Float16, 2, 2))
	require.NoError(t, err)
	_, err = backend.MatMul(f32(2, 2), f16Buf, nil)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)

	_, err = backend.MatMul(f32(3, 4), f32(5, 6), nil)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)

	_, err = backend.MatMul(f32(2, 3, 4), f32(5, 4, 6), nil)
	assert.True(t, errors.Is(err, ErrBroadcastIncompatible), "got %v", err)

	// Bias must hold one value per output row.
	_, err = backend.MatMul(f32(4, 4), f32(4, 4), f32(3))
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
}

// Plan exposes the same program and geometry MatMul uses, without a queue.
func TestPlanMatchesMatMul(t *testing.T) {
	queue := NewSimQueue()
	backend := New(queue)

	aShape := shapes.Make(dtypes.Float32, 16, 16)
	bShape := shapes.Make(dtypes.Float32, 16, 16)
	program, plan, err := backend.Plan(aShape, bShape, false)
	require.NoError(t, err)
	assert.Equal(t, [3]int{8, 8, 1}, plan.WorkgroupSize)
	assert.Equal(t, 1, backend.CachedPrograms())
	assert.Equal(t, 0, queue.Submissions())

	a := mustFromFlat(t, iota32(16*16), 16, 16)
	b := mustFromFlat(t, iota32(16*16), 16, 16)
	_, err = backend.MatMul(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.CachedPrograms(), "MatMul must reuse the planned program")
	assert.Equal(t, program.Key, queue.LastProgramKey())

	_, _, err = backend.Plan(shapes.Make(dtypes.Float32, 0, 4), shapes.Make(dtypes.Float32, 4, 3), false)
	assert.Error(t, err, "trivial problems have no plan")
	_, _, err = backend.Plan(shapes.Make(dtypes.Int32, 2, 2), shapes.Make(dtypes.Int32, 2, 2), false)
	assert.True(t, errors.Is(err, ErrUnsupportedDType), "got %v", err)
}

func TestMatMulConcurrentCalls(t *testing.T) {
	queue := NewSimQueue()
	backend := New(queue)
	aFlat := iota32(16 * 16)
	bFlat := iota32(16 * 16)
	want, _ := refMatMul(t, aFlat, []int{16, 16}, bFlat, []int{16, 16}, nil)

	const callers = 8
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			a, err := tensors.FromFlat(aFlat, 16, 16)
			if err != nil {
				results <- err
				return
			}
			b, err := tensors.FromFlat(bFlat, 16, 16)
			if err != nil {
				results <- err
				return
			}
			out, err := backend.MatMul(a, b, nil)
			if err != nil {
				results <- err
				return
			}
			gotFlat, err := out.CopyAsFloat32()
			if err != nil {
				results <- err
				return
			}
			for j := range want {
				if diff := gotFlat[j] - want[j]; diff > 1e-3 || diff < -1e-3 {
					results <- errors.Errorf("output[%d] = %f, want %f", j, gotFlat[j], want[j])
					return
				}
			}
			results <- nil
		}()
	}
	for i := 0; i < callers; i++ {
		require.NoError(t, <-results)
	}
	assert.Equal(t, 1, backend.CachedPrograms())
	assert.Equal(t, callers, queue.Submissions())
}
