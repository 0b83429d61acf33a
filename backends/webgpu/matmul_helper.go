// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import (
	"github.com/gomlx/webgpumatmul/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// matMulShapeInfo holds the resolved geometry of one matmul call:
// the matrix dimensions M, N, K, the broadcast batch dimensions, and the
// output shape. It is computed once per call and immutable afterwards.
//
// When the batched-vector-times-matrix rewrite applies, all fields describe
// the rewritten problem; origOutputDims keeps the caller-visible output
// dimensions to restore on the result.
type matMulShapeInfo struct {
	m, n, k int

	outerA   []int // batch dims of A
	outerB   []int // batch dims of B
	outerOut []int // broadcast of outerA and outerB

	outputDims     []int // outerOut + [m, n]
	origOutputDims []int // pre-rewrite output dims, restored on the result
	rewritten      bool
}

// batchSize returns the total number of output batches.
func (info *matMulShapeInfo) batchSize() int {
	return shapes.Size(info.outerOut)
}

// outputSize returns the total number of output elements.
func (info *matMulShapeInfo) outputSize() int {
	return shapes.Size(info.outputDims)
}

// resolveMatMulShapes computes M, N, K and the broadcast batch dimensions of
// A×B, validating inner-dimension agreement and batch broadcastability.
//
// Rank-1 operands are promoted to rank 2 the usual way (A: [K] -> [1,K],
// B: [K] -> [K,1]) and the padded axis is dropped from the output shape.
//
// The batched-vector-times-matrix rewrite reinterprets
// A=[...batchA..., 1, K] × B=[K, N] as A'=[1, batchA, K] × B'=[1, K, N],
// turning a dispatch with batchA singleton-row batches into one batch of
// batchA rows. It is skipped when a bias is present, since bias values are
// indexed by output row and the rewrite changes the row count.
func resolveMatMulShapes(a, b shapes.Shape, hasBias bool) (*matMulShapeInfo, error) {
	if a.Rank() == 0 || b.Rank() == 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "matmul operands must have rank >= 1, got %s and %s", a, b)
	}

	dimsA, dimsB := a.Dimensions, b.Dimensions
	padA := len(dimsA) == 1
	padB := len(dimsB) == 1
	if padA {
		dimsA = []int{1, dimsA[0]}
	}
	if padB {
		dimsB = []int{dimsB[0], 1}
	}

	k := dimsA[len(dimsA)-1]
	if dimsB[len(dimsB)-2] != k {
		return nil, errors.Wrapf(ErrShapeMismatch, "A %s has K=%d but B %s has K=%d",
			a, k, b, dimsB[len(dimsB)-2])
	}

	info := &matMulShapeInfo{
		m:      dimsA[len(dimsA)-2],
		n:      dimsB[len(dimsB)-1],
		k:      k,
		outerA: dimsA[:len(dimsA)-2],
		outerB: dimsB[:len(dimsB)-2],
	}

	outerOut, err := shapes.BroadcastDims(info.outerA, info.outerB)
	if err != nil {
		return nil, errors.Wrapf(ErrBroadcastIncompatible, "matmul of %s and %s: %v", a, b, err)
	}
	info.outerOut = outerOut
	info.outputDims = append(append([]int{}, outerOut...), info.m, info.n)

	// The caller-visible output drops the axes introduced by rank-1 padding.
	info.origOutputDims = append([]int{}, outerOut...)
	if !padA {
		info.origOutputDims = append(info.origOutputDims, info.m)
	}
	if !padB {
		info.origOutputDims = append(info.origOutputDims, info.n)
	}

	batchA := shapes.Size(info.outerA)
	batchB := shapes.Size(info.outerB)
	if info.m == 1 && batchA > 1 && batchB == 1 && !hasBias {
		klog.V(2).Infof("matmul: rewriting batched vector×matrix %s × %s as [1 %d %d] × [1 %d %d]",
			a, b, batchA, info.k, info.k, info.n)
		info.m = batchA
		info.outerA = []int{1}
		info.outerB = []int{1}
		info.outerOut = []int{1}
		info.outputDims = []int{1, batchA, info.n}
		info.rewritten = true
	}

	klog.V(2).Infof("matmul: resolved m=%d n=%d k=%d outerA=%v outerB=%v outerOut=%v output=%v",
		info.m, info.n, info.k, info.outerA, info.outerB, info.outerOut, info.outputDims)
	return info, nil
}
