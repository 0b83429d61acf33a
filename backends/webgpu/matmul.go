// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/webgpumatmul/pkg/core/shapes"
	"github.com/gomlx/webgpumatmul/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MatMul multiplies a by b (batched, with numpy broadcasting over the batch
// dimensions) and returns the freshly allocated result. bias may be nil;
// when given it must hold one element per output row and is added to every
// element of that row.
//
// Shape resolution, variant selection, program generation and dispatch
// planning all happen synchronously here; execution is handed to the Queue.
// A zero-sized output short-circuits to an empty result without generating
// or dispatching anything.
func (bk *Backend) MatMul(a, b, bias *tensors.Buffer) (*tensors.Buffer, error) {
	if a == nil || b == nil {
		return nil, errors.New("matmul requires two operands")
	}
	dtype := a.DType()
	if b.DType() != dtype {
		return nil, errors.Wrapf(ErrShapeMismatch, "operand dtypes differ: %s vs %s", dtype, b.DType())
	}
	if dtype != dtypes.Float32 && dtype != dtypes.Float16 {
		return nil, errors.Wrapf(ErrUnsupportedDType, "matmul has no kernel builder for %s", dtype)
	}
	hasBias := bias != nil
	if hasBias && bias.DType() != dtype {
		return nil, errors.Wrapf(ErrUnsupportedDType, "bias dtype %s differs from operand dtype %s", bias.DType(), dtype)
	}

	info, err := resolveMatMulShapes(a.Shape(), b.Shape(), hasBias)
	if err != nil {
		return nil, err
	}
	if hasBias && bias.Size() != info.m {
		return nil, errors.Wrapf(ErrShapeMismatch, "bias has %d elements for %d output rows", bias.Size(), info.m)
	}

	output, err := tensors.New(shapes.Make(dtype, info.outputDims...))
	if err != nil {
		return nil, err
	}
	if info.outputSize() == 0 || info.k == 0 {
		// Nothing to dispatch: either the output is empty, or the
		// reduction is empty and the zeroed output is already the product.
		klog.V(2).Infof("matmul: trivial output %v, skipping program generation", info.origOutputDims)
		if err := output.Reshape(info.origOutputDims...); err != nil {
			return nil, err
		}
		return output, nil
	}

	variant := bk.selectVariant(info, dtype, hasBias)
	program := bk.cache.lookupOrBuild(variant.CacheKey(), func() *GeneratedProgram {
		klog.V(1).Infof("matmul: generating %s program for %q", variant.Kind, variant.CacheKey())
		return buildProgram(variant)
	})

	sub := bk.planSubmission(info, variant, program, a, b, bias, output)
	klog.V(2).Infof("matmul: dispatching %s grid=%v workgroup=%v uniforms=%v",
		variant.Kind, sub.Plan.GridSize, sub.Plan.WorkgroupSize, sub.Uniforms)
	if err := bk.Queue().RunProgram(sub); err != nil {
		return nil, errors.WithMessage(err, "matmul submission failed")
	}

	// Restore the caller-visible shape undone by padding or the rewrite.
	if err := output.Reshape(info.origOutputDims...); err != nil {
		return nil, err
	}
	bk.maybeReadback(output)
	return output, nil
}

// Plan resolves the shapes and returns the generated program and launch
// geometry MatMul would use, without binding buffers or dispatching
// anything. The program comes from (and is stored in) the backend's cache.
func (bk *Backend) Plan(a, b shapes.Shape, hasBias bool) (*GeneratedProgram, DispatchPlan, error) {
	dtype := a.DType
	if b.DType != dtype {
		return nil, DispatchPlan{}, errors.Wrapf(ErrShapeMismatch, "operand dtypes differ: %s vs %s", dtype, b.DType)
	}
	if dtype != dtypes.Float32 && dtype != dtypes.Float16 {
		return nil, DispatchPlan{}, errors.Wrapf(ErrUnsupportedDType, "matmul has no kernel builder for %s", dtype)
	}
	info, err := resolveMatMulShapes(a, b, hasBias)
	if err != nil {
		return nil, DispatchPlan{}, err
	}
	if info.outputSize() == 0 || info.k == 0 {
		return nil, DispatchPlan{}, errors.Errorf("output %v is trivial, nothing would be dispatched", info.origOutputDims)
	}
	variant := bk.selectVariant(info, dtype, hasBias)
	program := bk.cache.lookupOrBuild(variant.CacheKey(), func() *GeneratedProgram {
		return buildProgram(variant)
	})
	return program, dispatchPlanFor(info, variant), nil
}

// buildProgram generates source for a variant with the builder of its kind.
func buildProgram(variant KernelVariant) *GeneratedProgram {
	if variant.Kind == KernelNative {
		return buildNativeProgram(variant)
	}
	return buildPackedProgram(variant)
}

// dispatchPlanFor computes the launch geometry of a variant over a resolved
// problem.
func dispatchPlanFor(info *matMulShapeInfo, variant KernelVariant) DispatchPlan {
	if variant.Kind == KernelNative {
		return nativeDispatchPlan(info.outputSize() / variant.Components / variant.OutputNumber)
	}
	return packedDispatchPlan(info.m, info.n, info.batchSize(), variant.ElementsPerThread)
}

// planSubmission assembles the dispatch plan, uniform values and bound
// buffers for one call of the cached program.
func (bk *Backend) planSubmission(info *matMulShapeInfo, variant KernelVariant,
	program *GeneratedProgram, a, b, bias, output *tensors.Buffer) *Submission {

	batchRank := variant.BatchRank
	batchDims := padDims(info.outerOut, batchRank)
	aBatchDims := padDims(info.outerA, batchRank)
	bBatchDims := padDims(info.outerB, batchRank)

	plan := dispatchPlanFor(info, variant)
	uniforms := make([]uint32, 0, len(program.UniformNames))
	if variant.Kind == KernelNative {
		outputSize := info.outputSize() / variant.Components / variant.OutputNumber
		uniforms = append(uniforms, uint32(outputSize), uint32(info.m), uint32(info.n), uint32(info.k))
	} else {
		uniforms = append(uniforms, uint32(info.m), uint32(info.n), uint32(info.k))
	}
	for _, dims := range [][]int{batchDims, aBatchDims, bBatchDims} {
		for _, dim := range dims {
			uniforms = append(uniforms, uint32(dim))
		}
	}

	aComponents := variant.Components
	if variant.Kind == KernelNative {
		aComponents = variant.AComponents
	}
	return &Submission{
		Program:  program,
		Plan:     plan,
		Uniforms: uniforms,
		A: BoundBuffer{
			Buffer:     a,
			Dims:       append(append([]int{}, aBatchDims...), info.m, info.k),
			Components: aComponents,
		},
		B: BoundBuffer{
			Buffer:     b,
			Dims:       append(append([]int{}, bBatchDims...), info.k, info.n),
			Components: variant.Components,
		},
		Bias: bias,
		Output: BoundBuffer{
			Buffer:     output,
			Dims:       []int{info.batchSize(), info.m, info.n},
			Components: variant.Components,
		},
		BatchDims:  batchDims,
		ABatchDims: aBatchDims,
		BBatchDims: bBatchDims,
		M:          info.m,
		N:          info.n,
		K:          info.k,
	}
}

// padDims left-pads dims with 1s to the given rank.
func padDims(dims []int, rank int) []int {
	padded := make([]int, rank)
	for i := range padded {
		padded[i] = 1
	}
	copy(padded[rank-len(dims):], dims)
	return padded
}

// maybeReadback copies the output to the host and logs it when debug
// readback is enabled. This synchronizes with the queue; keep it off hot
// paths.
func (bk *Backend) maybeReadback(output *tensors.Buffer) {
	bk.mu.RLock()
	enabled := bk.debugReadback
	bk.mu.RUnlock()
	if !enabled {
		return
	}
	values, err := output.CopyAsFloat32()
	if err != nil {
		klog.Warningf("matmul: debug readback failed: %v", err)
		return
	}
	const maxLogged = 64
	logged := values
	if len(logged) > maxLogged {
		logged = logged[:maxLogged]
	}
	klog.V(1).Infof("matmul: output %s (%s): %v", output.Shape(),
		humanize.Bytes(uint64(len(values)*4)), logged)
}
