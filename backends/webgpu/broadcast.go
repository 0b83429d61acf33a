// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import (
	"fmt"
	"io"
)

// Broadcast index mapping: a linear output-batch index is decomposed into
// per-axis coordinates over the output batch dimensions, and each input
// selects the output coordinate where its own dimension is > 1 and
// coordinate 0 where it was broadcast. The generated WGSL reads all
// dimension sizes from uniforms, so the emitted code depends only on the
// batch rank, never on concrete sizes.

// offsetToIndices decomposes a linear offset into coordinates over dims.
func offsetToIndices(offset int, dims []int) []int {
	indices := make([]int, len(dims))
	for i := len(dims) - 1; i >= 0; i-- {
		indices[i] = offset % dims[i]
		offset /= dims[i]
	}
	return indices
}

// indicesToOffset folds coordinates over dims back into a linear offset.
func indicesToOffset(indices, dims []int) int {
	offset := 0
	for i, dim := range dims {
		offset = offset*dim + indices[i]
	}
	return offset
}

// broadcastIndices maps output-batch coordinates to the coordinates of an
// input with the given (right-aligned) batch dimensions.
func broadcastIndices(outIndices, inputDims []int) []int {
	indices := make([]int, len(inputDims))
	shift := len(outIndices) - len(inputDims)
	for i, dim := range inputDims {
		if dim > 1 {
			indices[i] = outIndices[shift+i]
		}
	}
	return indices
}

// mapBatchOffsets resolves a linear output-batch index into linear batch
// offsets of both inputs. This is the host-side counterpart of the emitted
// WGSL fragments, used by the software queue and by tests.
func mapBatchOffsets(outBatch int, outDims, aDims, bDims []int) (aBatch, bBatch int) {
	outIndices := offsetToIndices(outBatch, outDims)
	aBatch = indicesToOffset(broadcastIndices(outIndices, aDims), aDims)
	bBatch = indicesToOffset(broadcastIndices(outIndices, bDims), bDims)
	return
}

// emitBatchCoords writes the decomposition of `batch` into per-axis
// coordinates over the output batch dimensions (uniform fields ob0..obR-1).
func emitBatchCoords(w io.Writer, batchRank int) {
	if batchRank == 0 {
		return
	}
	fmt.Fprintf(w, "  var batch_rem = batch;\n")
	fmt.Fprintf(w, "  var batch_coords: array<u32, %d>;\n", batchRank)
	for i := batchRank - 1; i >= 0; i-- {
		fmt.Fprintf(w, "  batch_coords[%d] = batch_rem %% uniforms.ob%d;\n", i, i)
		fmt.Fprintf(w, "  batch_rem = batch_rem / uniforms.ob%d;\n", i)
	}
}

// emitInputBatchOffset writes the fold of the output batch coordinates into
// the linear batch offset of one input. `name` is the input's uniform field
// prefix ("ab" or "bb") and `target` the WGSL variable to declare.
// Broadcast axes (dimension == 1) collapse to coordinate 0.
func emitInputBatchOffset(w io.Writer, name, target string, batchRank int) {
	fmt.Fprintf(w, "  var %s = 0u;\n", target)
	for i := 0; i < batchRank; i++ {
		fmt.Fprintf(w, "  %s = %s * uniforms.%s%d + select(0u, batch_coords[%d], uniforms.%s%d > 1u);\n",
			target, target, name, i, i, name, i)
	}
}
