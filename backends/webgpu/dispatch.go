// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

// Workgroup geometry of the generated kernels. Changing these requires
// regenerating programs, so they are compile-time constants rather than
// Backend configuration.
const (
	// nativeWorkgroupSize is the 1-D workgroup size of the Native kernel.
	nativeWorkgroupSize = 64

	// Packed kernel workgroup dimensions.
	packedWorkgroupSizeX = 8
	packedWorkgroupSizeY = 8
	packedWorkgroupSizeZ = 1
)

// DispatchPlan is the launch geometry of one submission: the workgroup size
// the program was generated for and the grid of workgroups that exactly
// covers the output. Grid sizes ceiling-divide the problem extent by
// workgroup size times elements-per-thread, so no axis is under-dispatched;
// over-dispatch on the trailing edge is discarded by in-kernel bounds
// checks.
type DispatchPlan struct {
	WorkgroupSize [3]int
	GridSize      [3]int
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// nativeDispatchPlan covers outputSize independent execution units with 1-D
// workgroups of nativeWorkgroupSize threads.
func nativeDispatchPlan(outputSize int) DispatchPlan {
	return DispatchPlan{
		WorkgroupSize: [3]int{nativeWorkgroupSize, 1, 1},
		GridSize:      [3]int{ceilDiv(outputSize, nativeWorkgroupSize), 1, 1},
	}
}

// packedDispatchPlan covers an (N, M, batch) problem with the packed
// kernel's workgroups, each thread owning elementsPerThread outputs per
// axis.
func packedDispatchPlan(m, n, batchSize int, elementsPerThread [3]int) DispatchPlan {
	return DispatchPlan{
		WorkgroupSize: [3]int{packedWorkgroupSizeX, packedWorkgroupSizeY, packedWorkgroupSizeZ},
		GridSize: [3]int{
			ceilDiv(n, packedWorkgroupSizeX*elementsPerThread[0]),
			ceilDiv(m, packedWorkgroupSizeY*elementsPerThread[1]),
			ceilDiv(batchSize, packedWorkgroupSizeZ*elementsPerThread[2]),
		},
	}
}
