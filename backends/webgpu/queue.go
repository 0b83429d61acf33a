// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import (
	"github.com/gomlx/webgpumatmul/pkg/core/tensors"
)

// BoundBuffer pairs a host buffer with the logical dimensions and vector
// packing the program expects it bound as. Dims are the planner's view
// (after any rewrite), always in unpacked scalar units.
type BoundBuffer struct {
	Buffer     *tensors.Buffer
	Dims       []int
	Components int
}

// Submission is one ready-to-run dispatch: the generated program, the
// launch geometry, the uniform values in the program's declared order, and
// the bound tensors. It is handed to the Queue and not mutated afterwards.
type Submission struct {
	Program *GeneratedProgram
	Plan    DispatchPlan

	// Uniforms holds one value per Program.UniformNames entry.
	Uniforms []uint32

	A      BoundBuffer
	B      BoundBuffer
	Bias   *tensors.Buffer // nil when the variant has no bias
	Output BoundBuffer

	// BatchDims are the output batch dimensions; ABatchDims and BBatchDims
	// are the input batch dimensions left-padded with 1s to the same rank.
	BatchDims  []int
	ABatchDims []int
	BBatchDims []int

	M, N, K int
}

// Queue is the execution collaborator: it compiles (or reuses) the
// submission's program and runs it over the dispatch grid. Submissions run
// to completion or fail as a unit; there is no cancellation.
type Queue interface {
	RunProgram(sub *Submission) error
}
