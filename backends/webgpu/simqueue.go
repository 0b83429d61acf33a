// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SimQueue is a software execution queue: it interprets a submission's
// variant and launch geometry thread-by-thread, in float32, writing into
// the bound output buffer. It exists so the planner can be exercised end to
// end without a GPU; it also counts submissions, letting tests assert that
// zero-size outputs and cache hits do (or do not) reach the queue.
type SimQueue struct {
	mu          sync.Mutex
	submissions int
	lastKey     string
}

// NewSimQueue returns an empty software queue.
func NewSimQueue() *SimQueue {
	return &SimQueue{}
}

// Submissions returns the number of programs run so far.
func (q *SimQueue) Submissions() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submissions
}

// LastProgramKey returns the cache key of the most recent submission.
func (q *SimQueue) LastProgramKey() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastKey
}

// RunProgram implements Queue.
func (q *SimQueue) RunProgram(sub *Submission) error {
	q.mu.Lock()
	q.submissions++
	q.lastKey = sub.Program.Key
	q.mu.Unlock()

	aFlat, err := sub.A.Buffer.CopyAsFloat32()
	if err != nil {
		return errors.WithMessage(err, "sim: reading A")
	}
	bFlat, err := sub.B.Buffer.CopyAsFloat32()
	if err != nil {
		return errors.WithMessage(err, "sim: reading B")
	}
	var biasFlat []float32
	if sub.Bias != nil {
		biasFlat, err = sub.Bias.CopyAsFloat32()
		if err != nil {
			return errors.WithMessage(err, "sim: reading bias")
		}
	}

	outFlat := make([]float32, sub.Output.Buffer.Size())
	klog.V(2).Infof("sim: running %s over grid %v (%s output)",
		sub.Program.Variant.Kind, sub.Plan.GridSize, humanize.Bytes(uint64(len(outFlat)*4)))

	switch sub.Program.Variant.Kind {
	case KernelNative:
		q.runNative(sub, aFlat, bFlat, biasFlat, outFlat)
	case KernelPacked:
		q.runPacked(sub, aFlat, bFlat, biasFlat, outFlat)
	default:
		return errors.Errorf("sim: unknown kernel kind %s", sub.Program.Variant.Kind)
	}
	return sub.Output.Buffer.SetFromFloat32(outFlat)
}

// runNative walks every thread of the 1-D grid, mirroring the generated
// Native kernel: bounds guard, column/row-tile/batch decomposition, the
// AComponents-stepped reduction, bias, and the packed store.
func (q *SimQueue) runNative(sub *Submission, aFlat, bFlat, biasFlat, outFlat []float32) {
	v := sub.Program.Variant
	m, n, k := sub.M, sub.N, sub.K
	outputSize := int(sub.Uniforms[0])
	totalThreads := sub.Plan.GridSize[0] * sub.Plan.WorkgroupSize[0]

	nVec := n / v.Components
	rowTiles := m / v.OutputNumber
	for idx := 0; idx < totalThreads; idx++ {
		if idx >= outputSize {
			continue // guard against grid padding
		}
		col := (idx % nVec) * v.Components
		index1 := idx / nVec
		row := (index1 % rowTiles) * v.OutputNumber
		batch := index1 / rowTiles

		aBatch, bBatch := mapBatchOffsets(batch, sub.BatchDims, sub.ABatchDims, sub.BBatchDims)
		aOffset := aBatch * m * k
		bOffset := bBatch * k * n

		for i := 0; i < v.OutputNumber; i++ {
			for c := 0; c < v.Components; c++ {
				var sum float32
				for kk := 0; kk < k; kk++ {
					sum += aFlat[aOffset+(row+i)*k+kk] * bFlat[bOffset+kk*n+col+c]
				}
				if biasFlat != nil {
					sum += biasFlat[row+i]
				}
				outFlat[batch*m*n+(row+i)*n+col+c] = sum
			}
		}
	}
}

// runPacked walks every thread of the 3-D grid, mirroring the generated
// Packed kernel's output ownership: each thread covers ElementsPerThread
// rows and columns, guarded against the trailing edges of M and N.
func (q *SimQueue) runPacked(sub *Submission, aFlat, bFlat, biasFlat, outFlat []float32) {
	v := sub.Program.Variant
	m, n, k := sub.M, sub.N, sub.K
	batchSize := 1
	for _, dim := range sub.BatchDims {
		batchSize *= dim
	}
	eptX, eptY := v.ElementsPerThread[0], v.ElementsPerThread[1]

	for gz := 0; gz < sub.Plan.GridSize[2]; gz++ {
		batch := gz
		if batch >= batchSize {
			continue
		}
		aBatch, bBatch := mapBatchOffsets(batch, sub.BatchDims, sub.ABatchDims, sub.BBatchDims)
		aOffset := aBatch * m * k
		bOffset := bBatch * k * n

		for gy := 0; gy < sub.Plan.GridSize[1]; gy++ {
			for gx := 0; gx < sub.Plan.GridSize[0]; gx++ {
				for ly := 0; ly < sub.Plan.WorkgroupSize[1]; ly++ {
					for lx := 0; lx < sub.Plan.WorkgroupSize[0]; lx++ {
						rowStart := (gy*sub.Plan.WorkgroupSize[1] + ly) * eptY
						colStart := (gx*sub.Plan.WorkgroupSize[0] + lx) * eptX
						for r := 0; r < eptY; r++ {
							row := rowStart + r
							if row >= m {
								continue
							}
							for c := 0; c < eptX; c++ {
								col := colStart + c
								if col >= n {
									continue
								}
								var sum float32
								for kk := 0; kk < k; kk++ {
									sum += aFlat[aOffset+row*k+kk] * bFlat[bOffset+kk*n+col]
								}
								if biasFlat != nil {
									sum += biasFlat[row]
								}
								outFlat[batch*m*n+row*n+col] = sum
							}
						}
					}
				}
			}
		}
	}
}
