// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import "testing"

func TestCeilDiv(t *testing.T) {
	tests := []struct{ a, b, want int }{
		{0, 64, 0}, {1, 64, 1}, {64, 64, 1}, {65, 64, 2}, {128, 64, 2}, {7, 4, 2},
	}
	for _, tc := range tests {
		if got := ceilDiv(tc.a, tc.b); got != tc.want {
			t.Errorf("ceilDiv(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

// The grid must always cover the problem: threads times elements-per-thread
// on every axis is at least the problem extent, and removing one workgroup
// would leave part of it uncovered.
func TestNativeDispatchPlanCoverage(t *testing.T) {
	for _, outputSize := range []int{1, 63, 64, 65, 1000} {
		plan := nativeDispatchPlan(outputSize)
		if plan.WorkgroupSize != [3]int{nativeWorkgroupSize, 1, 1} {
			t.Fatalf("workgroup size = %v", plan.WorkgroupSize)
		}
		threads := plan.GridSize[0] * plan.WorkgroupSize[0]
		if threads < outputSize {
			t.Errorf("outputSize=%d: %d threads under-cover", outputSize, threads)
		}
		if (plan.GridSize[0]-1)*plan.WorkgroupSize[0] >= outputSize {
			t.Errorf("outputSize=%d: grid %d over-dispatches a full workgroup", outputSize, plan.GridSize[0])
		}
	}
}

func TestPackedDispatchPlanCoverage(t *testing.T) {
	tests := []struct {
		m, n, batch int
		ept         [3]int
	}{
		{m: 1, n: 1, batch: 1, ept: [3]int{4, 1, 1}},
		{m: 8, n: 16, batch: 1, ept: [3]int{4, 1, 1}},
		{m: 9, n: 33, batch: 2, ept: [3]int{4, 4, 1}},
		{m: 100, n: 100, batch: 7, ept: [3]int{4, 4, 1}},
	}
	for _, tc := range tests {
		plan := packedDispatchPlan(tc.m, tc.n, tc.batch, tc.ept)
		extents := [3]int{tc.n, tc.m, tc.batch}
		for axis := 0; axis < 3; axis++ {
			perWorkgroup := plan.WorkgroupSize[axis] * tc.ept[axis]
			covered := plan.GridSize[axis] * perWorkgroup
			if covered < extents[axis] {
				t.Errorf("m=%d n=%d batch=%d axis %d: covers %d of %d",
					tc.m, tc.n, tc.batch, axis, covered, extents[axis])
			}
			if (plan.GridSize[axis]-1)*perWorkgroup >= extents[axis] {
				t.Errorf("m=%d n=%d batch=%d axis %d: grid %d over-dispatches",
					tc.m, tc.n, tc.batch, axis, plan.GridSize[axis])
			}
		}
	}
}
