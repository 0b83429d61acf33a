// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

// KernelKind selects the generated kernel strategy.
type KernelKind int

//go:generate go run github.com/dmarkham/enumer -type=KernelKind -trimprefix=Kernel

const (
	// KernelNative is the small-shape strategy: one thread computes a small
	// tile of output rows with an explicit fma loop.
	KernelNative KernelKind = iota

	// KernelPacked is the general strategy: workgroup-tiled with shared
	// memory staging, optionally 4-wide vectorized.
	KernelPacked
)

// KernelVariant carries every parameter that affects generated source text.
// Two calls with equal variants share one generated (and compiled) program;
// concrete M, N, K and batch sizes only enter as uniforms at launch time.
type KernelVariant struct {
	Kind  KernelKind
	DType dtypes.DType

	// Components is the vector width on the N axis, in {1, 2, 4}.
	Components int

	// AComponents is the vector width on the K axis (Native only).
	AComponents int

	// OutputNumber is the count of output rows per thread (Native only).
	OutputNumber int

	// IsVec4 reports 4-wide packing of both K and N (Packed only).
	IsVec4 bool

	// ElementsPerThread is the per-axis output elements each thread
	// computes (Packed only).
	ElementsPerThread [3]int

	// HasBias reports whether a bias input is bound.
	HasBias bool

	// BatchRank is the number of broadcast batch axes. It shapes the
	// uniform layout and the emitted index-mapping code, so it is part of
	// the variant identity; the batch sizes themselves are not.
	BatchRank int
}

// CacheKey returns the structural identity of the variant, the key under
// which its generated program is cached.
func (v KernelVariant) CacheKey() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%s|c%d|a%d|o%d|vec4=%t|ept=%d-%d-%d|bias=%t|br%d",
		v.Kind, v.DType, v.Components, v.AComponents, v.OutputNumber, v.IsVec4,
		v.ElementsPerThread[0], v.ElementsPerThread[1], v.ElementsPerThread[2],
		v.HasBias, v.BatchRank)
	return sb.String()
}

// maxComponentWidth returns the widest vector load in {4, 2, 1} that evenly
// divides dim. 1 always divides, so it is the fallback.
func maxComponentWidth(dim int) int {
	switch {
	case dim%4 == 0:
		return 4
	case dim%2 == 0:
		return 2
	default:
		return 1
	}
}

// selectVariant picks the kernel strategy and its packing parameters for a
// resolved shape. Native is only worthwhile when both N and K are small;
// everything else goes through the tiled Packed kernel.
func (b *Backend) selectVariant(info *matMulShapeInfo, dtype dtypes.DType, hasBias bool) KernelVariant {
	b.mu.RLock()
	nativeDimLimit := b.nativeDimLimit
	packedSmallM := b.packedSmallM
	b.mu.RUnlock()

	variant := KernelVariant{
		DType:     dtype,
		HasBias:   hasBias,
		BatchRank: len(info.outerOut),
	}
	if info.n < nativeDimLimit && info.k < nativeDimLimit {
		variant.Kind = KernelNative
		variant.Components = maxComponentWidth(info.n)
		variant.AComponents = maxComponentWidth(info.k)
		variant.OutputNumber = maxComponentWidth(info.m)
		klog.V(2).Infof("matmul: native variant components=%d a_components=%d output_number=%d",
			variant.Components, variant.AComponents, variant.OutputNumber)
		return variant
	}

	variant.Kind = KernelPacked
	variant.IsVec4 = info.k%4 == 0 && info.n%4 == 0
	if variant.IsVec4 {
		variant.Components = 4
	} else {
		variant.Components = 1
	}
	// Fewer rows per thread when M is small avoids idle lanes.
	if info.m <= packedSmallM {
		variant.ElementsPerThread = [3]int{4, 1, 1}
	} else {
		variant.ElementsPerThread = [3]int{4, 4, 1}
	}
	klog.V(2).Infof("matmul: packed variant is_vec4=%t elements_per_thread=%v",
		variant.IsVec4, variant.ElementsPerThread)
	return variant
}
