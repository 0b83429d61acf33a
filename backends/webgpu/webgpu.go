// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package webgpu plans batched matrix multiplications for a WebGPU compute
// queue: it resolves and broadcasts operand shapes, picks a kernel strategy,
// generates parameterized WGSL source, caches generated programs by their
// structural variant, computes the dispatch geometry, and submits the result
// to a Queue.
//
// Two kernel strategies are generated:
//
//   - Native: one thread computes a small tile of output rows with an
//     explicit fma loop. Chosen for problems too small to benefit from
//     workgroup-level data reuse (N and K both below NativeDimLimit).
//   - Packed: workgroup-tiled with shared-memory staging, optionally
//     4-wide vectorized, with the batch dimension on the third dispatch
//     axis. Chosen for everything else.
//
// Programs are cached per Backend: two calls whose shapes fall in the same
// packing class reuse one generated program, with the concrete M, N, K and
// batch dimensions bound as uniforms at submission time.
package webgpu

import (
	"sync"

	"github.com/pkg/errors"
)

// Error kinds surfaced by the planner. All are detected before any program
// is generated or dispatched; none is retriable.
var (
	// ErrShapeMismatch reports disagreeing inner (K) dimensions.
	ErrShapeMismatch = errors.New("matmul inner dimensions mismatch")

	// ErrBroadcastIncompatible reports batch dimensions that cannot be
	// broadcast together.
	ErrBroadcastIncompatible = errors.New("batch dimensions are not broadcast-compatible")

	// ErrUnsupportedDType reports an element type with no kernel builder.
	ErrUnsupportedDType = errors.New("unsupported element type")
)

// Default strategy thresholds. Both are empirical values carried over
// unchanged; they affect performance, not correctness.
const (
	// DefaultNativeDimLimit selects the Native strategy when both N and K
	// are strictly below it.
	DefaultNativeDimLimit = 8

	// DefaultPackedSmallM is the M value at or below which the Packed
	// strategy assigns a single output row per thread.
	DefaultPackedSmallM = 8
)

// Backend plans and submits matmul programs. It is safe for concurrent use;
// the only shared mutable state across calls is the program cache.
type Backend struct {
	mu sync.RWMutex

	queue Queue
	cache *programCache

	nativeDimLimit int
	packedSmallM   int
	debugReadback  bool
}

// New creates a Backend submitting to the given queue. The program cache is
// created here and lives for the lifetime of the Backend.
func New(queue Queue) *Backend {
	return &Backend{
		queue:          queue,
		cache:          newProgramCache(),
		nativeDimLimit: DefaultNativeDimLimit,
		packedSmallM:   DefaultPackedSmallM,
	}
}

// WithNativeDimLimit overrides the Native-strategy threshold.
func (b *Backend) WithNativeDimLimit(limit int) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nativeDimLimit = limit
	return b
}

// WithPackedSmallM overrides the small-M threshold of the Packed strategy.
func (b *Backend) WithPackedSmallM(limit int) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packedSmallM = limit
	return b
}

// WithDebugReadback enables copying the output back to the host and logging
// it after every submission. This synchronizes with the queue and is meant
// for debugging only, never for hot paths.
func (b *Backend) WithDebugReadback(enable bool) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.debugReadback = enable
	return b
}

// Queue returns the execution queue this backend submits to.
func (b *Backend) Queue() Queue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queue
}

// CachedPrograms returns the number of generated programs currently cached.
func (b *Backend) CachedPrograms() int {
	return b.cache.Len()
}
