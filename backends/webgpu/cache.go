// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// GeneratedProgram is an immutable compiled-kernel descriptor: the WGSL
// source, the variant it was generated from, its cache key, and the ordered
// uniform layout the queue must bind before launch. Source generation is
// deterministic per variant, so equal keys always carry byte-identical
// source.
type GeneratedProgram struct {
	Key          string
	Variant      KernelVariant
	Source       string
	UniformNames []string
}

// programCache memoizes generated programs by variant cache key. It is
// unbounded: the variant space is finite and programs are small. Lookups
// are concurrent; builds of the same key are serialized through
// singleflight so each program is generated (and compiled downstream) at
// most once.
type programCache struct {
	mu       sync.RWMutex
	programs map[string]*GeneratedProgram
	group    singleflight.Group
}

func newProgramCache() *programCache {
	return &programCache{programs: make(map[string]*GeneratedProgram)}
}

// lookupOrBuild returns the cached program for key, building and storing it
// on first use. build must be pure and deterministic for the key.
func (c *programCache) lookupOrBuild(key string, build func() *GeneratedProgram) *GeneratedProgram {
	c.mu.RLock()
	program := c.programs[key]
	c.mu.RUnlock()
	if program != nil {
		return program
	}

	result, _, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		program := c.programs[key]
		c.mu.RUnlock()
		if program != nil {
			return program, nil
		}
		program = build()
		c.mu.Lock()
		c.programs[key] = program
		c.mu.Unlock()
		return program, nil
	})
	return result.(*GeneratedProgram)
}

// Len returns the number of cached programs.
func (c *programCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}
