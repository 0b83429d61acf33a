// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// wgslgen prints the WGSL program and launch geometry the webgpu backend
// would use for a given matmul problem.
//
// Example:
//
//	wgslgen -a 2,64,32 -b 32,128 -dtype f32 -bias
package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/webgpumatmul/backends/webgpu"
	"github.com/gomlx/webgpumatmul/pkg/core/shapes"
	"k8s.io/klog/v2"
)

var (
	flagA     = flag.String("a", "4,4", "Comma-separated dimensions of operand A.")
	flagB     = flag.String("b", "4,4", "Comma-separated dimensions of operand B.")
	flagDType = flag.String("dtype", "f32", "Element type, f32 or f16.")
	flagBias  = flag.Bool("bias", false, "Bind a per-row bias input.")

	flagNativeLimit = flag.Int("native_limit", webgpu.DefaultNativeDimLimit,
		"Use the Native strategy when both N and K are strictly below this.")
	flagSmallM = flag.Int("small_m", webgpu.DefaultPackedSmallM,
		"M at or below which the Packed strategy assigns one output row per thread.")
)

func parseDims(text string) ([]int, error) {
	parts := strings.Split(text, ",")
	dims := make([]int, 0, len(parts))
	for _, part := range parts {
		dim, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || dim < 0 {
			return nil, fmt.Errorf("invalid dimension %q", part)
		}
		dims = append(dims, dim)
	}
	return dims, nil
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var dtype dtypes.DType
	switch *flagDType {
	case "f32":
		dtype = dtypes.Float32
	case "f16":
		dtype = dtypes.Float16
	default:
		klog.Exitf("-dtype must be f32 or f16, got %q", *flagDType)
	}
	aDims, err := parseDims(*flagA)
	if err != nil {
		klog.Exitf("-a: %v", err)
	}
	bDims, err := parseDims(*flagB)
	if err != nil {
		klog.Exitf("-b: %v", err)
	}

	backend := webgpu.New(nil).
		WithNativeDimLimit(*flagNativeLimit).
		WithPackedSmallM(*flagSmallM)
	program, plan, err := backend.Plan(
		shapes.Make(dtype, aDims...),
		shapes.Make(dtype, bDims...),
		*flagBias)
	if err != nil {
		klog.Exitf("planning failed: %+v", err)
	}

	fmt.Printf("// key: %s\n", program.Key)
	fmt.Printf("// uniforms: %s\n", strings.Join(program.UniformNames, ", "))
	fmt.Printf("// workgroup: %v  grid: %v\n\n", plan.WorkgroupSize, plan.GridSize)
	fmt.Print(program.Source)
}
