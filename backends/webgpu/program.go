// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
)

// Shared WGSL emission helpers for both program builders. Source is built
// from immutable variant parameters only; anything that varies per call
// (M, N, K, batch sizes) is read from the uniform struct at run time.

// elemTypeName returns the WGSL scalar type for a supported element type.
func elemTypeName(dtype dtypes.DType) string {
	if dtype == dtypes.Float16 {
		return "f16"
	}
	return "f32"
}

// vecTypeName returns the WGSL type of a width-wide vector of elem;
// width 1 is the scalar type itself.
func vecTypeName(elem string, width int) string {
	if width == 1 {
		return elem
	}
	return fmt.Sprintf("vec%d<%s>", width, elem)
}

// component returns the WGSL expression selecting component j of value,
// which is scalar when width is 1.
func component(value string, width, j int) string {
	if width == 1 {
		return value
	}
	return fmt.Sprintf("%s[%d]", value, j)
}

// emitPrelude writes the f16 extension directive when needed.
func emitPrelude(sb *strings.Builder, dtype dtypes.DType) {
	if dtype == dtypes.Float16 {
		sb.WriteString("enable f16;\n\n")
	}
}

// emitUniformStruct writes the Uniforms declaration: the named scalar
// fields followed by the batch dimensions of the output (ob), of A (ab) and
// of B (bb), each batchRank wide. Input batch dimensions are left-padded
// with 1s to the output batch rank, so one field count serves all three.
// Returns the ordered uniform names the queue must bind.
func emitUniformStruct(sb *strings.Builder, scalarFields []string, batchRank int) []string {
	names := append([]string{}, scalarFields...)
	for _, prefix := range []string{"ob", "ab", "bb"} {
		for i := 0; i < batchRank; i++ {
			names = append(names, fmt.Sprintf("%s%d", prefix, i))
		}
	}
	sb.WriteString("struct Uniforms {\n")
	for _, name := range names {
		fmt.Fprintf(sb, "  %s : u32,\n", name)
	}
	sb.WriteString("};\n\n")
	return names
}

// emitBindings writes the storage and uniform bindings in layout order:
// a, b, optional bias, output, uniforms.
func emitBindings(sb *strings.Builder, aType, bType, biasType, outputType string, hasBias bool) {
	binding := 0
	fmt.Fprintf(sb, "@group(0) @binding(%d) var<storage, read> a : array<%s>;\n", binding, aType)
	binding++
	fmt.Fprintf(sb, "@group(0) @binding(%d) var<storage, read> b : array<%s>;\n", binding, bType)
	binding++
	if hasBias {
		fmt.Fprintf(sb, "@group(0) @binding(%d) var<storage, read> bias : array<%s>;\n", binding, biasType)
		binding++
	}
	fmt.Fprintf(sb, "@group(0) @binding(%d) var<storage, read_write> output : array<%s>;\n", binding, outputType)
	binding++
	fmt.Fprintf(sb, "@group(0) @binding(%d) var<uniform> uniforms : Uniforms;\n\n", binding)
}
