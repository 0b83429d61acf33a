// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import (
	"fmt"
	"strings"
)

// buildNativeProgram generates the small-shape kernel. Each thread owns one
// (batch, row-tile, col-tile) triple: it loads OutputNumber rows of A,
// walks K in AComponents-wide steps, and accumulates one Components-wide
// output slice per row against the same B reads, so every B load is reused
// across the row tile.
//
// Uniform layout: output_size, M, N, K, then the batch dimensions
// (see emitUniformStruct). output_size is the number of execution units,
// size(output) / Components / OutputNumber, and doubles as the
// out-of-bounds guard for grid padding.
func buildNativeProgram(v KernelVariant) *GeneratedProgram {
	elem := elemTypeName(v.DType)
	aValue := vecTypeName(elem, v.AComponents)
	bValue := vecTypeName(elem, v.Components)
	outValue := bValue

	var sb strings.Builder
	emitPrelude(&sb, v.DType)
	fmt.Fprintf(&sb, "alias a_value_t = %s;\n", aValue)
	fmt.Fprintf(&sb, "alias b_value_t = %s;\n", bValue)
	fmt.Fprintf(&sb, "alias output_value_t = %s;\n\n", outValue)

	uniformNames := emitUniformStruct(&sb, []string{"output_size", "M", "N", "K"}, v.BatchRank)
	emitBindings(&sb, "a_value_t", "b_value_t", elem, "output_value_t", v.HasBias)

	fmt.Fprintf(&sb, "@compute @workgroup_size(%d)\n", nativeWorkgroupSize)
	sb.WriteString("fn main(@builtin(global_invocation_id) global_id : vec3<u32>) {\n")
	sb.WriteString("  let global_idx = global_id.x;\n")
	sb.WriteString("  if (global_idx >= uniforms.output_size) {\n    return;\n  }\n")

	// Column, row tile and batch from the linear thread index; the column
	// axis varies fastest.
	fmt.Fprintf(&sb, "  let col = (global_idx %% (uniforms.N / %du)) * %du;\n", v.Components, v.Components)
	fmt.Fprintf(&sb, "  let index1 = global_idx / (uniforms.N / %du);\n", v.Components)
	fmt.Fprintf(&sb, "  let stride1 = uniforms.M / %du;\n", v.OutputNumber)
	fmt.Fprintf(&sb, "  let row = (index1 %% stride1) * %du;\n", v.OutputNumber)
	sb.WriteString("  let batch = index1 / stride1;\n")

	emitBatchCoords(&sb, v.BatchRank)
	emitInputBatchOffset(&sb, "ab", "a_batch", v.BatchRank)
	emitInputBatchOffset(&sb, "bb", "b_batch", v.BatchRank)
	sb.WriteString("  let a_offset = a_batch * uniforms.M * uniforms.K;\n")
	sb.WriteString("  let b_offset = b_batch * uniforms.K * uniforms.N;\n\n")

	fmt.Fprintf(&sb, "  var values : array<output_value_t, %d>;\n", v.OutputNumber)
	fmt.Fprintf(&sb, "  for (var k : u32 = 0u; k < uniforms.K; k = k + %du) {\n", v.AComponents)
	emitNativeAccumulation(&sb, v)
	sb.WriteString("  }\n")

	fmt.Fprintf(&sb, "  for (var i : u32 = 0u; i < %du; i = i + 1u) {\n", v.OutputNumber)
	sb.WriteString("    var value = values[i];\n")
	if v.HasBias {
		sb.WriteString("    value = value + output_value_t(bias[row + i]);\n")
	}
	fmt.Fprintf(&sb, "    let offset = batch * uniforms.M * (uniforms.N / %du) + (row + i) * (uniforms.N / %du) + col / %du;\n",
		v.Components, v.Components, v.Components)
	sb.WriteString("    output[offset] = value;\n")
	sb.WriteString("  }\n")
	sb.WriteString("}\n")

	return &GeneratedProgram{
		Key:          v.CacheKey(),
		Variant:      v,
		Source:       sb.String(),
		UniformNames: uniformNames,
	}
}

// emitNativeAccumulation writes the body of the K reduction loop: one B
// read per K sub-step, then one fma per (row, K sub-step) pair, all rows
// reusing the same B values.
func emitNativeAccumulation(sb *strings.Builder, v KernelVariant) {
	sb.WriteString("    var a_data : a_value_t;\n")
	for j := 0; j < v.AComponents; j++ {
		fmt.Fprintf(sb, "    let b_data%d = b[(b_offset + (k + %du) * uniforms.N + col) / %du];\n",
			j, j, v.Components)
	}
	for i := 0; i < v.OutputNumber; i++ {
		fmt.Fprintf(sb, "    a_data = a[(a_offset + (row + %du) * uniforms.K + k) / %du];\n",
			i, v.AComponents)
		for j := 0; j < v.AComponents; j++ {
			fmt.Fprintf(sb, "    values[%d] = fma(b_value_t(%s), b_data%d, values[%d]);\n",
				i, component("a_data", v.AComponents, j), j, i)
		}
	}
}
