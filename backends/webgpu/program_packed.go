// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webgpu

import (
	"fmt"
	"strings"
)

// tileInner is the K extent of one shared-memory tile of the packed kernel.
const tileInner = 32

// buildPackedProgram generates the workgroup-tiled kernel over a 3-D grid
// (N tiles, M tiles, batch). Each workgroup cooperatively stages tiles of A
// and B in shared memory, then every thread accumulates
// ElementsPerThread[1] rows times ElementsPerThread[0] columns of output
// through a blocked reduction over K. With IsVec4, loads, stores and fma
// operands are 4-wide.
//
// Uniform layout: dim_a_outer (M), dim_b_outer (N), dim_inner (K), then the
// batch dimensions. Bounds checks in the tile readers and before the final
// store make partial trailing tiles safe, so the grid may over-cover M, N
// and K.
func buildPackedProgram(v KernelVariant) *GeneratedProgram {
	elem := elemTypeName(v.DType)
	value := vecTypeName(elem, v.Components)

	comps := v.Components
	eptY := v.ElementsPerThread[1]
	colIter := v.ElementsPerThread[0] / comps
	tileAOuter := packedWorkgroupSizeY * eptY
	tileBOuter := packedWorkgroupSizeX * v.ElementsPerThread[0]
	tileKVec := tileInner / comps
	tileBVec := tileBOuter / comps

	var sb strings.Builder
	emitPrelude(&sb, v.DType)
	fmt.Fprintf(&sb, "alias value_t = %s;\n\n", value)

	uniformNames := emitUniformStruct(&sb, []string{"dim_a_outer", "dim_b_outer", "dim_inner"}, v.BatchRank)
	emitBindings(&sb, "value_t", "value_t", elem, "value_t", v.HasBias)

	fmt.Fprintf(&sb, "var<workgroup> mm_a_sub : array<array<value_t, %d>, %d>;\n", tileKVec, tileAOuter)
	fmt.Fprintf(&sb, "var<workgroup> mm_b_sub : array<array<value_t, %d>, %d>;\n\n", tileBVec, tileInner)

	// Tile readers return zero outside the operand, which contributes
	// nothing to the accumulation. Column arguments are in value_t units.
	sb.WriteString("fn mm_read_a(batch_offset : u32, row : u32, col : u32) -> value_t {\n")
	fmt.Fprintf(&sb, "  if (row < uniforms.dim_a_outer && col * %du < uniforms.dim_inner) {\n", comps)
	fmt.Fprintf(&sb, "    return a[batch_offset + row * (uniforms.dim_inner / %du) + col];\n", comps)
	sb.WriteString("  }\n  return value_t();\n}\n\n")

	sb.WriteString("fn mm_read_b(batch_offset : u32, row : u32, col : u32) -> value_t {\n")
	fmt.Fprintf(&sb, "  if (row < uniforms.dim_inner && col * %du < uniforms.dim_b_outer) {\n", comps)
	fmt.Fprintf(&sb, "    return b[batch_offset + row * (uniforms.dim_b_outer / %du) + col];\n", comps)
	sb.WriteString("  }\n  return value_t();\n}\n\n")

	fmt.Fprintf(&sb, "@compute @workgroup_size(%d, %d, %d)\n",
		packedWorkgroupSizeX, packedWorkgroupSizeY, packedWorkgroupSizeZ)
	sb.WriteString("fn main(@builtin(local_invocation_id) local_id : vec3<u32>,\n")
	sb.WriteString("        @builtin(workgroup_id) workgroup_id : vec3<u32>,\n")
	sb.WriteString("        @builtin(global_invocation_id) global_id : vec3<u32>) {\n")
	sb.WriteString("  let batch = global_id.z;\n")

	emitBatchCoords(&sb, v.BatchRank)
	emitInputBatchOffset(&sb, "ab", "a_batch", v.BatchRank)
	emitInputBatchOffset(&sb, "bb", "b_batch", v.BatchRank)
	fmt.Fprintf(&sb, "  let a_batch_offset = a_batch * uniforms.dim_a_outer * (uniforms.dim_inner / %du);\n", comps)
	fmt.Fprintf(&sb, "  let b_batch_offset = b_batch * uniforms.dim_inner * (uniforms.dim_b_outer / %du);\n\n", comps)

	fmt.Fprintf(&sb, "  let row_start = (workgroup_id.y * %du + local_id.y) * %du;\n", packedWorkgroupSizeY, eptY)
	fmt.Fprintf(&sb, "  let col_start = (workgroup_id.x * %du + local_id.x) * %du;\n", packedWorkgroupSizeX, colIter)
	fmt.Fprintf(&sb, "  let num_tiles = (uniforms.dim_inner + %du - 1u) / %du;\n\n", tileInner, tileInner)

	fmt.Fprintf(&sb, "  var acc : array<array<value_t, %d>, %d>;\n", colIter, eptY)
	sb.WriteString("  var k_base = 0u;\n")
	sb.WriteString("  for (var t = 0u; t < num_tiles; t = t + 1u) {\n")

	// Cooperative tile staging, all 64 threads striding over the tile.
	fmt.Fprintf(&sb, "    for (var i = local_id.y; i < %du; i = i + %du) {\n", tileAOuter, packedWorkgroupSizeY)
	fmt.Fprintf(&sb, "      for (var j = local_id.x; j < %du; j = j + %du) {\n", tileKVec, packedWorkgroupSizeX)
	fmt.Fprintf(&sb, "        mm_a_sub[i][j] = mm_read_a(a_batch_offset, workgroup_id.y * %du + i, k_base / %du + j);\n",
		tileAOuter, comps)
	sb.WriteString("      }\n    }\n")
	fmt.Fprintf(&sb, "    for (var i = local_id.y; i < %du; i = i + %du) {\n", tileInner, packedWorkgroupSizeY)
	fmt.Fprintf(&sb, "      for (var j = local_id.x; j < %du; j = j + %du) {\n", tileBVec, packedWorkgroupSizeX)
	fmt.Fprintf(&sb, "        mm_b_sub[i][j] = mm_read_b(b_batch_offset, k_base + i, workgroup_id.x * %du + j);\n",
		tileBVec)
	sb.WriteString("      }\n    }\n")
	sb.WriteString("    workgroupBarrier();\n\n")

	fmt.Fprintf(&sb, "    for (var k = 0u; k < %du; k = k + 1u) {\n", tileKVec)
	for r := 0; r < eptY; r++ {
		fmt.Fprintf(&sb, "      let a_val%d = mm_a_sub[local_id.y * %du + %du][k];\n", r, eptY, r)
		for c := 0; c < colIter; c++ {
			for j := 0; j < comps; j++ {
				fmt.Fprintf(&sb, "      acc[%d][%d] = fma(value_t(%s), mm_b_sub[k * %du + %du][local_id.x * %du + %du], acc[%d][%d]);\n",
					r, c, component(fmt.Sprintf("a_val%d", r), comps, j), comps, j, colIter, c, r, c)
			}
		}
	}
	sb.WriteString("    }\n")
	sb.WriteString("    workgroupBarrier();\n")
	fmt.Fprintf(&sb, "    k_base = k_base + %du;\n", tileInner)
	sb.WriteString("  }\n\n")

	for r := 0; r < eptY; r++ {
		for c := 0; c < colIter; c++ {
			sb.WriteString("  {\n")
			fmt.Fprintf(&sb, "    let out_row = row_start + %du;\n", r)
			fmt.Fprintf(&sb, "    let out_col = col_start + %du;\n", c)
			fmt.Fprintf(&sb, "    if (out_row < uniforms.dim_a_outer && out_col * %du < uniforms.dim_b_outer) {\n", comps)
			fmt.Fprintf(&sb, "      var value = acc[%d][%d];\n", r, c)
			if v.HasBias {
				sb.WriteString("      value = value + value_t(bias[out_row]);\n")
			}
			fmt.Fprintf(&sb, "      output[batch * uniforms.dim_a_outer * (uniforms.dim_b_outer / %du) + out_row * (uniforms.dim_b_outer / %du) + out_col] = value;\n",
				comps, comps)
			sb.WriteString("    }\n  }\n")
		}
	}
	sb.WriteString("}\n")

	return &GeneratedProgram{
		Key:          v.CacheKey(),
		Variant:      v,
		Source:       sb.String(),
		UniformNames: uniformNames,
	}
}
