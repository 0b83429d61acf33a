// Copyright 2025 The GoMLX Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ops

import (
	"sort"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/webgpumatmul/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// SelectedIndex identifies one box kept by NonMaxSuppression.
type SelectedIndex struct {
	BatchIndex int
	ClassIndex int
	BoxIndex   int
}

// CornerBoxes and CenterBoxes select the box encoding of the boxes tensor.
const (
	// CornerBoxes encodes each box as [y1, x1, y2, x2], corners in any
	// order.
	CornerBoxes = 0

	// CenterBoxes encodes each box as [x_center, y_center, width, height].
	CenterBoxes = 1
)

// NonMaxSuppressionOptions tune the selection.
type NonMaxSuppressionOptions struct {
	// MaxOutputBoxesPerClass caps selections per (batch, class); zero
	// selects nothing.
	MaxOutputBoxesPerClass int

	// IOUThreshold suppresses a candidate whose intersection-over-union
	// with an already selected box exceeds it. Must be in [0, 1].
	IOUThreshold float32

	// ScoreThreshold discards candidates scoring at or below it, when
	// UseScoreThreshold is set.
	ScoreThreshold    float32
	UseScoreThreshold bool

	// CenterPointBox is CornerBoxes or CenterBoxes.
	CenterPointBox int
}

// NonMaxSuppression greedily selects boxes in decreasing score order,
// dropping any candidate that overlaps an already selected box beyond the
// IOU threshold. boxes is [numBatches, numBoxes, 4] and scores is
// [numBatches, numClasses, numBoxes], both Float32. Selection runs
// independently per batch and class; results are ordered by batch, class,
// then selection order.
func NonMaxSuppression(boxes, scores *tensors.Buffer, opts NonMaxSuppressionOptions) ([]SelectedIndex, error) {
	if boxes == nil || scores == nil {
		return nil, errors.New("nms requires boxes and scores")
	}
	if boxes.DType() != dtypes.Float32 || scores.DType() != dtypes.Float32 {
		return nil, errors.Errorf("nms supports Float32 only, got %s and %s", boxes.DType(), scores.DType())
	}
	boxesShape := boxes.Shape()
	scoresShape := scores.Shape()
	if boxesShape.Rank() != 3 || boxesShape.Dimensions[2] != 4 {
		return nil, errors.Errorf("nms boxes must be [batches, boxes, 4], got %s", boxesShape)
	}
	if scoresShape.Rank() != 3 {
		return nil, errors.Errorf("nms scores must be [batches, classes, boxes], got %s", scoresShape)
	}
	numBatches := boxesShape.Dimensions[0]
	numBoxes := boxesShape.Dimensions[1]
	numClasses := scoresShape.Dimensions[1]
	if scoresShape.Dimensions[0] != numBatches || scoresShape.Dimensions[2] != numBoxes {
		return nil, errors.Errorf("nms boxes %s and scores %s disagree", boxesShape, scoresShape)
	}
	if opts.CenterPointBox != CornerBoxes && opts.CenterPointBox != CenterBoxes {
		return nil, errors.Errorf("nms center_point_box must be 0 or 1, got %d", opts.CenterPointBox)
	}
	if opts.IOUThreshold < 0 || opts.IOUThreshold > 1 {
		return nil, errors.Errorf("nms iou threshold must be in [0, 1], got %f", opts.IOUThreshold)
	}
	if opts.MaxOutputBoxesPerClass <= 0 {
		return nil, nil
	}

	boxesFlat, err := boxes.Float32()
	if err != nil {
		return nil, err
	}
	scoresFlat, err := scores.Float32()
	if err != nil {
		return nil, err
	}

	type candidate struct {
		box   int
		score float32
	}
	var selected []SelectedIndex
	for batch := 0; batch < numBatches; batch++ {
		batchBoxes := boxesFlat[batch*numBoxes*4 : (batch+1)*numBoxes*4]
		for class := 0; class < numClasses; class++ {
			classScores := scoresFlat[(batch*numClasses+class)*numBoxes : (batch*numClasses+class+1)*numBoxes]

			candidates := make([]candidate, 0, numBoxes)
			for box, score := range classScores {
				if opts.UseScoreThreshold && score <= opts.ScoreThreshold {
					continue
				}
				candidates = append(candidates, candidate{box: box, score: score})
			}
			sort.SliceStable(candidates, func(i, j int) bool {
				return candidates[i].score > candidates[j].score
			})

			var kept []int
			for _, cand := range candidates {
				if len(kept) >= opts.MaxOutputBoxesPerClass {
					break
				}
				suppressed := false
				for _, keptBox := range kept {
					if suppressByIOU(batchBoxes, keptBox, cand.box, opts.CenterPointBox, opts.IOUThreshold) {
						suppressed = true
						break
					}
				}
				if !suppressed {
					kept = append(kept, cand.box)
					selected = append(selected, SelectedIndex{BatchIndex: batch, ClassIndex: class, BoxIndex: cand.box})
				}
			}
		}
	}
	return selected, nil
}

// suppressByIOU reports whether box2 overlaps box1 with
// intersection-over-union above the threshold. Corner boxes accept corners
// in either order; degenerate (zero-area) boxes never suppress.
func suppressByIOU(boxes []float32, box1, box2, centerPointBox int, iouThreshold float32) bool {
	var x1Min, y1Min, x1Max, y1Max float32
	var x2Min, y2Min, x2Max, y2Max float32

	b1 := boxes[4*box1 : 4*box1+4]
	b2 := boxes[4*box2 : 4*box2+4]
	if centerPointBox == CornerBoxes {
		// [y1, x1, y2, x2] with corners in any order.
		x1Min, x1Max = minMax(b1[1], b1[3])
		y1Min, y1Max = minMax(b1[0], b1[2])
		x2Min, x2Max = minMax(b2[1], b2[3])
		y2Min, y2Max = minMax(b2[0], b2[2])
	} else {
		// [x_center, y_center, width, height]
		x1Min, x1Max = b1[0]-b1[2]/2, b1[0]+b1[2]/2
		y1Min, y1Max = b1[1]-b1[3]/2, b1[1]+b1[3]/2
		x2Min, x2Max = b2[0]-b2[2]/2, b2[0]+b2[2]/2
		y2Min, y2Max = b2[1]-b2[3]/2, b2[1]+b2[3]/2
	}

	intersectionXMin := maxOf(x1Min, x2Min)
	intersectionYMin := maxOf(y1Min, y2Min)
	intersectionXMax := minOf(x1Max, x2Max)
	intersectionYMax := minOf(y1Max, y2Max)

	intersectionArea := maxOf(intersectionXMax-intersectionXMin, 0) *
		maxOf(intersectionYMax-intersectionYMin, 0)
	if intersectionArea <= 0 {
		return false
	}

	area1 := (x1Max - x1Min) * (y1Max - y1Min)
	area2 := (x2Max - x2Min) * (y2Max - y2Min)
	unionArea := area1 + area2 - intersectionArea
	if area1 <= 0 || area2 <= 0 || unionArea <= 0 {
		return false
	}
	return intersectionArea/unionArea > iouThreshold
}

func minMax[T constraints.Ordered](lhs, rhs T) (minValue, maxValue T) {
	if lhs >= rhs {
		return rhs, lhs
	}
	return lhs, rhs
}

func minOf[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func maxOf[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
