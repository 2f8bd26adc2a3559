package detect

import (
	"fmt"
	"image"
	"sort"
)

// Postprocess decodes a YOLOv8-style output tensor of shape [1, 4+C, N] into
// detections in source-frame coordinates: confidence filtering, per-class
// non-max suppression, and letterbox back-projection.
func Postprocess(output []float32, shape []int64, box Letterbox, classNames []string, confThreshold, iouThreshold float32) ([]Detection, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
	rows := int(shape[1])
	cols := int(shape[2])
	numClasses := rows - 4
	if numClasses < 1 || numClasses > len(classNames) {
		return nil, fmt.Errorf("output has %d classes, config names %d", numClasses, len(classNames))
	}
	if len(output) < rows*cols {
		return nil, fmt.Errorf("output tensor truncated: %d < %d", len(output), rows*cols)
	}

	at := func(row, col int) float32 { return output[row*cols+col] }

	candidates := make([]Detection, 0, 32)
	for i := 0; i < cols; i++ {
		bestClass := 0
		bestScore := at(4, i)
		for c := 1; c < numClasses; c++ {
			if score := at(4+c, i); score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestScore < confThreshold {
			continue
		}

		cx, cy := at(0, i), at(1, i)
		w, h := at(2, i), at(3, i)

		// Letterbox coords -> source coords
		x1 := (cx - w/2 - float32(box.PadX)) / box.Scale
		y1 := (cy - h/2 - float32(box.PadY)) / box.Scale
		x2 := (cx + w/2 - float32(box.PadX)) / box.Scale
		y2 := (cy + h/2 - float32(box.PadY)) / box.Scale

		rect := image.Rect(
			clamp(int(x1), 0, box.SrcW),
			clamp(int(y1), 0, box.SrcH),
			clamp(int(x2), 0, box.SrcW),
			clamp(int(y2), 0, box.SrcH),
		)
		if rect.Empty() {
			continue
		}

		candidates = append(candidates, Detection{
			Box:        rect,
			Label:      classNames[bestClass],
			ClassID:    bestClass,
			Confidence: bestScore,
		})
	}

	return nonMaxSuppression(candidates, iouThreshold), nil
}

// nonMaxSuppression keeps the highest-confidence detection among overlapping
// boxes of the same class.
func nonMaxSuppression(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) <= 1 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	kept := make([]Detection, 0, len(detections))
	suppressed := make([]bool, len(detections))
	for i := range detections {
		if suppressed[i] {
			continue
		}
		kept = append(kept, detections[i])
		for j := i + 1; j < len(detections); j++ {
			if suppressed[j] || detections[j].ClassID != detections[i].ClassID {
				continue
			}
			if iou(detections[i].Box, detections[j].Box) >= iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// iou computes intersection over union of two rectangles.
func iou(a, b image.Rectangle) float32 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := inter.Dx() * inter.Dy()
	union := a.Dx()*a.Dy() + b.Dx()*b.Dy() - interArea
	if union <= 0 {
		return 0
	}
	return float32(interArea) / float32(union)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
