// Package detect implements the fire/smoke object detector: ONNX session
// pooling, letterbox preprocessing, YOLO output decoding with non-max
// suppression, and frame annotation.
package detect

import (
	"fmt"
	"image"
	"image/color"
)

// Detection is a single detected object in source-frame coordinates.
type Detection struct {
	Box        image.Rectangle
	Label      string
	ClassID    int
	Confidence float32
}

func (d Detection) String() string {
	return fmt.Sprintf("%s %.2f %v", d.Label, d.Confidence, d.Box)
}

// classColor returns the box color for a class label. Fire is red, smoke is
// gray, anything else green.
func classColor(label string) color.RGBA {
	switch label {
	case "fire":
		return color.RGBA{R: 255, A: 255}
	case "smoke":
		return color.RGBA{R: 200, G: 200, B: 200, A: 255}
	default:
		return color.RGBA{G: 255, A: 255}
	}
}
