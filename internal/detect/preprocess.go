package detect

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Letterbox describes how a source frame was fitted onto the model input:
// uniform scale plus horizontal/vertical padding. Needed to project boxes
// back to source coordinates.
type Letterbox struct {
	Scale float32
	PadX  int
	PadY  int
	SrcW  int
	SrcH  int
}

// fitLetterbox computes the scale and padding that place a srcW x srcH frame
// inside a dstW x dstH canvas without distortion.
func fitLetterbox(srcW, srcH, dstW, dstH int) Letterbox {
	scale := min(float32(dstW)/float32(srcW), float32(dstH)/float32(srcH))
	scaledW := int(float32(srcW) * scale)
	scaledH := int(float32(srcH) * scale)
	return Letterbox{
		Scale: scale,
		PadX:  (dstW - scaledW) / 2,
		PadY:  (dstH - scaledH) / 2,
		SrcW:  srcW,
		SrcH:  srcH,
	}
}

// Preprocess letterboxes a BGR frame onto the model input and converts it to
// a normalized CHW RGB tensor.
func Preprocess(frame gocv.Mat, inputHeight, inputWidth int) ([]float32, Letterbox, error) {
	if frame.Empty() {
		return nil, Letterbox{}, fmt.Errorf("empty frame")
	}

	box := fitLetterbox(frame.Cols(), frame.Rows(), inputWidth, inputHeight)
	scaledW := int(float32(box.SrcW) * box.Scale)
	scaledH := int(float32(box.SrcH) * box.Scale)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(frame, &resized, image.Pt(scaledW, scaledH), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMat()
	defer padded.Close()
	gray := color.RGBA{R: 114, G: 114, B: 114, A: 0}
	gocv.CopyMakeBorder(resized, &padded,
		box.PadY, inputHeight-scaledH-box.PadY,
		box.PadX, inputWidth-scaledW-box.PadX,
		gocv.BorderConstant, gray)

	data, err := padded.DataPtrUint8()
	if err != nil {
		return nil, Letterbox{}, fmt.Errorf("access frame data: %w", err)
	}

	// HWC BGR uint8 -> CHW RGB float32 in [0,1]
	plane := inputHeight * inputWidth
	tensor := make([]float32, 3*plane)
	for y := 0; y < inputHeight; y++ {
		for x := 0; x < inputWidth; x++ {
			idx := (y*inputWidth + x) * 3
			pos := y*inputWidth + x
			tensor[pos] = float32(data[idx+2]) / 255.0
			tensor[plane+pos] = float32(data[idx+1]) / 255.0
			tensor[2*plane+pos] = float32(data[idx]) / 255.0
		}
	}
	return tensor, box, nil
}
