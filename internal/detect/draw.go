package detect

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Annotate draws detection boxes and labels onto the frame in place.
func Annotate(frame *gocv.Mat, detections []Detection) {
	for _, det := range detections {
		c := classColor(det.Label)
		gocv.Rectangle(frame, det.Box, c, 2)

		text := fmt.Sprintf("%s: %.2f", det.Label, det.Confidence)
		origin := image.Pt(det.Box.Min.X, det.Box.Min.Y-10)
		if origin.Y < 10 {
			origin.Y = det.Box.Min.Y + 20
		}
		gocv.PutText(frame, text, origin, gocv.FontHersheySimplex, 0.7, c, 2)
	}
}

// EncodeJPEG encodes a frame as JPEG bytes.
func EncodeJPEG(frame gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}
