package detect

import (
	"image"
	"testing"
)

// buildOutput creates a [1, 4+classes, n] tensor from candidate rows of
// (cx, cy, w, h, scores...).
func buildOutput(classes int, candidates [][]float32) ([]float32, []int64) {
	n := len(candidates)
	rows := 4 + classes
	out := make([]float32, rows*n)
	for i, cand := range candidates {
		for r := 0; r < rows; r++ {
			out[r*n+i] = cand[r]
		}
	}
	return out, []int64{1, int64(rows), int64(n)}
}

var fireSmoke = []string{"fire", "smoke"}

func TestPostprocessConfidenceFilter(t *testing.T) {
	// Identity letterbox: 640x640 source on a 640x640 input
	box := fitLetterbox(640, 640, 640, 640)

	out, shape := buildOutput(2, [][]float32{
		{100, 100, 40, 40, 0.9, 0.1}, // fire, above threshold
		{300, 300, 40, 40, 0.3, 0.2}, // below threshold
	})

	dets, err := Postprocess(out, shape, box, fireSmoke, 0.5, 0.4)
	if err != nil {
		t.Fatalf("Postprocess failed: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(dets))
	}
	if dets[0].Label != "fire" {
		t.Errorf("label = %q, want fire", dets[0].Label)
	}
	want := image.Rect(80, 80, 120, 120)
	if dets[0].Box != want {
		t.Errorf("box = %v, want %v", dets[0].Box, want)
	}
}

func TestPostprocessNMSSuppressesOverlap(t *testing.T) {
	box := fitLetterbox(640, 640, 640, 640)

	// Two heavily overlapping fire boxes plus one distant smoke box
	out, shape := buildOutput(2, [][]float32{
		{100, 100, 40, 40, 0.9, 0.0},
		{102, 102, 40, 40, 0.8, 0.0},
		{400, 400, 40, 40, 0.0, 0.7},
	})

	dets, err := Postprocess(out, shape, box, fireSmoke, 0.5, 0.4)
	if err != nil {
		t.Fatalf("Postprocess failed: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections after NMS, got %d: %v", len(dets), dets)
	}
	// Highest confidence box of the overlapping pair survives
	if dets[0].Confidence != 0.9 {
		t.Errorf("kept confidence = %v, want 0.9", dets[0].Confidence)
	}
}

func TestPostprocessKeepsOverlapAcrossClasses(t *testing.T) {
	box := fitLetterbox(640, 640, 640, 640)

	// Overlapping boxes of different classes must both survive
	out, shape := buildOutput(2, [][]float32{
		{100, 100, 40, 40, 0.9, 0.0},
		{102, 102, 40, 40, 0.0, 0.8},
	})

	dets, err := Postprocess(out, shape, box, fireSmoke, 0.5, 0.4)
	if err != nil {
		t.Fatalf("Postprocess failed: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(dets))
	}
}

func TestPostprocessBackProjection(t *testing.T) {
	// 1280x720 source letterboxed onto 640x640: scale 0.5, vertical pad 140
	box := fitLetterbox(1280, 720, 640, 640)
	if box.Scale != 0.5 {
		t.Fatalf("scale = %v, want 0.5", box.Scale)
	}
	if box.PadX != 0 || box.PadY != 140 {
		t.Fatalf("pad = (%d,%d), want (0,140)", box.PadX, box.PadY)
	}

	out, shape := buildOutput(2, [][]float32{
		{320, 320, 100, 100, 0.9, 0.0},
	})

	dets, err := Postprocess(out, shape, box, fireSmoke, 0.5, 0.4)
	if err != nil {
		t.Fatalf("Postprocess failed: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(dets))
	}
	want := image.Rect(540, 260, 740, 460)
	if dets[0].Box != want {
		t.Errorf("box = %v, want %v", dets[0].Box, want)
	}
}

func TestPostprocessClampsToFrame(t *testing.T) {
	box := fitLetterbox(640, 640, 640, 640)

	// Box extends past the left and top edges
	out, shape := buildOutput(2, [][]float32{
		{10, 10, 100, 100, 0.9, 0.0},
	})

	dets, err := Postprocess(out, shape, box, fireSmoke, 0.5, 0.4)
	if err != nil {
		t.Fatalf("Postprocess failed: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(dets))
	}
	if dets[0].Box.Min.X != 0 || dets[0].Box.Min.Y != 0 {
		t.Errorf("box not clamped: %v", dets[0].Box)
	}
}

func TestPostprocessRejectsBadShape(t *testing.T) {
	box := fitLetterbox(640, 640, 640, 640)
	if _, err := Postprocess([]float32{0}, []int64{1, 2}, box, fireSmoke, 0.5, 0.4); err == nil {
		t.Error("expected error for 2-dim shape")
	}
	if _, err := Postprocess([]float32{0}, []int64{1, 10, 1}, box, fireSmoke, 0.5, 0.4); err == nil {
		t.Error("expected error for class count mismatch")
	}
}

func TestIoU(t *testing.T) {
	a := image.Rect(0, 0, 10, 10)

	if got := iou(a, a); got != 1.0 {
		t.Errorf("iou(a,a) = %v, want 1.0", got)
	}
	if got := iou(a, image.Rect(20, 20, 30, 30)); got != 0 {
		t.Errorf("iou of disjoint boxes = %v, want 0", got)
	}
	// Half overlap: inter 50, union 150
	got := iou(a, image.Rect(5, 0, 15, 10))
	want := float32(50.0 / 150.0)
	if got < want-0.001 || got > want+0.001 {
		t.Errorf("iou = %v, want %v", got, want)
	}
}

func TestFitLetterboxWide(t *testing.T) {
	box := fitLetterbox(1920, 1080, 640, 640)
	if box.Scale != float32(640)/1920 {
		t.Errorf("scale = %v", box.Scale)
	}
	if box.PadX != 0 {
		t.Errorf("padX = %d, want 0", box.PadX)
	}
	// 1080 * (640/1920) = 360, pad (640-360)/2 = 140
	if box.PadY != 140 {
		t.Errorf("padY = %d, want 140", box.PadY)
	}
}

func TestFitLetterboxTall(t *testing.T) {
	box := fitLetterbox(720, 1280, 640, 640)
	if box.PadY != 0 {
		t.Errorf("padY = %d, want 0", box.PadY)
	}
	if box.PadX != 140 {
		t.Errorf("padX = %d, want 140", box.PadX)
	}
}
