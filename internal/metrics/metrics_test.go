package metrics

import (
	"testing"
)

func seriesForStream(t *testing.T, m *Metrics, streamID string) int {
	t.Helper()
	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	count := 0
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "stream_id" && label.GetValue() == streamID {
					count++
				}
			}
		}
	}
	return count
}

func TestRemoveStreamDropsSeries(t *testing.T) {
	m := New()
	m.FramesRead.WithLabelValues("s1").Inc()
	m.FramesDropped.WithLabelValues("s1").Inc()
	m.Inferences.WithLabelValues("s1").Inc()
	m.FrameQueueDepth.WithLabelValues("s1").Set(7)
	m.FramesRead.WithLabelValues("s2").Inc()

	if got := seriesForStream(t, m, "s1"); got != 4 {
		t.Fatalf("expected 4 series for s1 before removal, got %d", got)
	}

	m.RemoveStream("s1")

	if got := seriesForStream(t, m, "s1"); got != 0 {
		t.Errorf("expected no series for s1 after removal, got %d", got)
	}
	if got := seriesForStream(t, m, "s2"); got != 1 {
		t.Errorf("removal must not touch other streams, s2 has %d series", got)
	}
}

func TestRemoveStreamUnknownID(t *testing.T) {
	m := New()
	// Removing a stream that never reported is a no-op.
	m.RemoveStream("never-seen")
}
