package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond, 1.2, 0.6)
	w.Record(64, 10*time.Millisecond, 20*time.Millisecond, 0.8, 0.4)
	snap := w.Snapshot()
	if math.Abs(snap.SamplesPerSec-2133.3333) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.SamplesPerSec)
	}
	if w.samples != 0 || w.steps != 0 || len(w.discLosses) != 0 {
		t.Fatalf("window was not reset")
	}
	if snap.LastDiscLoss != 0.8 || snap.LastGenLoss != 0.4 {
		t.Fatalf("unexpected last losses %.2f %.2f", snap.LastDiscLoss, snap.LastGenLoss)
	}
	if math.Abs(snap.MeanDiscLoss-1.0) > 1e-12 || math.Abs(snap.MeanGenLoss-0.5) > 1e-12 {
		t.Fatalf("unexpected mean losses %.4f %.4f", snap.MeanDiscLoss, snap.MeanGenLoss)
	}
}

func TestEmptySnapshot(t *testing.T) {
	var w Window
	if snap := w.Snapshot(); snap != (Snapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}
