package metrics

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Window accumulates timing and loss stats across multiple steps.
type Window struct {
	samples    int
	data       time.Duration
	compute    time.Duration
	steps      int
	discLosses []float64
	genLosses  []float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, discLoss, genLoss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.discLosses = append(w.discLosses, discLoss)
	w.genLosses = append(w.genLosses, genLoss)
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.SamplesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.LastDiscLoss = w.discLosses[w.steps-1]
		snap.LastGenLoss = w.genLosses[w.steps-1]
		snap.MeanDiscLoss = stat.Mean(w.discLosses, nil)
		snap.MeanGenLoss = stat.Mean(w.genLosses, nil)
	}

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	w.discLosses = w.discLosses[:0]
	w.genLosses = w.genLosses[:0]
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps         int
	SamplesPerSec float64
	AvgDataMS     float64
	AvgComputeMS  float64
	LastDiscLoss  float64
	LastGenLoss   float64
	MeanDiscLoss  float64
	MeanGenLoss   float64
}
