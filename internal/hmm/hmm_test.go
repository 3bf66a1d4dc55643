package hmm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

// twoPhase emits n frames around lo followed by n frames around hi.
func twoPhase(rng *rand.Rand, n int, lo, hi float64) [][]float64 {
	seq := make([][]float64, 0, 2*n)
	for t := 0; t < 2*n; t++ {
		centre := lo
		if t >= n {
			centre = hi
		}
		seq = append(seq, []float64{centre + rng.NormFloat64()*0.1})
	}
	return seq
}

func TestFitSeparatesStates(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var seqs [][][]float64
	for i := 0; i < 5; i++ {
		seqs = append(seqs, twoPhase(rng, 10, -2, 2))
	}
	m, err := New(2, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ll, err := m.Fit(seqs, 20, 1e-6)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		t.Fatalf("non-finite log-likelihood %f", ll)
	}
	lo, hi := m.Means[0][0], m.Means[1][0]
	if lo > hi {
		lo, hi = hi, lo
	}
	if math.Abs(lo+2) > 0.2 || math.Abs(hi-2) > 0.2 {
		t.Fatalf("means %f %f, want about -2 and 2", lo, hi)
	}
	for i, row := range m.Trans {
		sum := 0.0
		for _, p := range row {
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("transition row %d sums to %f", i, sum)
		}
	}
}

func TestFitImprovesLikelihood(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	seqs := [][][]float64{twoPhase(rng, 8, -1, 3), twoPhase(rng, 8, -1, 3)}
	m, _ := New(2, 1)
	m.initFromData(seqs)
	before := m.totalLogLikelihood(seqs)
	after, err := m.Fit(seqs, 10, 0)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if after+1e-6 < before {
		t.Fatalf("likelihood decreased: %f -> %f", before, after)
	}
}

func TestViterbiFollowsPhases(t *testing.T) {
	m, _ := New(2, 1)
	m.Means[0][0], m.Means[1][0] = -2, 2
	m.Trans = [][]float64{{0.9, 0.1}, {0.1, 0.9}}
	seq := [][]float64{{-2}, {-2.1}, {-1.9}, {2}, {2.2}}
	path, logProb, err := m.Viterbi(seq)
	if err != nil {
		t.Fatalf("Viterbi: %v", err)
	}
	want := []int{0, 0, 0, 1, 1}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("path %v, want %v", path, want)
		}
	}
	ll, _ := m.LogLikelihood(seq)
	if logProb > ll {
		t.Fatalf("best path probability %f exceeds total %f", logProb, ll)
	}
}

func TestRejectsBadSequences(t *testing.T) {
	m, _ := New(2, 2)
	if _, err := m.LogLikelihood(nil); !errors.Is(err, ErrEmptySequence) {
		t.Fatalf("expected ErrEmptySequence, got %v", err)
	}
	if _, _, err := m.Viterbi([][]float64{{1}}); !errors.Is(err, ErrDimension) {
		t.Fatalf("expected ErrDimension, got %v", err)
	}
}

func TestClassifierPredictsLabel(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	data := map[int][][][]float64{}
	for i := 0; i < 4; i++ {
		data[0] = append(data[0], twoPhase(rng, 6, -3, -1))
		data[1] = append(data[1], twoPhase(rng, 6, 1, 3))
	}
	c := NewClassifier(2, 15)
	if err := c.Fit(data); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if got := c.Labels(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("labels %v", got)
	}
	for want, seq := range map[int][][]float64{0: twoPhase(rng, 6, -3, -1), 1: twoPhase(rng, 6, 1, 3)} {
		got, _, err := c.Predict(seq)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if got != want {
			t.Fatalf("predicted %d, want %d", got, want)
		}
	}
}

func TestUntrainedClassifier(t *testing.T) {
	if _, _, err := NewClassifier(2, 1).Predict([][]float64{{0}}); err == nil {
		t.Fatal("expected error from untrained classifier")
	}
}
