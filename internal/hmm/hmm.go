// Package hmm implements hidden Markov models with diagonal Gaussian
// emissions: Baum-Welch training, forward likelihood and Viterbi decoding.
package hmm

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrEmptySequence is returned for sequences with no frames.
	ErrEmptySequence = errors.New("hmm: empty sequence")
	// ErrDimension is returned when a frame width does not match the model.
	ErrDimension = errors.New("hmm: frame dimension mismatch")
)

const varianceFloor = 1e-3

// Model is an ergodic HMM over real-valued frames.
type Model struct {
	States int
	Dim    int
	Start  []float64   // initial state probabilities
	Trans  [][]float64 // Trans[i][j] = P(j | i)
	Means  [][]float64
	Vars   [][]float64
}

// New returns a model with uniform start and transition probabilities, zero
// means and unit variances.
func New(states, dim int) (*Model, error) {
	if states <= 0 || dim <= 0 {
		return nil, errors.Errorf("hmm: states and dim must be > 0 (got %d, %d)", states, dim)
	}
	m := &Model{
		States: states,
		Dim:    dim,
		Start:  make([]float64, states),
		Trans:  make([][]float64, states),
		Means:  make([][]float64, states),
		Vars:   make([][]float64, states),
	}
	for i := 0; i < states; i++ {
		m.Start[i] = 1 / float64(states)
		m.Trans[i] = make([]float64, states)
		for j := range m.Trans[i] {
			m.Trans[i][j] = 1 / float64(states)
		}
		m.Means[i] = make([]float64, dim)
		m.Vars[i] = make([]float64, dim)
		for d := range m.Vars[i] {
			m.Vars[i][d] = 1
		}
	}
	return m, nil
}

func (m *Model) check(seq [][]float64) error {
	if len(seq) == 0 {
		return ErrEmptySequence
	}
	for _, f := range seq {
		if len(f) != m.Dim {
			return errors.Wrapf(ErrDimension, "got %d, want %d", len(f), m.Dim)
		}
	}
	return nil
}

func (m *Model) logEmission(state int, x []float64) float64 {
	mu, v := m.Means[state], m.Vars[state]
	ll := 0.0
	for d := range x {
		diff := x[d] - mu[d]
		ll -= 0.5 * (math.Log(2*math.Pi*v[d]) + diff*diff/v[d])
	}
	return ll
}

func logOf(p []float64) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = math.Log(v)
	}
	return out
}

// emissions returns logB[t][j].
func (m *Model) emissions(seq [][]float64) [][]float64 {
	logB := make([][]float64, len(seq))
	for t, x := range seq {
		row := make([]float64, m.States)
		for j := range row {
			row[j] = m.logEmission(j, x)
		}
		logB[t] = row
	}
	return logB
}

func (m *Model) logTrans() [][]float64 {
	out := make([][]float64, m.States)
	for i := range out {
		out[i] = logOf(m.Trans[i])
	}
	return out
}

func (m *Model) forward(logB, logA [][]float64) [][]float64 {
	T, S := len(logB), m.States
	alpha := make([][]float64, T)
	alpha[0] = floats.AddTo(make([]float64, S), logOf(m.Start), logB[0])
	terms := make([]float64, S)
	for t := 1; t < T; t++ {
		alpha[t] = make([]float64, S)
		for j := 0; j < S; j++ {
			for i := 0; i < S; i++ {
				terms[i] = alpha[t-1][i] + logA[i][j]
			}
			alpha[t][j] = floats.LogSumExp(terms) + logB[t][j]
		}
	}
	return alpha
}

func (m *Model) backward(logB, logA [][]float64) [][]float64 {
	T, S := len(logB), m.States
	beta := make([][]float64, T)
	beta[T-1] = make([]float64, S)
	terms := make([]float64, S)
	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, S)
		for i := 0; i < S; i++ {
			for j := 0; j < S; j++ {
				terms[j] = logA[i][j] + logB[t+1][j] + beta[t+1][j]
			}
			beta[t][i] = floats.LogSumExp(terms)
		}
	}
	return beta
}

// LogLikelihood returns log P(seq | model).
func (m *Model) LogLikelihood(seq [][]float64) (float64, error) {
	if err := m.check(seq); err != nil {
		return 0, err
	}
	alpha := m.forward(m.emissions(seq), m.logTrans())
	return floats.LogSumExp(alpha[len(alpha)-1]), nil
}

// Viterbi returns the most likely state path and its log probability.
func (m *Model) Viterbi(seq [][]float64) ([]int, float64, error) {
	if err := m.check(seq); err != nil {
		return nil, 0, err
	}
	logB, logA := m.emissions(seq), m.logTrans()
	T, S := len(seq), m.States
	delta := floats.AddTo(make([]float64, S), logOf(m.Start), logB[0])
	back := make([][]int, T)
	for t := 1; t < T; t++ {
		next := make([]float64, S)
		back[t] = make([]int, S)
		for j := 0; j < S; j++ {
			best, arg := math.Inf(-1), 0
			for i := 0; i < S; i++ {
				if v := delta[i] + logA[i][j]; v > best {
					best, arg = v, i
				}
			}
			next[j] = best + logB[t][j]
			back[t][j] = arg
		}
		delta = next
	}
	path := make([]int, T)
	path[T-1] = floats.MaxIdx(delta)
	logProb := delta[path[T-1]]
	for t := T - 1; t > 0; t-- {
		path[t-1] = back[t][path[t]]
	}
	return path, logProb, nil
}
