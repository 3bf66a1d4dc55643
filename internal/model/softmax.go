package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Softmax is a dense linear classifier trained with softmax cross-entropy.
type Softmax struct {
	numClasses int
	inputSize  int
	weights    []float64
	bias       []float64
	lr         float64
}

// NewSoftmax constructs the model with random initialization.
func NewSoftmax(numClasses, inputSize int, lr float64, seed int64) *Softmax {
	if numClasses <= 0 {
		numClasses = 10
	}
	if inputSize <= 0 {
		inputSize = 64
	}
	if lr <= 0 {
		lr = 0.01
	}
	rng := rand.New(rand.NewSource(seed))
	weights := make([]float64, numClasses*inputSize)
	for i := range weights {
		weights[i] = (rng.Float64()*2 - 1) * 0.01
	}
	return &Softmax{
		numClasses: numClasses,
		inputSize:  inputSize,
		weights:    weights,
		bias:       make([]float64, numClasses),
		lr:         lr,
	}
}

func (m *Softmax) row(c int) []float64 {
	return m.weights[c*m.inputSize : (c+1)*m.inputSize]
}

func (m *Softmax) logits(input []float64) []float64 {
	out := make([]float64, m.numClasses)
	for c := range out {
		out[c] = m.bias[c] + floats.Dot(m.row(c), input)
	}
	return out
}

// Probabilities returns the class distribution for input.
func (m *Softmax) Probabilities(input []float64) []float64 {
	return softmax(m.logits(input))
}

// Predict returns the most probable class.
func (m *Softmax) Predict(input []float64) int {
	if len(input) != m.inputSize {
		return -1
	}
	return floats.MaxIdx(m.logits(input))
}

// TrainStep executes one SGD pass over the batch and returns the average
// loss. Inputs of the wrong width are skipped; labels wrap modulo the class
// count.
func (m *Softmax) TrainStep(batch Batch) float64 {
	if len(batch.Inputs) == 0 {
		return 0
	}
	totalLoss := 0.0
	for i, input := range batch.Inputs {
		if len(input) != m.inputSize {
			continue
		}
		label := batch.Labels[i] % m.numClasses
		if label < 0 {
			label += m.numClasses
		}
		probs := m.Probabilities(input)
		totalLoss += -math.Log(math.Max(probs[label], 1e-9))

		probs[label] -= 1
		for c := 0; c < m.numClasses; c++ {
			grad := probs[c]
			m.bias[c] -= m.lr * grad
			floats.AddScaled(m.row(c), -m.lr*grad, input)
		}
	}
	return totalLoss / float64(len(batch.Inputs))
}

func softmax(logits []float64) []float64 {
	maxLogit := floats.Max(logits)
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}
