package hmm

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Classifier holds one model per label and predicts the label whose model
// assigns a sequence the highest likelihood.
type Classifier struct {
	States     int
	Iterations int
	Tolerance  float64

	labels []int
	models map[int]*Model
}

// NewClassifier returns a classifier training states-state models for at most
// iters Baum-Welch rounds each.
func NewClassifier(states, iters int) *Classifier {
	return &Classifier{States: states, Iterations: iters, Tolerance: 1e-4}
}

// Fit trains one model per label on that label's sequences.
func (c *Classifier) Fit(data map[int][][][]float64) error {
	if len(data) == 0 {
		return errors.New("hmm: no training data")
	}
	c.models = make(map[int]*Model, len(data))
	c.labels = c.labels[:0]
	for label, seqs := range data {
		if len(seqs) == 0 || len(seqs[0]) == 0 {
			return errors.Wrapf(ErrEmptySequence, "label %d", label)
		}
		m, err := New(c.States, len(seqs[0][0]))
		if err != nil {
			return err
		}
		if _, err := m.Fit(seqs, c.Iterations, c.Tolerance); err != nil {
			return errors.Wrapf(err, "label %d", label)
		}
		c.models[label] = m
		c.labels = append(c.labels, label)
	}
	sort.Ints(c.labels)
	return nil
}

// Labels returns the trained labels in ascending order.
func (c *Classifier) Labels() []int { return c.labels }

// Predict returns the most likely label and its log-likelihood. Ties go to
// the smaller label.
func (c *Classifier) Predict(seq [][]float64) (int, float64, error) {
	if len(c.models) == 0 {
		return 0, 0, errors.New("hmm: classifier not trained")
	}
	best, bestLL := c.labels[0], math.Inf(-1)
	for _, label := range c.labels {
		ll, err := c.models[label].LogLikelihood(seq)
		if err != nil {
			return 0, 0, err
		}
		if ll > bestLL {
			best, bestLL = label, ll
		}
	}
	return best, bestLL, nil
}
