package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// ErrEmptyPool is returned when a pool would hold no samples.
var ErrEmptyPool = errors.New("dataset: empty sample pool")

// Pool is a fixed in-memory set of flattened samples drawn uniformly at
// random with replacement.
type Pool struct {
	data []float64
	n    int
	dim  int
	rng  *rand.Rand
}

// NewPool wraps data, a row-major block of n samples of width dim.
func NewPool(data []float64, dim int, seed int64) (*Pool, error) {
	if dim <= 0 || len(data) == 0 {
		return nil, ErrEmptyPool
	}
	if len(data)%dim != 0 {
		return nil, errors.Errorf("dataset: %d values do not divide into samples of width %d", len(data), dim)
	}
	return &Pool{
		data: data,
		n:    len(data) / dim,
		dim:  dim,
		rng:  rand.New(rand.NewSource(seed)),
	}, nil
}

// NewPoolFromTensor flattens every axis after the first into the sample
// width, so an (N, H, W) image tensor becomes N samples of H*W values.
func NewPoolFromTensor(t *tensor.Dense, seed int64) (*Pool, error) {
	shape := t.Shape()
	if len(shape) < 2 {
		return nil, errors.Errorf("dataset: need at least 2 axes, got shape %v", shape)
	}
	data, ok := t.Data().([]float64)
	if !ok {
		return nil, errors.Errorf("dataset: unsupported tensor dtype %v", t.Dtype())
	}
	dim := 1
	for _, d := range shape[1:] {
		dim *= d
	}
	return NewPool(data, dim, seed)
}

// Len returns the number of samples.
func (p *Pool) Len() int { return p.n }

// Dim returns the flattened sample width.
func (p *Pool) Dim() int { return p.dim }

// Sample returns a view of sample i.
func (p *Pool) Sample(i int) []float64 {
	return p.data[i*p.dim : (i+1)*p.dim]
}

// Batch copies size uniformly chosen samples into a (size x Dim) matrix.
// The same sample may appear more than once.
func (p *Pool) Batch(size int) *mat.Dense {
	b := mat.NewDense(size, p.dim, nil)
	for i := 0; i < size; i++ {
		copy(b.RawRowView(i), p.Sample(p.rng.Intn(p.n)))
	}
	return b
}
