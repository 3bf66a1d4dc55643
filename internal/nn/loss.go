package nn

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Reduction selects how per-sample losses are combined before
// differentiation.
type Reduction int

const (
	// ReduceMean averages over the batch.
	ReduceMean Reduction = iota
	// ReduceSum sums over the batch.
	ReduceSum
)

const bceEpsilon = 1e-7

// BinaryCrossEntropy scores probabilities p against a constant target label.
// It returns the mean per-element loss and the gradient of the reduced loss
// with respect to p. Probabilities are clipped to [1e-7, 1-1e-7] first.
func BinaryCrossEntropy(p *mat.Dense, target float64, r Reduction) (float64, *mat.Dense, error) {
	rows, cols := p.Dims()
	var clipped mat.Dense
	clipped.Apply(func(_, _ int, v float64) float64 { return clip(v) }, p)

	g := gorgonia.NewGraph()
	prob := gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(rows, cols),
		gorgonia.WithName("p"),
		gorgonia.WithValue(tensorOf(&clipped)),
	)
	logP, err := gorgonia.Log(prob)
	if err != nil {
		return 0, nil, errors.Wrap(err, "bce")
	}
	comp, err := gorgonia.Sub(gorgonia.NewConstant(1.0), prob)
	if err != nil {
		return 0, nil, errors.Wrap(err, "bce")
	}
	logQ, err := gorgonia.Log(comp)
	if err != nil {
		return 0, nil, errors.Wrap(err, "bce")
	}
	pos, err := gorgonia.Mul(logP, gorgonia.NewConstant(target))
	if err != nil {
		return 0, nil, errors.Wrap(err, "bce")
	}
	neg, err := gorgonia.Mul(logQ, gorgonia.NewConstant(1-target))
	if err != nil {
		return 0, nil, errors.Wrap(err, "bce")
	}
	ll, err := gorgonia.Add(pos, neg)
	if err != nil {
		return 0, nil, errors.Wrap(err, "bce")
	}
	total, err := gorgonia.Sum(ll)
	if err != nil {
		return 0, nil, errors.Wrap(err, "bce")
	}
	scale := -1.0
	if r == ReduceMean {
		scale = -1 / float64(rows*cols)
	}
	cost, err := gorgonia.Mul(total, gorgonia.NewConstant(scale))
	if err != nil {
		return 0, nil, errors.Wrap(err, "bce")
	}
	grads, err := gorgonia.Grad(cost, prob)
	if err != nil {
		return 0, nil, errors.Wrap(err, "bce grad")
	}

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return 0, nil, errors.Wrap(err, "bce")
	}
	sum, err := valuesOf(total.Value())
	if err != nil {
		return 0, nil, err
	}
	grad, err := denseOf(grads[0].Value(), rows, cols)
	if err != nil {
		return 0, nil, err
	}
	return -sum[0] / float64(rows*cols), grad, nil
}

func clip(q float64) float64 {
	if q < bceEpsilon {
		return bceEpsilon
	}
	if q > 1-bceEpsilon {
		return 1 - bceEpsilon
	}
	return q
}
