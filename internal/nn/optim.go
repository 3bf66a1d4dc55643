package nn

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Adam applies gorgonia's Adam solver to a parameter set. The solver keeps
// its moment estimates by position, so an instance must always be stepped
// with the same parameter list and must not be shared between networks.
type Adam struct {
	solver *gorgonia.AdamSolver
	slots  map[*Param]paramSlot
}

// NewAdam returns an Adam optimizer. Zero values fall back to 1e-4, 0.9,
// 0.999 and 1e-7.
func NewAdam(lr, beta1, beta2, eps float64) *Adam {
	if lr <= 0 {
		lr = 1e-4
	}
	if beta1 <= 0 {
		beta1 = 0.9
	}
	if beta2 <= 0 {
		beta2 = 0.999
	}
	if eps <= 0 {
		eps = 1e-7
	}
	return &Adam{
		solver: gorgonia.NewAdamSolver(
			gorgonia.WithLearnRate(lr),
			gorgonia.WithBeta1(beta1),
			gorgonia.WithBeta2(beta2),
			gorgonia.WithEps(eps),
		),
		slots: make(map[*Param]paramSlot),
	}
}

// Step performs one update of every parameter in params from its
// accumulated gradient.
func (a *Adam) Step(params []*Param) error {
	model := make([]gorgonia.ValueGrad, len(params))
	for i, p := range params {
		s, ok := a.slots[p]
		if !ok {
			s = paramSlot{value: tensorView(p.Value), grad: tensorView(p.Grad)}
			a.slots[p] = s
		}
		model[i] = s
	}
	return errors.Wrap(a.solver.Step(model), "adam step")
}

// paramSlot exposes a Param to gorgonia solvers. Both tensors share their
// backing arrays with the Param matrices, so solver updates land in place.
type paramSlot struct {
	value *tensor.Dense
	grad  *tensor.Dense
}

func (s paramSlot) Value() gorgonia.Value         { return s.value }
func (s paramSlot) Grad() (gorgonia.Value, error) { return s.grad, nil }

func tensorView(m *mat.Dense) *tensor.Dense {
	r, c := m.Dims()
	return tensor.New(tensor.WithShape(r, c), tensor.WithBacking(m.RawMatrix().Data))
}
