package nn

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when an input batch does not match the width a
// network was built for.
var ErrShapeMismatch = errors.New("nn: input shape mismatch")

// Trainable is the capability a model needs to be trained by gradient
// descent: a forward pass that records what backward needs, a backward pass
// that accumulates parameter gradients, and access to those parameters.
type Trainable interface {
	Forward(x *mat.Dense, train bool) (*mat.Dense, *Trace, error)
	Backward(t *Trace, dy *mat.Dense) (*mat.Dense, error)
	Params() []*Param
	ZeroGrad()
}

// Trace holds what one forward pass recorded. Each call to Forward returns a
// fresh Trace, so a network can be evaluated several times before any of
// those passes is back-propagated. Parameters must not be updated between a
// Forward and the Backward of its trace.
type Trace struct {
	x      *mat.Dense
	train  bool
	caches []any
}

// Engine selects how a layer stack is differentiated.
type Engine string

const (
	// EngineGraph builds gorgonia expression graphs and uses symbolic
	// differentiation.
	EngineGraph Engine = "graph"
	// EngineDense runs the hand-derived backward pass of each layer on gonum
	// matrices.
	EngineDense Engine = "dense"
)

// NewTrainable chains layers on the requested engine. The empty engine is
// EngineGraph.
func NewTrainable(e Engine, name string, in int, layers ...Layer) (Trainable, error) {
	switch e {
	case "", EngineGraph:
		return NewGraphNetwork(name, in, layers...), nil
	case EngineDense:
		return NewNetwork(name, in, layers...), nil
	default:
		return nil, errors.Errorf("nn: unknown engine %q", e)
	}
}

// Network is a feed-forward stack of layers differentiated by the layers'
// own Backward methods.
type Network struct {
	name   string
	in     int
	out    int
	layers []Layer
}

// NewNetwork chains layers starting from an input width of in.
func NewNetwork(name string, in int, layers ...Layer) *Network {
	out := in
	for _, l := range layers {
		out = l.OutDim(out)
	}
	return &Network{name: name, in: in, out: out, layers: layers}
}

// Name returns the network name.
func (n *Network) Name() string { return n.name }

// InputDim returns the expected input width.
func (n *Network) InputDim() int { return n.in }

// OutputDim returns the output width.
func (n *Network) OutputDim() int { return n.out }

// Forward runs x through every layer.
func (n *Network) Forward(x *mat.Dense, train bool) (*mat.Dense, *Trace, error) {
	_, cols := x.Dims()
	if cols != n.in {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "%s: got width %d, want %d", n.name, cols, n.in)
	}
	t := &Trace{x: x, train: train, caches: make([]any, len(n.layers))}
	out := x
	for i, l := range n.layers {
		out, t.caches[i] = l.Forward(out, train)
	}
	return out, t, nil
}

// Backward propagates dy through the recorded pass, accumulating parameter
// gradients, and returns the gradient with respect to the network input.
func (n *Network) Backward(t *Trace, dy *mat.Dense) (*mat.Dense, error) {
	grad := dy
	for i := len(n.layers) - 1; i >= 0; i-- {
		grad = n.layers[i].Backward(t.caches[i], grad)
	}
	return grad, nil
}

// Params returns every trainable parameter in layer order.
func (n *Network) Params() []*Param {
	var ps []*Param
	for _, l := range n.layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

// ZeroGrad clears every accumulated gradient.
func (n *Network) ZeroGrad() {
	for _, p := range n.Params() {
		p.ZeroGrad()
	}
}

// Snapshot deep-copies the current parameter values.
func Snapshot(t Trainable) []*mat.Dense {
	ps := t.Params()
	out := make([]*mat.Dense, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}
