package nn

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// GraphNetwork is a feed-forward stack of layers evaluated on gorgonia
// expression graphs. Every pass builds its own graph over copies of the
// current parameter values, and Backward differentiates a replay of the
// recorded pass with gorgonia.Grad.
type GraphNetwork struct {
	name   string
	in     int
	out    int
	layers []Layer
}

// NewGraphNetwork chains layers starting from an input width of in.
func NewGraphNetwork(name string, in int, layers ...Layer) *GraphNetwork {
	out := in
	for _, l := range layers {
		out = l.OutDim(out)
	}
	return &GraphNetwork{name: name, in: in, out: out, layers: layers}
}

// Name returns the network name.
func (n *GraphNetwork) Name() string { return n.name }

// Forward evaluates x and records the dropout masks drawn on the way.
func (n *GraphNetwork) Forward(x *mat.Dense, train bool) (*mat.Dense, *Trace, error) {
	rows, cols := x.Dims()
	if cols != n.in {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "%s: got width %d, want %d", n.name, cols, n.in)
	}
	t := &Trace{x: mat.DenseCopyOf(x), train: train, caches: make([]any, len(n.layers))}
	p, _, out, err := n.build(t, false)
	if err != nil {
		return nil, nil, err
	}
	var y *mat.Dense
	err = p.run(func() error {
		var err error
		y, err = denseOf(out.Value(), rows, n.out)
		return err
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, n.name)
	}
	return y, t, nil
}

// Backward rebuilds the traced pass, differentiates sum(y ⊙ dy) with respect
// to every parameter and the input, and accumulates the parameter gradients.
func (n *GraphNetwork) Backward(t *Trace, dy *mat.Dense) (*mat.Dense, error) {
	p, x, out, err := n.build(t, true)
	if err != nil {
		return nil, err
	}
	weighted, err := gorgonia.HadamardProd(out, p.input("dy", dy))
	if err != nil {
		return nil, errors.Wrap(err, n.name)
	}
	cost, err := gorgonia.Sum(weighted)
	if err != nil {
		return nil, errors.Wrap(err, n.name)
	}
	wrt := make(gorgonia.Nodes, 0, len(p.order)+1)
	for _, prm := range p.order {
		wrt = append(wrt, p.nodes[prm])
	}
	wrt = append(wrt, x)
	grads, err := gorgonia.Grad(cost, wrt...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: grad", n.name)
	}

	rows, cols := t.x.Dims()
	var dx *mat.Dense
	err = p.run(func() error {
		for i, prm := range p.order {
			r, c := prm.Grad.Dims()
			g, err := denseOf(grads[i].Value(), r, c)
			if err != nil {
				return errors.Wrap(err, prm.Name)
			}
			prm.Grad.Add(prm.Grad, g)
		}
		var err error
		dx, err = denseOf(grads[len(grads)-1].Value(), rows, cols)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, n.name)
	}
	return dx, nil
}

// Params returns every trainable parameter in layer order.
func (n *GraphNetwork) Params() []*Param {
	var ps []*Param
	for _, l := range n.layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

// ZeroGrad clears every accumulated gradient.
func (n *GraphNetwork) ZeroGrad() {
	for _, p := range n.Params() {
		p.ZeroGrad()
	}
}

func (n *GraphNetwork) build(t *Trace, replay bool) (*graphPass, *gorgonia.Node, *gorgonia.Node, error) {
	p := &graphPass{
		g:      gorgonia.NewGraph(),
		trace:  t,
		replay: replay,
		nodes:  make(map[*Param]*gorgonia.Node),
	}
	x := p.input("x", t.x)
	h := x
	for i, l := range n.layers {
		gl, ok := l.(graphLayer)
		if !ok {
			return nil, nil, nil, errors.Errorf("%s: layer %d (%T) has no graph form", n.name, i, l)
		}
		var err error
		if h, err = gl.build(p, i, h); err != nil {
			return nil, nil, nil, errors.Wrapf(err, "%s: layer %d", n.name, i)
		}
	}
	return p, x, h, nil
}

// graphLayer is implemented by layers that can emit themselves into an
// expression graph.
type graphLayer interface {
	build(p *graphPass, i int, x *gorgonia.Node) (*gorgonia.Node, error)
}

// graphPass is one construction of a network's expression graph.
type graphPass struct {
	g      *gorgonia.ExprGraph
	trace  *Trace
	replay bool
	nodes  map[*Param]*gorgonia.Node
	order  []*Param
	// after runs once the graph has been evaluated, before results are read.
	after []func() error
}

func (p *graphPass) input(name string, m *mat.Dense) *gorgonia.Node {
	r, c := m.Dims()
	return gorgonia.NewMatrix(p.g, tensor.Float64,
		gorgonia.WithShape(r, c),
		gorgonia.WithName(name),
		gorgonia.WithValue(tensorOf(m)),
	)
}

func (p *graphPass) param(prm *Param) *gorgonia.Node {
	if n, ok := p.nodes[prm]; ok {
		return n
	}
	n := p.input(prm.Name, prm.Value)
	p.nodes[prm] = n
	p.order = append(p.order, prm)
	return n
}

func (p *graphPass) run(read func() error) error {
	vm := gorgonia.NewTapeMachine(p.g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return errors.Wrap(err, "run graph")
	}
	for _, f := range p.after {
		if err := f(); err != nil {
			return err
		}
	}
	return read()
}

// tensorOf copies m into a fresh row-major tensor.
func tensorOf(m *mat.Dense) *tensor.Dense {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return tensor.New(tensor.WithShape(r, c), tensor.WithBacking(data))
}

// valuesOf flattens a graph value. Scalars come back as one-element slices.
func valuesOf(v gorgonia.Value) ([]float64, error) {
	switch v := v.(type) {
	case *gorgonia.F64:
		return []float64{float64(*v)}, nil
	case tensor.Tensor:
		switch d := v.Data().(type) {
		case []float64:
			return append([]float64(nil), d...), nil
		case float64:
			return []float64{d}, nil
		}
	}
	return nil, errors.Errorf("nn: unexpected graph value %T", v)
}

// denseOf reads v as a rows x cols matrix.
func denseOf(v gorgonia.Value, rows, cols int) (*mat.Dense, error) {
	data, err := valuesOf(v)
	if err != nil {
		return nil, err
	}
	if len(data) != rows*cols {
		return nil, errors.Wrapf(ErrShapeMismatch, "graph value has %d elements, want %dx%d", len(data), rows, cols)
	}
	return mat.NewDense(rows, cols, data), nil
}

func (d *Dense) build(p *graphPass, _ int, x *gorgonia.Node) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, p.param(d.W))
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(xw, p.param(d.B), nil, []byte{0})
}

func (l LeakyReLU) build(_ *graphPass, _ int, x *gorgonia.Node) (*gorgonia.Node, error) {
	pos, err := gorgonia.Rectify(x)
	if err != nil {
		return nil, err
	}
	neg, err := gorgonia.Sub(x, pos)
	if err != nil {
		return nil, err
	}
	scaled, err := gorgonia.Mul(neg, gorgonia.NewConstant(l.Alpha))
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(pos, scaled)
}

func (Tanh) build(_ *graphPass, _ int, x *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.Tanh(x)
}

func (Sigmoid) build(_ *graphPass, _ int, x *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.Sigmoid(x)
}

func (d *Dropout) build(p *graphPass, i int, x *gorgonia.Node) (*gorgonia.Node, error) {
	if !p.trace.train || d.Rate <= 0 {
		return x, nil
	}
	var mask *mat.Dense
	if p.replay {
		mask = p.trace.caches[i].(*mat.Dense)
	} else {
		s := x.Shape()
		mask = d.draw(s[0], s[1])
		p.trace.caches[i] = mask
	}
	return gorgonia.HadamardProd(x, p.input(fmt.Sprintf("dropout.%d", i), mask))
}

func (bn *BatchNorm) build(p *graphPass, _ int, x *gorgonia.Node) (*gorgonia.Node, error) {
	row := tensor.Shape{1, bn.dim}
	var xhat *gorgonia.Node
	if p.trace.train {
		mean, err := gorgonia.Mean(x, 0)
		if err != nil {
			return nil, err
		}
		meanRow, err := gorgonia.Reshape(mean, row)
		if err != nil {
			return nil, err
		}
		centered, err := gorgonia.BroadcastSub(x, meanRow, nil, []byte{0})
		if err != nil {
			return nil, err
		}
		sq, err := gorgonia.Square(centered)
		if err != nil {
			return nil, err
		}
		variance, err := gorgonia.Mean(sq, 0)
		if err != nil {
			return nil, err
		}
		varRow, err := gorgonia.Reshape(variance, row)
		if err != nil {
			return nil, err
		}
		shifted, err := gorgonia.Add(varRow, gorgonia.NewConstant(bn.Epsilon))
		if err != nil {
			return nil, err
		}
		std, err := gorgonia.Sqrt(shifted)
		if err != nil {
			return nil, err
		}
		if xhat, err = gorgonia.BroadcastHadamardDiv(centered, std, nil, []byte{0}); err != nil {
			return nil, err
		}
		if !p.replay {
			p.after = append(p.after, func() error {
				m, err := valuesOf(mean.Value())
				if err != nil {
					return err
				}
				v, err := valuesOf(variance.Value())
				if err != nil {
					return err
				}
				bn.fold(m, v)
				return nil
			})
		}
	} else {
		prefix := strings.TrimSuffix(bn.Gamma.Name, ".gamma")
		mean := mat.NewDense(1, bn.dim, append([]float64(nil), bn.RunningMean...))
		invStd := mat.NewDense(1, bn.dim, nil)
		for j, v := range bn.RunningVar {
			invStd.Set(0, j, 1/math.Sqrt(v+bn.Epsilon))
		}
		centered, err := gorgonia.BroadcastSub(x, p.input(prefix+".mean", mean), nil, []byte{0})
		if err != nil {
			return nil, err
		}
		if xhat, err = gorgonia.BroadcastHadamardProd(centered, p.input(prefix+".invstd", invStd), nil, []byte{0}); err != nil {
			return nil, err
		}
	}
	scaled, err := gorgonia.BroadcastHadamardProd(xhat, p.param(bn.Gamma), nil, []byte{0})
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(scaled, p.param(bn.Beta), nil, []byte{0})
}
