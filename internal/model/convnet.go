package model

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ConvConfig shapes a ConvNet. Inputs are Height x Width patches flattened
// row-major.
type ConvConfig struct {
	Height       int
	Width        int
	Filters      int // default 8
	Classes      int
	BatchSize    int     // default 8
	LearningRate float64 // default 1e-3
	Seed         int64
}

// ConvNet is a single conv/ReLU/max-pool block followed by a softmax layer,
// trained with Adam on a gorgonia graph built once at a fixed batch size.
type ConvNet struct {
	cfg    ConvConfig
	flat   int
	g      *gorgonia.ExprGraph
	x, y   *gorgonia.Node
	cost   *gorgonia.Node
	params convParams
	vm     gorgonia.VM
	solver *gorgonia.AdamSolver
	err    error
}

type convParams struct {
	kernel, fcW, fcB *gorgonia.Node
}

func (p convParams) nodes() gorgonia.Nodes {
	return gorgonia.Nodes{p.kernel, p.fcW, p.fcB}
}

// NewConvNet builds the training graph.
func NewConvNet(cfg ConvConfig) (*ConvNet, error) {
	if cfg.Height < 2 || cfg.Width < 2 {
		return nil, errors.Errorf("model: conv patch %dx%d is smaller than the pooling window", cfg.Height, cfg.Width)
	}
	if cfg.Classes < 2 {
		return nil, errors.Errorf("model: conv net needs at least 2 classes (got %d)", cfg.Classes)
	}
	if cfg.Filters <= 0 {
		cfg.Filters = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 1e-3
	}

	m := &ConvNet{cfg: cfg, g: gorgonia.NewGraph()}
	m.flat = cfg.Filters * (cfg.Height / 2) * (cfg.Width / 2)
	rng := rand.New(rand.NewSource(cfg.Seed))
	m.params = convParams{
		kernel: gorgonia.NewTensor(m.g, tensor.Float64, 4,
			gorgonia.WithShape(cfg.Filters, 1, 3, 3), gorgonia.WithName("conv.kernel"),
			gorgonia.WithValue(uniform(rng, 1.0/3, cfg.Filters, 1, 3, 3))),
		fcW: gorgonia.NewMatrix(m.g, tensor.Float64,
			gorgonia.WithShape(m.flat, cfg.Classes), gorgonia.WithName("fc.w"),
			gorgonia.WithValue(uniform(rng, 1/math.Sqrt(float64(m.flat)), m.flat, cfg.Classes))),
		fcB: gorgonia.NewMatrix(m.g, tensor.Float64,
			gorgonia.WithShape(1, cfg.Classes), gorgonia.WithName("fc.b"),
			gorgonia.WithValue(tensor.New(tensor.WithShape(1, cfg.Classes), tensor.Of(tensor.Float64)))),
	}
	m.x = gorgonia.NewTensor(m.g, tensor.Float64, 4,
		gorgonia.WithShape(cfg.BatchSize, 1, cfg.Height, cfg.Width), gorgonia.WithName("x"))
	m.y = gorgonia.NewMatrix(m.g, tensor.Float64,
		gorgonia.WithShape(cfg.BatchSize, cfg.Classes), gorgonia.WithName("y"))

	prob, err := convForward(m.x, m.params, cfg.BatchSize, m.flat)
	if err != nil {
		return nil, errors.Wrap(err, "model: conv forward")
	}
	if m.cost, err = crossEntropy(prob, m.y); err != nil {
		return nil, errors.Wrap(err, "model: conv cost")
	}
	if _, err := gorgonia.Grad(m.cost, m.params.nodes()...); err != nil {
		return nil, errors.Wrap(err, "model: conv grad")
	}
	m.vm = gorgonia.NewTapeMachine(m.g, gorgonia.BindDualValues(m.params.nodes()...))
	m.solver = gorgonia.NewAdamSolver(gorgonia.WithLearnRate(cfg.LearningRate))
	return m, nil
}

// convForward emits conv(3x3, same) -> ReLU -> maxpool(2x2) -> dense -> softmax.
func convForward(x *gorgonia.Node, p convParams, batch, flat int) (*gorgonia.Node, error) {
	conv, err := gorgonia.Conv2d(x, p.kernel, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, err
	}
	act, err := gorgonia.Rectify(conv)
	if err != nil {
		return nil, err
	}
	pooled, err := gorgonia.MaxPool2D(act, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
	if err != nil {
		return nil, err
	}
	rows, err := gorgonia.Reshape(pooled, tensor.Shape{batch, flat})
	if err != nil {
		return nil, err
	}
	logits, err := gorgonia.Mul(rows, p.fcW)
	if err != nil {
		return nil, err
	}
	if logits, err = gorgonia.BroadcastAdd(logits, p.fcB, nil, []byte{0}); err != nil {
		return nil, err
	}
	return gorgonia.SoftMax(logits)
}

// crossEntropy is the batch mean of -sum(y * log p) over classes.
func crossEntropy(prob, y *gorgonia.Node) (*gorgonia.Node, error) {
	safe, err := gorgonia.Add(prob, gorgonia.NewConstant(1e-12))
	if err != nil {
		return nil, err
	}
	logp, err := gorgonia.Log(safe)
	if err != nil {
		return nil, err
	}
	picked, err := gorgonia.HadamardProd(logp, y)
	if err != nil {
		return nil, err
	}
	perSample, err := gorgonia.Sum(picked, 1)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.Mean(perSample)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(mean)
}

func uniform(rng *rand.Rand, limit float64, shape ...int) *tensor.Dense {
	size := 1
	for _, s := range shape {
		size *= s
	}
	data := make([]float64, size)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// TrainStep runs one epoch of minibatches over batch, wrapping around to
// fill the last one, and returns the mean cost. It returns NaN once an error
// has occurred; see Err.
func (m *ConvNet) TrainStep(batch Batch) float64 {
	if m.err != nil || len(batch.Inputs) == 0 {
		return math.NaN()
	}
	bs, size := m.cfg.BatchSize, m.cfg.Height*m.cfg.Width
	n := len(batch.Inputs)
	total, steps := 0.0, 0
	for start := 0; start < n; start += bs {
		xs := make([]float64, 0, bs*size)
		ys := make([]float64, bs*m.cfg.Classes)
		for j := 0; j < bs; j++ {
			k := (start + j) % n
			in, label := batch.Inputs[k], batch.Labels[k]
			if len(in) != size || label < 0 || label >= m.cfg.Classes {
				m.err = errors.Errorf("model: sample %d has width %d and label %d", k, len(in), label)
				return math.NaN()
			}
			xs = append(xs, in...)
			ys[j*m.cfg.Classes+label] = 1
		}
		cost, err := m.step(xs, ys)
		if err != nil {
			m.err = err
			return math.NaN()
		}
		total += cost
		steps++
	}
	return total / float64(steps)
}

func (m *ConvNet) step(xs, ys []float64) (float64, error) {
	defer m.vm.Reset()
	bs := m.cfg.BatchSize
	if err := gorgonia.Let(m.x, tensor.New(tensor.WithShape(bs, 1, m.cfg.Height, m.cfg.Width), tensor.WithBacking(xs))); err != nil {
		return 0, errors.Wrap(err, "model: bind inputs")
	}
	if err := gorgonia.Let(m.y, tensor.New(tensor.WithShape(bs, m.cfg.Classes), tensor.WithBacking(ys))); err != nil {
		return 0, errors.Wrap(err, "model: bind labels")
	}
	if err := m.vm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "model: conv step")
	}
	cost, err := scalarOf(m.cost.Value())
	if err != nil {
		return 0, err
	}
	if err := m.solver.Step(gorgonia.NodesToValueGrads(m.params.nodes())); err != nil {
		return 0, errors.Wrap(err, "model: adam step")
	}
	return cost, nil
}

// Err reports the first training error, if any.
func (m *ConvNet) Err() error { return m.err }

// Probabilities returns the class distribution for one flattened patch.
func (m *ConvNet) Probabilities(input []float64) ([]float64, error) {
	if len(input) != m.cfg.Height*m.cfg.Width {
		return nil, errors.Errorf("model: patch has %d values, want %d", len(input), m.cfg.Height*m.cfg.Width)
	}
	g := gorgonia.NewGraph()
	p := convParams{
		kernel: clone(g, m.params.kernel, "conv.kernel"),
		fcW:    clone(g, m.params.fcW, "fc.w"),
		fcB:    clone(g, m.params.fcB, "fc.b"),
	}
	data := append([]float64(nil), input...)
	x := gorgonia.NewTensor(g, tensor.Float64, 4,
		gorgonia.WithShape(1, 1, m.cfg.Height, m.cfg.Width), gorgonia.WithName("x"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, 1, m.cfg.Height, m.cfg.Width), tensor.WithBacking(data))))
	prob, err := convForward(x, p, 1, m.flat)
	if err != nil {
		return nil, errors.Wrap(err, "model: conv forward")
	}
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "model: conv predict")
	}
	v, ok := prob.Value().Data().([]float64)
	if !ok {
		return nil, errors.Errorf("model: unexpected output %T", prob.Value())
	}
	return append([]float64(nil), v...), nil
}

// Predict returns the most probable class, or -1 for a malformed patch.
func (m *ConvNet) Predict(input []float64) int {
	probs, err := m.Probabilities(input)
	if err != nil {
		return -1
	}
	best := 0
	for c, p := range probs {
		if p > probs[best] {
			best = c
		}
	}
	return best
}

// clone copies a trained parameter into g as a constant-valued input.
func clone(g *gorgonia.ExprGraph, n *gorgonia.Node, name string) *gorgonia.Node {
	v := n.Value().(tensor.Tensor).Clone().(*tensor.Dense)
	return gorgonia.NodeFromAny(g, v, gorgonia.WithName(name))
}

func scalarOf(v gorgonia.Value) (float64, error) {
	switch v := v.(type) {
	case *gorgonia.F64:
		return float64(*v), nil
	case tensor.Tensor:
		if f, ok := v.Data().(float64); ok {
			return f, nil
		}
		if fs, ok := v.Data().([]float64); ok && len(fs) == 1 {
			return fs[0], nil
		}
	}
	return 0, errors.Errorf("model: unexpected cost value %T", v)
}
