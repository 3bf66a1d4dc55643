package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layer is one differentiable stage of a Network.
//
// Forward returns the layer output and an opaque cache holding whatever
// Backward needs. Backward adds parameter gradients into Params and returns
// the gradient with respect to the layer input.
type Layer interface {
	Forward(x *mat.Dense, train bool) (*mat.Dense, any)
	Backward(cache any, dy *mat.Dense) *mat.Dense
	Params() []*Param
	OutDim(in int) int
}

// Dense is a fully connected layer y = xW + b.
type Dense struct {
	in, out int
	W       *Param
	B       *Param
}

// NewDense returns a Glorot-initialised dense layer.
func NewDense(name string, in, out int, rng *rand.Rand) *Dense {
	d := &Dense{
		in:  in,
		out: out,
		W:   newParam(name+".w", in, out),
		B:   newParam(name+".b", 1, out),
	}
	glorotUniform(d.W.Value, in, out, rng)
	return d
}

// Forward computes xW + b and caches x.
func (d *Dense) Forward(x *mat.Dense, _ bool) (*mat.Dense, any) {
	rows, _ := x.Dims()
	y := mat.NewDense(rows, d.out, nil)
	y.Mul(x, d.W.Value)
	bias := d.B.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(y.RawRowView(i), bias)
	}
	return y, x
}

// Backward accumulates dW = xᵀdy and db = Σdy and returns dy Wᵀ.
func (d *Dense) Backward(cache any, dy *mat.Dense) *mat.Dense {
	x := cache.(*mat.Dense)
	rows, _ := x.Dims()

	var gw mat.Dense
	gw.Mul(x.T(), dy)
	d.W.Grad.Add(d.W.Grad, &gw)

	gb := d.B.Grad.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(gb, dy.RawRowView(i))
	}

	dx := mat.NewDense(rows, d.in, nil)
	dx.Mul(dy, d.W.Value.T())
	return dx
}

// Params returns the weight and bias.
func (d *Dense) Params() []*Param { return []*Param{d.W, d.B} }

// OutDim returns the layer width. It panics if in does not match the
// width the layer was built for.
func (d *Dense) OutDim(in int) int {
	if in != d.in {
		panic("nn: dense layer input mismatch")
	}
	return d.out
}

// LeakyReLU passes positive inputs and scales negative ones by Alpha.
// Alpha of zero gives a plain ReLU.
type LeakyReLU struct {
	Alpha float64
}

// Forward applies the activation and caches x.
func (l LeakyReLU) Forward(x *mat.Dense, _ bool) (*mat.Dense, any) {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return l.Alpha * v
	}, x)
	return &y, x
}

// Backward scales dy by 1 or Alpha depending on the sign of x.
func (l LeakyReLU) Backward(cache any, dy *mat.Dense) *mat.Dense {
	x := cache.(*mat.Dense)
	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		if x.At(i, j) > 0 {
			return g
		}
		return l.Alpha * g
	}, dy)
	return &dx
}

// Params returns nil.
func (LeakyReLU) Params() []*Param { return nil }

// OutDim returns in.
func (LeakyReLU) OutDim(in int) int { return in }

// Tanh squashes inputs to (-1, 1).
type Tanh struct{}

// Forward applies tanh and caches the output.
func (Tanh) Forward(x *mat.Dense, _ bool) (*mat.Dense, any) {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, x)
	return &y, &y
}

// Backward returns dy * (1 - y²).
func (Tanh) Backward(cache any, dy *mat.Dense) *mat.Dense {
	y := cache.(*mat.Dense)
	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		v := y.At(i, j)
		return g * (1 - v*v)
	}, dy)
	return &dx
}

// Params returns nil.
func (Tanh) Params() []*Param { return nil }

// OutDim returns in.
func (Tanh) OutDim(in int) int { return in }

// Sigmoid maps inputs to [0, 1].
type Sigmoid struct{}

// Forward applies the logistic function and caches the output.
func (Sigmoid) Forward(x *mat.Dense, _ bool) (*mat.Dense, any) {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 { return sigmoid(v) }, x)
	return &y, &y
}

// Backward returns dy * y(1 - y).
func (Sigmoid) Backward(cache any, dy *mat.Dense) *mat.Dense {
	y := cache.(*mat.Dense)
	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		v := y.At(i, j)
		return g * v * (1 - v)
	}, dy)
	return &dx
}

// Params returns nil.
func (Sigmoid) Params() []*Param { return nil }

// OutDim returns in.
func (Sigmoid) OutDim(in int) int { return in }

func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}
