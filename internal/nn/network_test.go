package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func lossOf(t *testing.T, net Trainable, x *mat.Dense) float64 {
	t.Helper()
	y, _, err := net.Forward(x, true)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	loss, _, err := BinaryCrossEntropy(y, 1, ReduceMean)
	if err != nil {
		t.Fatalf("bce: %v", err)
	}
	return loss
}

// backprop runs one forward/backward pass of the mean BCE against label 1
// and returns dx.
func backprop(t *testing.T, net Trainable, x *mat.Dense) *mat.Dense {
	t.Helper()
	net.ZeroGrad()
	y, trace, err := net.Forward(x, true)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	_, dy, err := BinaryCrossEntropy(y, 1, ReduceMean)
	if err != nil {
		t.Fatalf("bce: %v", err)
	}
	dx, err := net.Backward(trace, dy)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	return dx
}

func TestNetworkGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	net := NewNetwork("check", 3,
		NewDense("h", 3, 4, rng),
		Tanh{},
		NewDense("o", 4, 1, rng),
		Sigmoid{},
	)
	x := mat.NewDense(2, 3, []float64{0.1, -0.2, 0.3, 0.5, 0.4, -0.6})

	backprop(t, net, x)

	const h = 1e-6
	for _, p := range net.Params() {
		raw := p.Value.RawMatrix().Data
		grad := p.Grad.RawMatrix().Data
		for i := range raw {
			orig := raw[i]
			raw[i] = orig + h
			up := lossOf(t, net, x)
			raw[i] = orig - h
			down := lossOf(t, net, x)
			raw[i] = orig
			numeric := (up - down) / (2 * h)
			if math.Abs(numeric-grad[i]) > 1e-5 {
				t.Fatalf("%s[%d]: analytic %g numeric %g", p.Name, i, grad[i], numeric)
			}
		}
	}
}

func TestBatchNormGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	net := NewNetwork("bn", 2,
		NewDense("h", 2, 3, rng),
		NewBatchNorm("bn", 3),
		LeakyReLU{Alpha: 0.2},
		NewDense("o", 3, 1, rng),
		Sigmoid{},
	)
	x := mat.NewDense(4, 2, []float64{0.2, 0.1, -0.4, 0.9, 0.7, -0.3, 0.05, 0.6})

	dx := backprop(t, net, x)

	const h = 1e-6
	raw := x.RawMatrix().Data
	for i := range raw {
		orig := raw[i]
		raw[i] = orig + h
		up := lossOf(t, net, x)
		raw[i] = orig - h
		down := lossOf(t, net, x)
		raw[i] = orig
		numeric := (up - down) / (2 * h)
		if got := dx.RawMatrix().Data[i]; math.Abs(numeric-got) > 1e-5 {
			t.Fatalf("dx[%d]: analytic %g numeric %g", i, got, numeric)
		}
	}
}

func TestForwardRejectsWrongWidth(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	net := NewNetwork("g", 4, NewDense("d", 4, 2, rng))
	_, _, err := net.Forward(mat.NewDense(3, 5, nil), false)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestTracesAreIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	net := NewNetwork("d", 2, NewDense("d", 2, 1, rng), Sigmoid{})
	a := mat.NewDense(1, 2, []float64{1, 2})
	b := mat.NewDense(1, 2, []float64{-3, 0.5})

	_, ta, _ := net.Forward(a, true)
	_, tb, _ := net.Forward(b, true)

	net.ZeroGrad()
	net.Backward(ta, mat.NewDense(1, 1, []float64{1}))
	gradA := mat.DenseCopyOf(net.Params()[0].Grad)

	net.ZeroGrad()
	net.Backward(tb, mat.NewDense(1, 1, []float64{1}))
	gradB := net.Params()[0].Grad

	if mat.Equal(gradA, gradB) {
		t.Fatalf("second forward pass overwrote the first trace")
	}
}

func TestBatchNormInferenceUsesRunningStats(t *testing.T) {
	bn := NewBatchNorm("bn", 1)
	x := mat.NewDense(2, 1, []float64{10, 10})
	y, _ := bn.Forward(x, false)
	want := 10 / math.Sqrt(1+bn.Epsilon)
	if got := y.At(0, 0); math.Abs(got-want) > 1e-9 {
		t.Fatalf("inference output %f, want %f", got, want)
	}
	if bn.RunningMean[0] != 0 {
		t.Fatalf("inference pass changed running mean")
	}
	bn.Forward(x, true)
	if bn.RunningMean[0] == 0 {
		t.Fatalf("training pass did not update running mean")
	}
}

func TestDropoutIsIdentityAtInference(t *testing.T) {
	d := NewDropout(0.5, rand.New(rand.NewSource(1)))
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	y, _ := d.Forward(x, false)
	if !mat.Equal(x, y) {
		t.Fatalf("dropout changed inference output")
	}
}

func TestAdamReducesLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	net := NewNetwork("fit", 2, NewDense("d", 2, 1, rng), Sigmoid{})
	opt := NewAdam(0.05, 0, 0, 0)
	x := mat.NewDense(4, 2, []float64{1, 0, 0, 1, 1, 1, 0.5, 0.5})

	first := lossOf(t, net, x)
	for i := 0; i < 50; i++ {
		backprop(t, net, x)
		if err := opt.Step(net.Params()); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if last := lossOf(t, net, x); last >= first {
		t.Fatalf("expected loss to decrease; first=%f last=%f", first, last)
	}
}

func TestBinaryCrossEntropyReduction(t *testing.T) {
	p := mat.NewDense(2, 1, []float64{0.5, 0.5})
	lossMean, gMean, err := BinaryCrossEntropy(p, 1, ReduceMean)
	if err != nil {
		t.Fatalf("bce: %v", err)
	}
	lossSum, gSum, err := BinaryCrossEntropy(p, 1, ReduceSum)
	if err != nil {
		t.Fatalf("bce: %v", err)
	}
	if lossMean != lossSum {
		t.Fatalf("reported loss should be the per-sample mean for both reductions")
	}
	if math.Abs(gSum.At(0, 0)-2*gMean.At(0, 0)) > 1e-12 {
		t.Fatalf("sum gradient %f is not twice mean gradient %f", gSum.At(0, 0), gMean.At(0, 0))
	}
	if math.Abs(lossMean-math.Ln2) > 1e-9 {
		t.Fatalf("loss %f, want ln 2", lossMean)
	}
}

func TestBinaryCrossEntropyGradient(t *testing.T) {
	p := mat.NewDense(1, 2, []float64{0.25, 0.8})
	_, g, err := BinaryCrossEntropy(p, 0, ReduceSum)
	if err != nil {
		t.Fatalf("bce: %v", err)
	}
	// d/dp -log(1-p) = 1/(1-p)
	for j, want := range []float64{1 / 0.75, 1 / 0.2} {
		if got := g.At(0, j); math.Abs(got-want) > 1e-9 {
			t.Fatalf("grad[%d]=%f want %f", j, got, want)
		}
	}
}
