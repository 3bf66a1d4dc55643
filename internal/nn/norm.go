package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const (
	defaultBNMomentum = 0.99
	defaultBNEpsilon  = 1e-3
)

// BatchNorm normalises each feature over the batch dimension.
//
// In training mode the batch statistics are used and folded into the running
// estimates; in inference mode the running estimates are used. This is the
// only train/inference divergence in the networks built here.
type BatchNorm struct {
	dim         int
	Momentum    float64
	Epsilon     float64
	Gamma       *Param
	Beta        *Param
	RunningMean []float64
	RunningVar  []float64
}

// NewBatchNorm returns a batch-normalisation layer for dim features.
func NewBatchNorm(name string, dim int) *BatchNorm {
	bn := &BatchNorm{
		dim:         dim,
		Momentum:    defaultBNMomentum,
		Epsilon:     defaultBNEpsilon,
		Gamma:       newParam(name+".gamma", 1, dim),
		Beta:        newParam(name+".beta", 1, dim),
		RunningMean: make([]float64, dim),
		RunningVar:  make([]float64, dim),
	}
	for j := 0; j < dim; j++ {
		bn.Gamma.Value.Set(0, j, 1)
		bn.RunningVar[j] = 1
	}
	return bn
}

// fold moves the running estimates towards one batch's statistics.
func (bn *BatchNorm) fold(mean, variance []float64) {
	for j := range bn.RunningMean {
		bn.RunningMean[j] = bn.Momentum*bn.RunningMean[j] + (1-bn.Momentum)*mean[j]
		bn.RunningVar[j] = bn.Momentum*bn.RunningVar[j] + (1-bn.Momentum)*variance[j]
	}
}

type bnCache struct {
	xhat   *mat.Dense
	invStd []float64
	train  bool
}

// Forward normalises x with batch statistics when train is set and with
// the running estimates otherwise.
func (bn *BatchNorm) Forward(x *mat.Dense, train bool) (*mat.Dense, any) {
	rows, cols := x.Dims()
	mean := make([]float64, cols)
	variance := make([]float64, cols)
	if train {
		for i := 0; i < rows; i++ {
			for j, v := range x.RawRowView(i) {
				mean[j] += v
			}
		}
		for j := range mean {
			mean[j] /= float64(rows)
		}
		for i := 0; i < rows; i++ {
			for j, v := range x.RawRowView(i) {
				d := v - mean[j]
				variance[j] += d * d
			}
		}
		for j := range variance {
			variance[j] /= float64(rows)
		}
		bn.fold(mean, variance)
	} else {
		copy(mean, bn.RunningMean)
		copy(variance, bn.RunningVar)
	}

	invStd := make([]float64, cols)
	for j := range invStd {
		invStd[j] = 1 / math.Sqrt(variance[j]+bn.Epsilon)
	}

	gamma := bn.Gamma.Value.RawRowView(0)
	beta := bn.Beta.Value.RawRowView(0)
	xhat := mat.NewDense(rows, cols, nil)
	y := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		xr, hr, yr := x.RawRowView(i), xhat.RawRowView(i), y.RawRowView(i)
		for j := range xr {
			hr[j] = (xr[j] - mean[j]) * invStd[j]
			yr[j] = gamma[j]*hr[j] + beta[j]
		}
	}
	return y, &bnCache{xhat: xhat, invStd: invStd, train: train}
}

// Backward accumulates the gamma and beta gradients and returns dx.
func (bn *BatchNorm) Backward(cache any, dy *mat.Dense) *mat.Dense {
	c := cache.(*bnCache)
	rows, cols := dy.Dims()
	gamma := bn.Gamma.Value.RawRowView(0)
	gGamma := bn.Gamma.Grad.RawRowView(0)
	gBeta := bn.Beta.Grad.RawRowView(0)

	sumDy := make([]float64, cols)
	sumDyXhat := make([]float64, cols)
	for i := 0; i < rows; i++ {
		dr, hr := dy.RawRowView(i), c.xhat.RawRowView(i)
		for j := range dr {
			sumDy[j] += dr[j]
			sumDyXhat[j] += dr[j] * hr[j]
		}
	}
	for j := 0; j < cols; j++ {
		gBeta[j] += sumDy[j]
		gGamma[j] += sumDyXhat[j]
	}

	dx := mat.NewDense(rows, cols, nil)
	n := float64(rows)
	for i := 0; i < rows; i++ {
		dr, hr, xr := dy.RawRowView(i), c.xhat.RawRowView(i), dx.RawRowView(i)
		for j := range dr {
			if !c.train {
				xr[j] = dr[j] * gamma[j] * c.invStd[j]
				continue
			}
			// dxhat = dy*gamma, so the batch sums scale by gamma as well.
			xr[j] = gamma[j] * c.invStd[j] / n * (n*dr[j] - sumDy[j] - hr[j]*sumDyXhat[j])
		}
	}
	return dx
}

// Params returns gamma and beta.
func (bn *BatchNorm) Params() []*Param { return []*Param{bn.Gamma, bn.Beta} }

// OutDim returns in. It panics if in is not the normalised width.
func (bn *BatchNorm) OutDim(in int) int {
	if in != bn.dim {
		panic("nn: batchnorm input mismatch")
	}
	return in
}

// Dropout zeroes a Rate fraction of activations during training and rescales
// the rest. It is the identity in inference mode.
type Dropout struct {
	Rate float64
	rng  *rand.Rand
}

// NewDropout returns a dropout layer drawing its masks from rng.
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng}
}

// draw returns a scaled keep mask; kept entries hold 1/(1-Rate).
func (d *Dropout) draw(rows, cols int) *mat.Dense {
	keep := 1 - d.Rate
	mask := mat.NewDense(rows, cols, nil)
	raw := mask.RawMatrix().Data
	for i := range raw {
		if d.rng.Float64() < keep {
			raw[i] = 1 / keep
		}
	}
	return mask
}

// Forward multiplies x by a fresh mask in training mode.
func (d *Dropout) Forward(x *mat.Dense, train bool) (*mat.Dense, any) {
	if !train || d.Rate <= 0 {
		return x, nil
	}
	mask := d.draw(x.Dims())
	var y mat.Dense
	y.MulElem(x, mask)
	return &y, mask
}

// Backward applies the forward mask to dy.
func (d *Dropout) Backward(cache any, dy *mat.Dense) *mat.Dense {
	if cache == nil {
		return dy
	}
	mask := cache.(*mat.Dense)
	var dx mat.Dense
	dx.MulElem(dy, mask)
	return &dx
}

// Params returns nil.
func (d *Dropout) Params() []*Param { return nil }

// OutDim returns in.
func (d *Dropout) OutDim(in int) int { return in }
