package gan

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"featureforge/internal/nn"
)

// Generator maps latent vectors to samples in [-1, 1].
type Generator struct {
	nn.Trainable
}

// NewGenerator stacks Dense -> BatchNorm -> LeakyReLU per hidden width and
// finishes with a tanh projection to sampleDim.
func NewGenerator(engine nn.Engine, latentDim int, hidden []int, sampleDim int, slope float64, rng *rand.Rand) (*Generator, error) {
	var layers []nn.Layer
	prev := latentDim
	for i, h := range hidden {
		name := fmt.Sprintf("gen.%d", i)
		layers = append(layers,
			nn.NewDense(name, prev, h, rng),
			nn.NewBatchNorm(name+".bn", h),
			nn.LeakyReLU{Alpha: slope},
		)
		prev = h
	}
	layers = append(layers, nn.NewDense("gen.out", prev, sampleDim, rng), nn.Tanh{})
	net, err := nn.NewTrainable(engine, "generator", latentDim, layers...)
	if err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	return &Generator{Trainable: net}, nil
}

// Generate produces one sample per latent row.
func (g *Generator) Generate(z *mat.Dense, train bool) (*mat.Dense, *nn.Trace, error) {
	out, trace, err := g.Forward(z, train)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Generator]")
	}
	return out, trace, nil
}

// Discriminator maps samples to the probability that they are real.
type Discriminator struct {
	nn.Trainable
}

// NewDiscriminator stacks Dense -> LeakyReLU -> Dropout per hidden width and
// finishes with a single sigmoid unit.
func NewDiscriminator(engine nn.Engine, sampleDim int, hidden []int, slope, dropout float64, rng *rand.Rand) (*Discriminator, error) {
	var layers []nn.Layer
	prev := sampleDim
	for i, h := range hidden {
		layers = append(layers,
			nn.NewDense(fmt.Sprintf("disc.%d", i), prev, h, rng),
			nn.LeakyReLU{Alpha: slope},
		)
		if dropout > 0 {
			layers = append(layers, nn.NewDropout(dropout, rng))
		}
		prev = h
	}
	layers = append(layers, nn.NewDense("disc.out", prev, 1, rng), nn.Sigmoid{})
	net, err := nn.NewTrainable(engine, "discriminator", sampleDim, layers...)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	return &Discriminator{Trainable: net}, nil
}

// Score returns a (B x 1) matrix of realism scores in [0, 1].
func (d *Discriminator) Score(x *mat.Dense, train bool) (*mat.Dense, *nn.Trace, error) {
	out, trace, err := d.Forward(x, train)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Discriminator]")
	}
	return out, trace, nil
}
