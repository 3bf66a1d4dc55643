package gan

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"featureforge/internal/nn"
)

// Config captures the network shapes and optimizer settings of a session.
type Config struct {
	LatentDim           int
	Width               int
	Height              int
	GeneratorHidden     []int
	DiscriminatorHidden []int
	LeakySlope          float64
	DropoutRate         float64
	LearningRate        float64
	Beta1               float64
	Beta2               float64
	Epsilon             float64
	Seed                int64
	// Engine selects the differentiation backend; empty means nn.EngineGraph.
	Engine nn.Engine
}

// SampleDim is the flattened width of one image.
func (c Config) SampleDim() int { return c.Width * c.Height }

// Validate reports configurations that cannot build a session.
func (c Config) Validate() error {
	if c.LatentDim <= 0 {
		return errors.Errorf("gan: latent dim must be > 0 (got %d)", c.LatentDim)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("gan: image size must be > 0 (got %dx%d)", c.Width, c.Height)
	}
	for _, h := range append(append([]int(nil), c.GeneratorHidden...), c.DiscriminatorHidden...) {
		if h <= 0 {
			return errors.Errorf("gan: hidden widths must be > 0 (got %d)", h)
		}
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return errors.Errorf("gan: dropout must be in [0, 1) (got %g)", c.DropoutRate)
	}
	return nil
}

// StepResult holds the losses reported by one training step.
type StepResult struct {
	DiscLoss float64
	GenLoss  float64
}

// Image is one generated sample reshaped to its image dimensions. Pix is row
// major with values in [-1, 1].
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

// Session owns both networks, their optimizers and the latent noise source.
type Session struct {
	cfg           Config
	Generator     *Generator
	Discriminator *Discriminator
	genOpt        *nn.Adam
	discOpt       *nn.Adam
	rng           *rand.Rand

	// DiscReduction is applied to the per-sample discriminator losses before
	// differentiation; GenReduction likewise for the generator.
	DiscReduction nn.Reduction
	GenReduction  nn.Reduction

	// Noise draws a (rows x cols) latent batch.
	Noise func(rows, cols int) *mat.Dense
}

// NewSession builds fresh networks from cfg. Two sessions built from the
// same cfg start from identical parameters and draw identical noise.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LeakySlope == 0 {
		cfg.LeakySlope = 0.2
	}
	initRng := rand.New(rand.NewSource(cfg.Seed))
	gen, err := NewGenerator(cfg.Engine, cfg.LatentDim, cfg.GeneratorHidden, cfg.SampleDim(), cfg.LeakySlope, initRng)
	if err != nil {
		return nil, err
	}
	disc, err := NewDiscriminator(cfg.Engine, cfg.SampleDim(), cfg.DiscriminatorHidden, cfg.LeakySlope, cfg.DropoutRate, initRng)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:           cfg,
		Generator:     gen,
		Discriminator: disc,
		genOpt:        nn.NewAdam(cfg.LearningRate, cfg.Beta1, cfg.Beta2, cfg.Epsilon),
		discOpt:       nn.NewAdam(cfg.LearningRate, cfg.Beta1, cfg.Beta2, cfg.Epsilon),
		rng:           rand.New(rand.NewSource(cfg.Seed + 1)),
		DiscReduction: nn.ReduceSum,
		GenReduction:  nn.ReduceMean,
	}
	s.Noise = s.normal
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() Config { return s.cfg }

func (s *Session) normal(rows, cols int) *mat.Dense {
	z := mat.NewDense(rows, cols, nil)
	raw := z.RawMatrix().Data
	for i := range raw {
		raw[i] = s.rng.NormFloat64()
	}
	return z
}

// Latent draws n standard-normal latent vectors.
func (s *Session) Latent(n int) *mat.Dense {
	return s.Noise(n, s.cfg.LatentDim)
}

// Step runs one discriminator update followed by one generator update.
func (s *Session) Step(batch *mat.Dense) (StepResult, error) {
	dLoss, err := s.StepDiscriminator(batch)
	if err != nil {
		return StepResult{}, err
	}
	rows, _ := batch.Dims()
	gLoss, err := s.StepGenerator(rows)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{DiscLoss: dLoss, GenLoss: gLoss}, nil
}

// StepDiscriminator scores the real batch and a freshly generated batch of
// the same size, then updates the discriminator parameters only. The
// returned loss is the per-sample mean of BCE(real, 1) + BCE(fake, 0).
func (s *Session) StepDiscriminator(batch *mat.Dense) (float64, error) {
	rows, _ := batch.Dims()
	fake, _, err := s.Generator.Generate(s.Latent(rows), true)
	if err != nil {
		return 0, err
	}

	realScore, realTrace, err := s.Discriminator.Score(batch, true)
	if err != nil {
		return 0, err
	}
	fakeScore, fakeTrace, err := s.Discriminator.Score(fake, true)
	if err != nil {
		return 0, err
	}

	realLoss, realGrad, err := nn.BinaryCrossEntropy(realScore, 1, s.DiscReduction)
	if err != nil {
		return 0, err
	}
	fakeLoss, fakeGrad, err := nn.BinaryCrossEntropy(fakeScore, 0, s.DiscReduction)
	if err != nil {
		return 0, err
	}

	s.Discriminator.ZeroGrad()
	if _, err := s.Discriminator.Backward(realTrace, realGrad); err != nil {
		return 0, errors.Wrap(err, "[Discriminator]")
	}
	if _, err := s.Discriminator.Backward(fakeTrace, fakeGrad); err != nil {
		return 0, errors.Wrap(err, "[Discriminator]")
	}
	if err := s.discOpt.Step(s.Discriminator.Params()); err != nil {
		return 0, errors.Wrap(err, "[Discriminator]")
	}
	return realLoss + fakeLoss, nil
}

// StepGenerator generates n fresh samples, scores them against the "real"
// label and updates the generator parameters only.
func (s *Session) StepGenerator(n int) (float64, error) {
	fake, genTrace, err := s.Generator.Generate(s.Latent(n), true)
	if err != nil {
		return 0, err
	}
	score, discTrace, err := s.Discriminator.Score(fake, true)
	if err != nil {
		return 0, err
	}
	loss, grad, err := nn.BinaryCrossEntropy(score, 1, s.GenReduction)
	if err != nil {
		return 0, err
	}

	s.Generator.ZeroGrad()
	dx, err := s.Discriminator.Backward(discTrace, grad)
	if err != nil {
		return 0, errors.Wrap(err, "[Discriminator]")
	}
	if _, err := s.Generator.Backward(genTrace, dx); err != nil {
		return 0, errors.Wrap(err, "[Generator]")
	}
	if err := s.genOpt.Step(s.Generator.Params()); err != nil {
		return 0, errors.Wrap(err, "[Generator]")
	}
	// Discriminator gradients from this pass are never applied.
	s.Discriminator.ZeroGrad()
	return loss, nil
}

// GenerateImages runs the generator in inference mode on n fresh latent
// vectors and reshapes each output to the configured image size.
func (s *Session) GenerateImages(n int) ([]Image, error) {
	if n <= 0 {
		return nil, errors.Errorf("gan: image count must be > 0 (got %d)", n)
	}
	out, _, err := s.Generator.Generate(s.Latent(n), false)
	if err != nil {
		return nil, err
	}
	images := make([]Image, n)
	for i := range images {
		pix := make([]float64, s.cfg.SampleDim())
		copy(pix, out.RawRowView(i))
		images[i] = Image{Width: s.cfg.Width, Height: s.cfg.Height, Pix: pix}
	}
	return images, nil
}
