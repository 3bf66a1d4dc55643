package gan

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"featureforge/internal/nn"
)

func smallConfig() Config {
	return Config{
		LatentDim:           8,
		Width:               4,
		Height:              4,
		GeneratorHidden:     []int{16},
		DiscriminatorHidden: []int{16},
		LeakySlope:          0.2,
		DropoutRate:         0.3,
		LearningRate:        1e-3,
		Seed:                11,
	}
}

func mustSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

// knownBatch returns n checkerboard images with values in {-1, 1}.
func knownBatch(n, w, h int) *mat.Dense {
	b := mat.NewDense(n, w*h, nil)
	for i := 0; i < n; i++ {
		row := b.RawRowView(i)
		for p := range row {
			x, y := p%w, p/w
			if (x+y+i)%2 == 0 {
				row[p] = 1
			} else {
				row[p] = -1
			}
		}
	}
	return b
}

func TestGeneratorOutputShape(t *testing.T) {
	s := mustSession(t, smallConfig())
	for _, b := range []int{1, 3, 32} {
		out, _, err := s.Generator.Generate(s.Latent(b), true)
		if err != nil {
			t.Fatalf("Generate(%d): %v", b, err)
		}
		rows, cols := out.Dims()
		if rows != b || cols != 16 {
			t.Fatalf("batch %d: got %dx%d, want %dx16", b, rows, cols, b)
		}
		for _, v := range out.RawMatrix().Data {
			if v < -1 || v > 1 {
				t.Fatalf("generator output %f outside [-1, 1]", v)
			}
		}
	}
}

func TestGeneratorRejectsWrongLatentWidth(t *testing.T) {
	s := mustSession(t, smallConfig())
	_, _, err := s.Generator.Generate(mat.NewDense(2, 9, nil), false)
	if !errors.Is(err, nn.ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch, got %v", err)
	}
}

func TestDiscriminatorScoresInUnitInterval(t *testing.T) {
	s := mustSession(t, smallConfig())
	rng := rand.New(rand.NewSource(4))
	x := mat.NewDense(8, 16, nil)
	raw := x.RawMatrix().Data
	for i := range raw {
		raw[i] = (rng.Float64()*2 - 1) * 1e3
	}
	for _, train := range []bool{true, false} {
		score, _, err := s.Discriminator.Score(x, train)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		for _, v := range score.RawMatrix().Data {
			if v < 0 || v > 1 {
				t.Fatalf("score %f outside [0, 1]", v)
			}
		}
	}
}

func equalParams(a, b []*mat.Dense) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !mat.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func TestDiscriminatorStepLeavesGeneratorUnchanged(t *testing.T) {
	s := mustSession(t, smallConfig())
	genBefore := nn.Snapshot(s.Generator)
	discBefore := nn.Snapshot(s.Discriminator)

	if _, err := s.StepDiscriminator(knownBatch(8, 4, 4)); err != nil {
		t.Fatalf("StepDiscriminator: %v", err)
	}
	if !equalParams(genBefore, nn.Snapshot(s.Generator)) {
		t.Fatalf("discriminator update changed generator parameters")
	}
	if equalParams(discBefore, nn.Snapshot(s.Discriminator)) {
		t.Fatalf("discriminator update did not change discriminator parameters")
	}
}

func TestGeneratorStepLeavesDiscriminatorUnchanged(t *testing.T) {
	s := mustSession(t, smallConfig())
	genBefore := nn.Snapshot(s.Generator)
	discBefore := nn.Snapshot(s.Discriminator)

	if _, err := s.StepGenerator(8); err != nil {
		t.Fatalf("StepGenerator: %v", err)
	}
	if !equalParams(discBefore, nn.Snapshot(s.Discriminator)) {
		t.Fatalf("generator update changed discriminator parameters")
	}
	if equalParams(genBefore, nn.Snapshot(s.Generator)) {
		t.Fatalf("generator update did not change generator parameters")
	}
}

func TestStepIsDeterministic(t *testing.T) {
	run := func() []StepResult {
		s := mustSession(t, smallConfig())
		batch := knownBatch(8, 4, 4)
		var out []StepResult
		for i := 0; i < 5; i++ {
			r, err := s.Step(batch)
			if err != nil {
				t.Fatalf("Step: %v", err)
			}
			out = append(out, r)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("step %d diverged: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSingleStepLossesFiniteNonNegative(t *testing.T) {
	cfg := Config{
		LatentDim:           100,
		Width:               28,
		Height:              28,
		GeneratorHidden:     []int{128},
		DiscriminatorHidden: []int{128},
		LeakySlope:          0.2,
		DropoutRate:         0.3,
		LearningRate:        1e-4,
		Seed:                1,
	}
	s := mustSession(t, cfg)
	r, err := s.Step(knownBatch(64, 28, 28))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	for name, v := range map[string]float64{"disc": r.DiscLoss, "gen": r.GenLoss} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			t.Fatalf("%s loss %f is not a finite non-negative scalar", name, v)
		}
	}
}

func TestGenerateImagesRequestsLatentBatch(t *testing.T) {
	cfg := smallConfig()
	cfg.LatentDim = 100
	s := mustSession(t, cfg)

	var gotRows, gotCols int
	draw := s.Noise
	s.Noise = func(rows, cols int) *mat.Dense {
		gotRows, gotCols = rows, cols
		return draw(rows, cols)
	}

	images, err := s.GenerateImages(16)
	if err != nil {
		t.Fatalf("GenerateImages: %v", err)
	}
	if gotRows != 16 || gotCols != 100 {
		t.Fatalf("latent batch %dx%d, want 16x100", gotRows, gotCols)
	}
	if len(images) != 16 {
		t.Fatalf("got %d images, want 16", len(images))
	}
	for i, img := range images {
		if img.Width != 4 || img.Height != 4 || len(img.Pix) != 16 {
			t.Fatalf("image %d has shape %dx%d/%d", i, img.Width, img.Height, len(img.Pix))
		}
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.DropoutRate = 1
	if _, err := NewSession(cfg); err == nil {
		t.Fatalf("expected error for dropout rate 1")
	}
}

func TestEnginesProduceSameLosses(t *testing.T) {
	run := func(e nn.Engine) []StepResult {
		cfg := smallConfig()
		cfg.Engine = e
		s := mustSession(t, cfg)
		batch := knownBatch(8, 4, 4)
		var out []StepResult
		for i := 0; i < 3; i++ {
			r, err := s.Step(batch)
			if err != nil {
				t.Fatalf("%s step: %v", e, err)
			}
			out = append(out, r)
		}
		return out
	}
	graph, dense := run(nn.EngineGraph), run(nn.EngineDense)
	for i := range graph {
		if math.Abs(graph[i].DiscLoss-dense[i].DiscLoss) > 1e-6 || math.Abs(graph[i].GenLoss-dense[i].GenLoss) > 1e-6 {
			t.Fatalf("step %d: graph %+v dense %+v", i, graph[i], dense[i])
		}
	}
}

func TestUnknownEngine(t *testing.T) {
	cfg := smallConfig()
	cfg.Engine = "tape"
	if _, err := NewSession(cfg); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}
