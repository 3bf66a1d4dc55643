package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a GAN training run and the audio
// feature workflow.
type Config struct {
	DataPath            string      `yaml:"data_path"`
	ImageWidth          int         `yaml:"image_width"`
	ImageHeight         int         `yaml:"image_height"`
	ToySamples          int         `yaml:"toy_samples"`
	Steps               int         `yaml:"steps"`
	BatchSize           int         `yaml:"batch_size"`
	LatentDim           int         `yaml:"latent_dim"`
	Seed                int64       `yaml:"seed"`
	LogEvery            int         `yaml:"log_every"`
	NumImages           int         `yaml:"num_images"`
	OutputDir           string      `yaml:"output_dir"`
	GeneratorHidden     []int       `yaml:"generator_hidden"`
	DiscriminatorHidden []int       `yaml:"discriminator_hidden"`
	LeakySlope          float64     `yaml:"leaky_slope"`
	DropoutRate         float64     `yaml:"dropout_rate"`
	LearningRate        float64     `yaml:"learning_rate"`
	Beta1               float64     `yaml:"beta1"`
	Beta2               float64     `yaml:"beta2"`
	Engine              string      `yaml:"engine"`
	Audio               AudioConfig `yaml:"audio"`
}

// AudioConfig captures the feature extraction and classifier knobs.
type AudioConfig struct {
	ShardRoot        string  `yaml:"shard_root"`
	FrameSize        int     `yaml:"frame_size"`
	HopSize          int     `yaml:"hop_size"`
	NumMels          int     `yaml:"num_mels"`
	NumMFCC          int     `yaml:"num_mfcc"`
	FMin             float64 `yaml:"fmin"`
	FMax             float64 `yaml:"fmax"`
	NumClasses       int     `yaml:"num_classes"`
	Epochs           int     `yaml:"epochs"`
	LearningRate     float64 `yaml:"learning_rate"`
	HMMStates        int     `yaml:"hmm_states"`
	HMMIterations    int     `yaml:"hmm_iterations"`
	// PatchFrames of zero disables the conv classifier.
	PatchFrames      int     `yaml:"patch_frames"`
	ConvFilters      int     `yaml:"conv_filters"`
	ConvLearningRate float64 `yaml:"conv_learning_rate"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataPath  string
	Steps     int
	BatchSize int
	LatentDim int
	Seed      int64
	LogEvery  int
	NumImages int
	OutputDir string
	ShardRoot string
	Epochs    int
}

// Default returns the settings of the MNIST-sized demo.
func Default() *Config {
	return &Config{
		ImageWidth:          28,
		ImageHeight:         28,
		ToySamples:          1024,
		Steps:               1000,
		BatchSize:           64,
		LatentDim:           100,
		Seed:                42,
		LogEvery:            100,
		NumImages:           16,
		GeneratorHidden:     []int{256, 512},
		DiscriminatorHidden: []int{512, 256},
		LeakySlope:          0.2,
		DropoutRate:         0.3,
		LearningRate:        1e-4,
		Beta1:               0.9,
		Beta2:               0.999,
		Engine:              "graph",
		Audio: AudioConfig{
			FrameSize:        512,
			HopSize:          128,
			NumMels:          40,
			NumMFCC:          13,
			Epochs:           50,
			LearningRate:     0.05,
			HMMStates:        3,
			HMMIterations:    20,
			PatchFrames:      32,
			ConvFilters:      8,
			ConvLearningRate: 0.005,
		},
	}
}

// Load reads a Config from YAML on top of Default and validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg, err := parse(f)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataPath != "" {
		c.DataPath = o.DataPath
	}
	if o.Steps > 0 {
		c.Steps = o.Steps
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LatentDim > 0 {
		c.LatentDim = o.LatentDim
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.NumImages > 0 {
		c.NumImages = o.NumImages
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.ShardRoot != "" {
		c.Audio.ShardRoot = o.ShardRoot
	}
	if o.Epochs > 0 {
		c.Audio.Epochs = o.Epochs
	}
}

// Validate verifies the GAN settings are runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Steps <= 0 {
		return errors.Errorf("steps must be > 0 (got %d)", c.Steps)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.LatentDim <= 0 {
		return errors.Errorf("latent_dim must be > 0 (got %d)", c.LatentDim)
	}
	if c.ImageWidth <= 0 || c.ImageHeight <= 0 {
		return errors.Errorf("image size must be > 0 (got %dx%d)", c.ImageWidth, c.ImageHeight)
	}
	if c.DataPath == "" && c.ToySamples <= 0 {
		return errors.New("either data_path or toy_samples must be set")
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return errors.Errorf("dropout_rate must be in [0, 1) (got %g)", c.DropoutRate)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	switch c.Engine {
	case "", "graph", "dense":
	default:
		return errors.Errorf("engine must be graph or dense (got %q)", c.Engine)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 100
	}
	if c.NumImages <= 0 {
		c.NumImages = 16
	}
	return nil
}

// Validate verifies the audio settings are runnable.
func (a *AudioConfig) Validate() error {
	if a.ShardRoot == "" {
		return errors.New("audio.shard_root must be set")
	}
	if a.FrameSize <= 0 || a.HopSize <= 0 {
		return errors.Errorf("audio frame/hop must be > 0 (got %d/%d)", a.FrameSize, a.HopSize)
	}
	if a.NumMels < 2 {
		return errors.Errorf("audio.num_mels must be >= 2 (got %d)", a.NumMels)
	}
	if a.NumMFCC <= 0 || a.NumMFCC > a.NumMels {
		return errors.Errorf("audio.num_mfcc must be in [1, num_mels] (got %d, num_mels %d)", a.NumMFCC, a.NumMels)
	}
	if a.Epochs <= 0 {
		return errors.Errorf("audio.epochs must be > 0 (got %d)", a.Epochs)
	}
	if a.HMMStates <= 0 {
		return errors.Errorf("audio.hmm_states must be > 0 (got %d)", a.HMMStates)
	}
	if a.PatchFrames < 0 || a.PatchFrames == 1 {
		return errors.Errorf("audio.patch_frames must be 0 or >= 2 (got %d)", a.PatchFrames)
	}
	if a.HMMIterations <= 0 {
		a.HMMIterations = 20
	}
	return nil
}
