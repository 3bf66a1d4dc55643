package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"gorgonia.org/tensor"

	"featureforge/internal/config"
	"featureforge/internal/dataset"
	"featureforge/internal/gan"
	"featureforge/internal/nn"
	"featureforge/internal/render"
	"featureforge/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	dataPath := flag.String("data", "", "IDX image file (gzip ok); empty uses toy data")
	steps := flag.Int("steps", 0, "Number of training steps")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	latentDim := flag.Int("latent-dim", 0, "Latent vector width")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")
	numImages := flag.Int("num-images", 0, "Samples rendered at each report")
	outDir := flag.String("out", "", "Directory for PNG sample grids")
	progress := flag.Bool("progress", false, "Show a progress bar")
	ascii := flag.Bool("ascii", true, "Print sample grids as ASCII art")

	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		DataPath:  *dataPath,
		Steps:     *steps,
		BatchSize: *batchSize,
		LatentDim: *latentDim,
		Seed:      *seed,
		LogEvery:  *logEvery,
		NumImages: *numImages,
		OutputDir: *outDir,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	var images *tensor.Dense
	if cfg.DataPath != "" {
		images, err = dataset.LoadIDXImages(cfg.DataPath)
		if err != nil {
			log.Fatalf("load dataset: %v", err)
		}
		shape := images.Shape()
		cfg.ImageHeight, cfg.ImageWidth = shape[1], shape[2]
	} else {
		images = dataset.Toy(cfg.ToySamples, cfg.ImageWidth, cfg.ImageHeight, cfg.Seed)
	}
	pool, err := dataset.NewPoolFromTensor(images, cfg.Seed)
	if err != nil {
		log.Fatalf("build pool: %v", err)
	}
	log.WithFields(logrus.Fields{
		"samples": pool.Len(),
		"width":   cfg.ImageWidth,
		"height":  cfg.ImageHeight,
	}).Info("dataset loaded")

	session, err := gan.NewSession(gan.Config{
		LatentDim:           cfg.LatentDim,
		Width:               cfg.ImageWidth,
		Height:              cfg.ImageHeight,
		GeneratorHidden:     cfg.GeneratorHidden,
		DiscriminatorHidden: cfg.DiscriminatorHidden,
		LeakySlope:          cfg.LeakySlope,
		DropoutRate:         cfg.DropoutRate,
		LearningRate:        cfg.LearningRate,
		Beta1:               cfg.Beta1,
		Beta2:               cfg.Beta2,
		Seed:                cfg.Seed,
		Engine:              nn.Engine(cfg.Engine),
	})
	if err != nil {
		log.Fatalf("build session: %v", err)
	}

	var renderers render.Multi
	if *ascii {
		renderers = append(renderers, render.ASCII{W: os.Stdout})
	}
	if cfg.OutputDir != "" {
		renderers = append(renderers, render.PNG{Dir: cfg.OutputDir})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.RunConfig{
		Pool:      pool,
		Session:   session,
		Steps:     cfg.Steps,
		BatchSize: cfg.BatchSize,
		LogEvery:  cfg.LogEvery,
		NumImages: cfg.NumImages,
		Renderer:  renderers,
		Logger:    log,
	}

	var (
		bars *mpb.Progress
		bar  *mpb.Bar
	)
	if *progress {
		bars = mpb.New(mpb.WithWidth(64))
		bar = bars.AddBar(int64(cfg.Steps),
			mpb.PrependDecorators(
				decor.Name("Training: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.EwmaETA(decor.ET_STYLE_GO, 60),
			),
		)
		last := time.Now()
		runCfg.OnStep = func(int, gan.StepResult) {
			bar.EwmaIncrement(time.Since(last))
			last = time.Now()
		}
	}

	_, err = trainer.Run(ctx, runCfg)
	if bars != nil {
		if err != nil {
			bar.Abort(false)
		}
		bars.Wait()
	}
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
