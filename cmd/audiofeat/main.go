package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"featureforge/internal/audio"
	"featureforge/internal/config"
	"featureforge/internal/dataset"
	"featureforge/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	root := flag.String("root", "", "Directory of audio tar shards")
	epochs := flag.Int("epochs", 0, "Dense classifier epochs")
	seed := flag.Int64("seed", 0, "PRNG seed")
	progress := flag.Bool("progress", false, "Show a progress bar")

	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyOverrides(config.Overrides{
		ShardRoot: *root,
		Epochs:    *epochs,
		Seed:      *seed,
	})
	ac := cfg.Audio
	if err := ac.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fsys := os.DirFS(ac.ShardRoot)
	shards, err := dataset.DiscoverShards(fsys, flag.Args()...)
	if err != nil {
		log.Fatalf("discover shards: %v", err)
	}
	if len(shards) == 0 {
		log.Fatalf("no shards under %s", ac.ShardRoot)
	}
	samples, err := dataset.LoadShards(ctx, fsys, shards)
	if err != nil {
		log.Fatalf("load shards: %v", err)
	}
	log.WithFields(logrus.Fields{
		"shards":  len(shards),
		"samples": len(samples),
	}).Info("audio shards loaded")

	runCfg := trainer.AudioRunConfig{
		Samples: samples,
		Features: audio.Config{
			FrameSize: ac.FrameSize,
			HopSize:   ac.HopSize,
			NumMels:   ac.NumMels,
			NumMFCC:   ac.NumMFCC,
			FMin:      ac.FMin,
			FMax:      ac.FMax,
		},
		NumClasses:       ac.NumClasses,
		Epochs:           ac.Epochs,
		LearningRate:     ac.LearningRate,
		HMMStates:        ac.HMMStates,
		HMMIterations:    ac.HMMIterations,
		PatchFrames:      ac.PatchFrames,
		ConvFilters:      ac.ConvFilters,
		ConvLearningRate: ac.ConvLearningRate,
		Seed:             cfg.Seed,
		Logger:           log,
	}

	var (
		bars *mpb.Progress
		bar  *mpb.Bar
	)
	if *progress {
		bars = mpb.New(mpb.WithWidth(64))
		bar = bars.AddBar(int64(ac.Epochs),
			mpb.PrependDecorators(
				decor.Name("Epochs: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(decor.Percentage()),
		)
		runCfg.OnEpoch = func(int, float64) { bar.Increment() }
	}

	report, err := trainer.RunAudio(ctx, runCfg)
	if bars != nil {
		if err != nil {
			bar.Abort(false)
		}
		bars.Wait()
	}
	if err != nil {
		log.Fatalf("audio run failed: %v", err)
	}
	log.WithFields(logrus.Fields{
		"clips":          report.Clips,
		"skipped":        report.Skipped,
		"seconds":        report.Seconds,
		"loss":           report.FinalLoss,
		"dense_accuracy": report.DenseAccuracy,
		"hmm_accuracy":   report.HMMAccuracy,
		"conv_accuracy":  report.ConvAccuracy,
	}).Info("audio run complete")
}
