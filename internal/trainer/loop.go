package trainer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"featureforge/internal/dataset"
	"featureforge/internal/gan"
	"featureforge/internal/metrics"
	"featureforge/internal/render"
)

// RunConfig wires the pool, session and reporting for one GAN run.
type RunConfig struct {
	Pool      *dataset.Pool
	Session   *gan.Session
	Steps     int
	BatchSize int
	LogEvery  int
	NumImages int
	Renderer  render.Renderer
	Logger    logrus.FieldLogger
	// OnStep, if set, is called after every completed step.
	OnStep func(step int, r gan.StepResult)
}

// Run trains the session for cfg.Steps steps and returns the per-step
// losses. The context is only checked between steps.
func Run(ctx context.Context, cfg RunConfig) ([]gan.StepResult, error) {
	if cfg.Steps <= 0 {
		return nil, errors.New("trainer: steps must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}
	if cfg.Pool == nil || cfg.Session == nil {
		return nil, errors.New("trainer: pool and session are required")
	}
	if want := cfg.Session.Config().SampleDim(); cfg.Pool.Dim() != want {
		return nil, errors.Errorf("trainer: pool samples have width %d, generator produces %d", cfg.Pool.Dim(), want)
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 100
	}
	if cfg.NumImages <= 0 {
		cfg.NumImages = 16
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	var window metrics.Window
	history := make([]gan.StepResult, 0, cfg.Steps)

	for step := 1; step <= cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}

		startData := time.Now()
		batch := cfg.Pool.Batch(cfg.BatchSize)
		dataTime := time.Since(startData)

		startCompute := time.Now()
		res, err := cfg.Session.Step(batch)
		if err != nil {
			return history, errors.Wrapf(err, "step %d", step)
		}
		computeTime := time.Since(startCompute)

		window.Record(cfg.BatchSize, dataTime, computeTime, res.DiscLoss, res.GenLoss)
		history = append(history, res)
		if cfg.OnStep != nil {
			cfg.OnStep(step, res)
		}

		if step%cfg.LogEvery == 0 {
			snap := window.Snapshot()
			log.WithFields(logrus.Fields{
				"step":            step,
				"d_loss":          snap.LastDiscLoss,
				"g_loss":          snap.LastGenLoss,
				"d_loss_mean":     snap.MeanDiscLoss,
				"g_loss_mean":     snap.MeanGenLoss,
				"samples_per_sec": snap.SamplesPerSec,
				"data_ms":         snap.AvgDataMS,
				"compute_ms":      snap.AvgComputeMS,
			}).Info("train step")

			if cfg.Renderer != nil {
				images, err := cfg.Session.GenerateImages(cfg.NumImages)
				if err != nil {
					return history, errors.Wrapf(err, "generate images at step %d", step)
				}
				if err := cfg.Renderer.Render(step, images); err != nil {
					return history, errors.Wrapf(err, "render step %d", step)
				}
			}
		}
	}

	return history, nil
}
