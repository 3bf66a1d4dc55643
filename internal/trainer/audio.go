package trainer

import (
	"bytes"
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"featureforge/internal/audio"
	"featureforge/internal/dataset"
	"featureforge/internal/hmm"
	"featureforge/internal/model"
)

// AudioRunConfig captures the knobs of the audio classification workflow.
type AudioRunConfig struct {
	Samples       []dataset.Sample
	Features      audio.Config
	NumClasses    int
	Epochs        int
	LearningRate  float64
	HMMStates     int
	HMMIterations int
	// PatchFrames is the log-mel patch width seen by the conv classifier;
	// zero skips it.
	PatchFrames      int
	ConvFilters      int
	ConvLearningRate float64
	Seed             int64
	Logger           logrus.FieldLogger
	// OnEpoch, if set, is called after every classifier epoch.
	OnEpoch func(epoch int, loss float64)
}

// AudioReport summarises one audio run.
type AudioReport struct {
	Clips         int
	Skipped       int
	Seconds       float64
	FinalLoss     float64
	DenseAccuracy float64
	HMMAccuracy   float64
	ConvLoss      float64
	ConvAccuracy  float64
}

type clip struct {
	label int
	feats audio.Features
}

// extractFeatures decodes a WAV payload and returns its features and length
// in seconds.
func extractFeatures(raw []byte, cfg audio.Config) (audio.Features, float64, error) {
	sig, err := audio.LoadWAV(bytes.NewReader(raw))
	if err != nil {
		return audio.Features{}, 0, err
	}
	feats, err := audio.Extract(sig, cfg)
	if err != nil {
		return audio.Features{}, 0, err
	}
	return feats, sig.Duration(), nil
}

// silence pads log-mel patches past the end of a clip.
var silence = math.Log(1e-10)

// patch flattens the first frames of a log-mel spectrogram band-major, so
// row m of the patch is mel band m over time.
func patch(logMel [][]float64, frames int) []float64 {
	bands := len(logMel[0])
	out := make([]float64, bands*frames)
	for m := 0; m < bands; m++ {
		for f := 0; f < frames; f++ {
			v := silence
			if f < len(logMel) {
				v = logMel[f][m]
			}
			out[m*frames+f] = v
		}
	}
	return out
}

// RunAudio extracts features from every sample, trains the dense classifier
// on MFCC and delta summaries, an HMM classifier on the MFCC sequences and,
// when PatchFrames is set, a conv classifier on log-mel patches. It reports
// training-set accuracy for each.
func RunAudio(ctx context.Context, cfg AudioRunConfig) (AudioReport, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Epochs <= 0 {
		return AudioReport{}, errors.New("trainer: epochs must be > 0")
	}

	var report AudioReport
	var clips []clip
	maxLabel := 0
	for _, s := range cfg.Samples {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		feats, seconds, err := extractFeatures(s.Audio, cfg.Features)
		if err != nil {
			report.Skipped++
			log.WithError(err).WithField("key", s.Key).Warn("skipping clip")
			continue
		}
		if s.Label < 0 {
			report.Skipped++
			log.WithField("key", s.Key).Warn("skipping clip with negative label")
			continue
		}
		clips = append(clips, clip{label: s.Label, feats: feats})
		report.Seconds += seconds
		if s.Label > maxLabel {
			maxLabel = s.Label
		}
	}
	report.Clips = len(clips)
	if len(clips) == 0 {
		return report, errors.New("trainer: no usable clips")
	}

	numClasses := cfg.NumClasses
	if numClasses <= maxLabel {
		numClasses = maxLabel + 1
	}

	batch := model.Batch{Labels: make([]int, len(clips))}
	raw := make([][]float64, len(clips))
	for i, c := range clips {
		raw[i] = append(audio.Summary(c.feats.MFCC), audio.Summary(c.feats.Delta)...)
		batch.Labels[i] = c.label
	}
	scaler := model.FitStandardizer(raw)
	for _, r := range raw {
		batch.Inputs = append(batch.Inputs, scaler.Apply(r))
	}

	dense := model.NewSoftmax(numClasses, len(batch.Inputs[0]), cfg.LearningRate, cfg.Seed)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.FinalLoss = dense.TrainStep(batch)
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(epoch, report.FinalLoss)
		}
	}
	report.DenseAccuracy = model.Accuracy(dense, batch)
	log.WithFields(logrus.Fields{
		"clips":    report.Clips,
		"seconds":  report.Seconds,
		"classes":  numClasses,
		"loss":     report.FinalLoss,
		"accuracy": report.DenseAccuracy,
	}).Info("dense classifier trained")

	byLabel := make(map[int][][][]float64)
	for _, c := range clips {
		byLabel[c.label] = append(byLabel[c.label], c.feats.MFCC)
	}
	seqModel := hmm.NewClassifier(cfg.HMMStates, cfg.HMMIterations)
	if err := seqModel.Fit(byLabel); err != nil {
		return report, errors.Wrap(err, "fit hmm classifier")
	}
	correct := 0
	for _, c := range clips {
		label, _, err := seqModel.Predict(c.feats.MFCC)
		if err != nil {
			return report, errors.Wrap(err, "hmm predict")
		}
		if label == c.label {
			correct++
		}
	}
	report.HMMAccuracy = float64(correct) / float64(len(clips))
	log.WithFields(logrus.Fields{
		"states":   cfg.HMMStates,
		"accuracy": report.HMMAccuracy,
	}).Info("hmm classifier trained")

	if cfg.PatchFrames > 0 {
		if err := runConv(ctx, cfg, clips, numClasses, &report); err != nil {
			return report, err
		}
		log.WithFields(logrus.Fields{
			"frames":   cfg.PatchFrames,
			"loss":     report.ConvLoss,
			"accuracy": report.ConvAccuracy,
		}).Info("conv classifier trained")
	}
	return report, nil
}

func runConv(ctx context.Context, cfg AudioRunConfig, clips []clip, numClasses int, report *AudioReport) error {
	batch := model.Batch{Labels: make([]int, len(clips))}
	raw := make([][]float64, len(clips))
	for i, c := range clips {
		raw[i] = patch(c.feats.LogMel, cfg.PatchFrames)
		batch.Labels[i] = c.label
	}
	scaler := model.FitStandardizer(raw)
	for _, r := range raw {
		batch.Inputs = append(batch.Inputs, scaler.Apply(r))
	}

	net, err := model.NewConvNet(model.ConvConfig{
		Height:       len(clips[0].feats.LogMel[0]),
		Width:        cfg.PatchFrames,
		Filters:      cfg.ConvFilters,
		Classes:      numClasses,
		LearningRate: cfg.ConvLearningRate,
		Seed:         cfg.Seed,
	})
	if err != nil {
		return errors.Wrap(err, "build conv classifier")
	}
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.ConvLoss = net.TrainStep(batch)
		if err := net.Err(); err != nil {
			return errors.Wrap(err, "train conv classifier")
		}
	}
	report.ConvAccuracy = model.Accuracy(net, batch)
	return nil
}
