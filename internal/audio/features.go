package audio

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Config selects the analysis parameters. Zero fields take the defaults
// documented on each field.
type Config struct {
	FrameSize int     // samples per STFT frame, default 512
	HopSize   int     // default FrameSize/4
	NumMels   int     // default 40
	NumMFCC   int     // default 13
	FMin      float64 // Hz, default 0
	FMax      float64 // Hz, default and upper bound sampleRate/2
}

func (c Config) withDefaults(sampleRate int) Config {
	if c.FrameSize <= 0 {
		c.FrameSize = 512
	}
	if c.HopSize <= 0 {
		c.HopSize = c.FrameSize / 4
	}
	if c.NumMels <= 0 {
		c.NumMels = 40
	}
	if c.NumMFCC <= 0 {
		c.NumMFCC = 13
	}
	nyquist := float64(sampleRate) / 2
	if c.FMax <= 0 || c.FMax > nyquist {
		c.FMax = nyquist
	}
	return c
}

// Features holds the per-frame outputs of one extraction.
type Features struct {
	LogMel [][]float64
	MFCC   [][]float64
	Delta  [][]float64 // time derivative of MFCC over +-2 frames
}

// Extract computes the log-mel spectrogram, MFCCs and MFCC deltas of sig.
func Extract(sig Signal, cfg Config) (Features, error) {
	if sig.SampleRate <= 0 {
		return Features{}, errors.Errorf("audio: bad sample rate %d", sig.SampleRate)
	}
	cfg = cfg.withDefaults(sig.SampleRate)
	if cfg.FMin < 0 || cfg.FMin >= cfg.FMax {
		return Features{}, errors.Errorf("audio: bad mel range %g-%g Hz", cfg.FMin, cfg.FMax)
	}
	if cfg.NumMels < minMels {
		return Features{}, errors.Errorf("audio: num mels must be >= %d (got %d)", minMels, cfg.NumMels)
	}

	spec, err := STFT(sig.Samples, cfg.FrameSize, cfg.HopSize, Hann(cfg.FrameSize))
	if err != nil {
		return Features{}, err
	}
	bank := MelFilterbank(cfg.NumMels, cfg.FrameSize, sig.SampleRate, cfg.FMin, cfg.FMax)
	logMel := LogCompress(ApplyFilterbank(Power(spec), bank))
	mfcc, err := Cepstrum(logMel, cfg.NumMFCC)
	if err != nil {
		return Features{}, err
	}
	return Features{LogMel: logMel, MFCC: mfcc, Delta: Deltas(mfcc, 2)}, nil
}

// Summary reduces a frame sequence to the per-coefficient mean followed by
// the per-coefficient standard deviation.
func Summary(frames [][]float64) []float64 {
	if len(frames) == 0 {
		return nil
	}
	width := len(frames[0])
	out := make([]float64, 2*width)
	track := make([]float64, len(frames))
	for j := 0; j < width; j++ {
		for t, f := range frames {
			track[t] = f[j]
		}
		mean, variance := stat.PopMeanVariance(track, nil)
		out[j] = mean
		out[width+j] = math.Sqrt(variance)
	}
	return out
}
