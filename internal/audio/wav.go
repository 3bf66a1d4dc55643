// Package audio turns waveforms into spectral features: STFT, power and mel
// spectrograms, and MFCCs.
package audio

import (
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
)

// Signal is a mono waveform with samples in [-1, 1].
type Signal struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the signal length in seconds.
func (s Signal) Duration() float64 {
	if s.SampleRate == 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// LoadWAV decodes a PCM WAV stream. Multi-channel input is averaged to mono.
func LoadWAV(r io.ReadSeeker) (Signal, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Signal{}, errors.New("audio: invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Signal{}, errors.Wrap(err, "audio: read pcm")
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	if dec.BitDepth == 0 || dec.BitDepth > 32 {
		return Signal{}, errors.Errorf("audio: unsupported bit depth %d", dec.BitDepth)
	}
	scale := float64(int64(1) << (uint(dec.BitDepth) - 1))
	// 8-bit PCM is unsigned around 128.
	offset := 0
	if dec.BitDepth == 8 {
		offset = 128
	}

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += buf.Data[i*channels+c] - offset
		}
		samples[i] = float64(sum) / float64(channels) / scale
	}
	return Signal{Samples: samples, SampleRate: int(dec.SampleRate)}, nil
}

// WriteWAV encodes sig as 16-bit mono PCM.
func WriteWAV(w io.WriteSeeker, sig Signal) error {
	enc := wav.NewEncoder(w, sig.SampleRate, 16, 1, 1)
	data := make([]int, len(sig.Samples))
	for i, v := range sig.Samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		data[i] = int(v * 32767)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sig.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return errors.Wrap(err, "audio: write pcm")
	}
	return errors.Wrap(enc.Close(), "audio: close wav")
}
