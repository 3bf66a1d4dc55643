package audio

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Hann returns a periodic Hann window of length n.
func Hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Frames slices x into frames of length size every hop samples. The last
// frame is zero padded and there is always at least one frame.
func Frames(x []float64, size, hop int) [][]float64 {
	count := 1
	if len(x) > size {
		count += (len(x) - size + hop - 1) / hop
	}
	frames := make([][]float64, count)
	for i := range frames {
		f := make([]float64, size)
		start := i * hop
		if start < len(x) {
			copy(f, x[start:])
		}
		frames[i] = f
	}
	return frames
}

// STFT returns size/2+1 complex bins per frame.
func STFT(x []float64, size, hop int, window []float64) ([][]complex128, error) {
	if size <= 0 || hop <= 0 {
		return nil, errors.Errorf("audio: bad stft params size=%d hop=%d", size, hop)
	}
	if len(window) != size {
		return nil, errors.Errorf("audio: window length %d, want %d", len(window), size)
	}
	fft := fourier.NewFFT(size)
	frames := Frames(x, size, hop)
	spec := make([][]complex128, len(frames))
	for i, f := range frames {
		floats.Mul(f, window)
		spec[i] = fft.Coefficients(nil, f)
	}
	return spec, nil
}

// Power returns |X|^2 for every bin.
func Power(spec [][]complex128) [][]float64 {
	out := make([][]float64, len(spec))
	for i, row := range spec {
		p := make([]float64, len(row))
		for k, c := range row {
			a := cmplx.Abs(c)
			p[k] = a * a
		}
		out[i] = p
	}
	return out
}

// HzToMel converts frequency to the HTK mel scale.
func HzToMel(hz float64) float64 { return 2595 * math.Log10(1+hz/700) }

// MelToHz is the inverse of HzToMel.
func MelToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

// MelFilterbank returns numMels triangular filters over the fftSize/2+1
// bins of a spectrum sampled at sampleRate.
func MelFilterbank(numMels, fftSize, sampleRate int, fmin, fmax float64) [][]float64 {
	bins := fftSize/2 + 1
	lo, hi := HzToMel(fmin), HzToMel(fmax)
	edges := make([]float64, numMels+2)
	for i := range edges {
		edges[i] = MelToHz(lo + (hi-lo)*float64(i)/float64(numMels+1))
	}

	bank := make([][]float64, numMels)
	for m := range bank {
		left, centre, right := edges[m], edges[m+1], edges[m+2]
		filt := make([]float64, bins)
		for k := range filt {
			f := float64(k) * float64(sampleRate) / float64(fftSize)
			up := (f - left) / (centre - left)
			down := (right - f) / (right - centre)
			filt[k] = math.Max(0, math.Min(up, down))
		}
		bank[m] = filt
	}
	return bank
}

// ApplyFilterbank projects each power frame onto the filters.
func ApplyFilterbank(power, bank [][]float64) [][]float64 {
	out := make([][]float64, len(power))
	for i, frame := range power {
		row := make([]float64, len(bank))
		for m, filt := range bank {
			row[m] = floats.Dot(frame, filt)
		}
		out[i] = row
	}
	return out
}

// LogCompress takes the natural log of every value, floored at 1e-10.
func LogCompress(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = math.Log(math.Max(v, 1e-10))
		}
		out[i] = r
	}
	return out
}

// Cepstrum applies an unnormalised DCT-II,
// y[k] = 2 Σ x[n] cos(πk(2n+1)/2N), to each log-mel frame and keeps the first
// n coefficients.
func Cepstrum(logMel [][]float64, n int) ([][]float64, error) {
	if len(logMel) == 0 {
		return nil, nil
	}
	width := len(logMel[0])
	if width < minMels {
		return nil, errors.Errorf("audio: cepstrum needs at least %d mel bands (got %d)", minMels, width)
	}
	if n <= 0 || n > width {
		return nil, errors.Errorf("audio: %d coefficients requested from %d mel bands", n, width)
	}
	// CosSequence yields twice the unnormalised DCT-II.
	dct := fourier.NewQuarterWaveFFT(width)
	out := make([][]float64, len(logMel))
	for i, row := range logMel {
		if len(row) != width {
			return nil, errors.Errorf("audio: frame %d has %d bands, want %d", i, len(row), width)
		}
		c := dct.CosSequence(nil, row)[:n]
		floats.Scale(0.5, c)
		out[i] = c
	}
	return out, nil
}

// minMels is the smallest filterbank the cepstrum is defined on.
const minMels = 2

// Deltas returns the regression-based time derivative of each coefficient
// track over +-width frames, clamping at the edges.
func Deltas(feats [][]float64, width int) [][]float64 {
	if width <= 0 {
		width = 2
	}
	denom := 0.0
	for n := 1; n <= width; n++ {
		denom += float64(2 * n * n)
	}
	last := len(feats) - 1
	clamp := func(i int) int {
		if i < 0 {
			return 0
		}
		if i > last {
			return last
		}
		return i
	}
	out := make([][]float64, len(feats))
	for t := range feats {
		d := make([]float64, len(feats[t]))
		for n := 1; n <= width; n++ {
			next, prev := feats[clamp(t+n)], feats[clamp(t-n)]
			for j := range d {
				d[j] += float64(n) * (next[j] - prev[j])
			}
		}
		floats.Scale(1/denom, d)
		out[t] = d
	}
	return out
}
