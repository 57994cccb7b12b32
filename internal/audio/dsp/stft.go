package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrogram is a one-sided short-time spectrum, indexed [frame][bin].
type Spectrogram struct {
	Frames [][]complex128
	NFFT   int
	Hop    int
	// Length is the sample count of the signal the frames came from.
	Length int
}

// Bins is the number of frequency bins per frame.
func (s *Spectrogram) Bins() int {
	return s.NFFT/2 + 1
}

// hann returns a periodic Hann window.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// reflectIndex maps i onto [0, n) by mirroring at the edges without repeating them.
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// STFT computes a centered short-time Fourier transform: the signal is
// reflect-padded by nfft/2 on both sides and frames are Hann windowed.
func STFT(x []float64, nfft, hop int) (*Spectrogram, error) {
	if nfft < 2 || nfft%2 != 0 {
		return nil, fmt.Errorf("frame length must be even and at least 2, got %d", nfft)
	}
	if hop < 1 || hop > nfft {
		return nil, fmt.Errorf("hop length must be in [1, %d], got %d", nfft, hop)
	}
	if len(x) == 0 {
		return &Spectrogram{NFFT: nfft, Hop: hop}, nil
	}

	pad := nfft / 2
	padded := make([]float64, len(x)+2*pad)
	for i := range padded {
		padded[i] = x[reflectIndex(i-pad, len(x))]
	}

	window := hann(nfft)
	fft := fourier.NewFFT(nfft)
	frames := 1 + (len(padded)-nfft)/hop

	spec := &Spectrogram{Frames: make([][]complex128, frames), NFFT: nfft, Hop: hop, Length: len(x)}
	seg := make([]float64, nfft)
	for t := 0; t < frames; t++ {
		start := t * hop
		for i := range seg {
			seg[i] = padded[start+i] * window[i]
		}
		spec.Frames[t] = fft.Coefficients(nil, seg)
	}
	return spec, nil
}

// ISTFT inverts STFT by windowed overlap-add with squared-window normalization.
// length is the number of output samples; pass s.Length to undo STFT exactly.
func ISTFT(s *Spectrogram, length int) []float64 {
	out := make([]float64, length)
	if len(s.Frames) == 0 || length == 0 {
		return out
	}

	n := s.NFFT
	window := hann(n)
	fft := fourier.NewFFT(n)

	total := n + s.Hop*(len(s.Frames)-1)
	y := make([]float64, total)
	wsum := make([]float64, total)
	seg := make([]float64, n)
	scale := 1 / float64(n)

	for t, frame := range s.Frames {
		fft.Sequence(seg, frame)
		start := t * s.Hop
		for i := 0; i < n; i++ {
			y[start+i] += seg[i] * scale * window[i]
			wsum[start+i] += window[i] * window[i]
		}
	}

	pad := n / 2
	for i := range out {
		j := i + pad
		if j >= total {
			break
		}
		if wsum[j] > 1e-10 {
			out[i] = y[j] / wsum[j]
		} else {
			out[i] = y[j]
		}
	}
	return out
}

// magnitudeDB converts amplitude to decibels relative to 1.0, floored at 1e-5
// and clamped to at most topDB below the loudest bin.
func magnitudeDB(frames [][]complex128, topDB float64) [][]float64 {
	const amin = 1e-5
	db := make([][]float64, len(frames))
	peak := math.Inf(-1)
	for t, frame := range frames {
		db[t] = make([]float64, len(frame))
		for k, v := range frame {
			mag := math.Hypot(real(v), imag(v))
			d := 20 * math.Log10(math.Max(amin, mag))
			db[t][k] = d
			if d > peak {
				peak = d
			}
		}
	}
	if topDB > 0 {
		floor := peak - topDB
		for _, row := range db {
			for k := range row {
				if row[k] < floor {
					row[k] = floor
				}
			}
		}
	}
	return db
}

func dbToAmplitude(db float64) float64 {
	return math.Pow(10, db/20)
}
