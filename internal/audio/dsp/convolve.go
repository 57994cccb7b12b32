package dsp

import "gonum.org/v1/gonum/dsp/fourier"

// convolveSame returns the first len(x) samples of the full linear convolution
// of x and h, computed by FFT overlap-add.
func convolveSame(x, h []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 || len(h) == 0 {
		return out
	}

	n := nextPow2(2 * len(h))
	block := n - len(h) + 1
	fft := fourier.NewFFT(n)

	hp := make([]float64, n)
	copy(hp, h)
	H := fft.Coefficients(nil, hp)

	seg := make([]float64, n)
	X := make([]complex128, n/2+1)
	scale := 1 / float64(n)

	for start := 0; start < len(x); start += block {
		end := start + block
		if end > len(x) {
			end = len(x)
		}
		for i := range seg {
			seg[i] = 0
		}
		copy(seg, x[start:end])

		fft.Coefficients(X, seg)
		for k := range X {
			X[k] *= H[k]
		}
		fft.Sequence(seg, X)

		for i, v := range seg {
			j := start + i
			if j >= len(out) {
				break
			}
			out[j] += v * scale
		}
	}
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
