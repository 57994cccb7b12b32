package dsp

import "math"

// biquad holds normalized second-order coefficients (a0 == 1).
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// peakingEQ designs an RBJ peaking filter with gain in dB at freq Hz.
func peakingEQ(freq, gainDB, q, sampleRate float64) biquad {
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	a := math.Pow(10, gainDB/40)
	cosw := math.Cos(w0)

	a0 := 1 + alpha/a
	return biquad{
		b0: (1 + alpha*a) / a0,
		b1: -2 * cosw / a0,
		b2: (1 - alpha*a) / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha/a) / a0,
	}
}

// steadyState returns the transposed direct-form state for a unit step input.
func (f biquad) steadyState() (z1, z2 float64) {
	den := 1 + f.a1 + f.a2
	if den == 0 {
		return 0, 0
	}
	g := (f.b0 + f.b1 + f.b2) / den
	z2 = f.b2 - f.a2*g
	z1 = f.b1 - f.a1*g + z2
	return z1, z2
}

// filter runs the biquad over x (transposed direct form II) from state z1, z2.
func (f biquad) filter(x []float64, z1, z2 float64) []float64 {
	y := make([]float64, len(x))
	for n, v := range x {
		out := f.b0*v + z1
		z1 = f.b1*v - f.a1*out + z2
		z2 = f.b2*v - f.a2*out
		y[n] = out
	}
	return y
}

// filtfilt applies the biquad forward then backward for zero phase. The signal
// is extended by odd reflection at both ends and each pass starts from the
// steady state scaled to its first sample, which keeps edge transients down.
func (f biquad) filtfilt(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	padlen := 9
	if padlen > n-1 {
		padlen = n - 1
	}

	ext := make([]float64, 0, n+2*padlen)
	for i := padlen; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := 1; i <= padlen; i++ {
		ext = append(ext, 2*x[n-1]-x[n-1-i])
	}

	zi1, zi2 := f.steadyState()

	y := f.filter(ext, zi1*ext[0], zi2*ext[0])
	reverse(y)
	y = f.filter(y, zi1*y[0], zi2*y[0])
	reverse(y)

	return y[padlen : padlen+n]
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
