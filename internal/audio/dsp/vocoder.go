package dsp

import (
	"math"
	"math/cmplx"
)

// phaseVocoder resamples the frames of s in time by rate (rate > 1 gives fewer
// frames) while keeping each bin's phase advance consistent.
func phaseVocoder(s *Spectrogram, rate float64) [][]complex128 {
	frames := len(s.Frames)
	if frames == 0 {
		return nil
	}
	bins := s.Bins()

	advance := make([]float64, bins)
	for k := range advance {
		advance[k] = 2 * math.Pi * float64(s.Hop) * float64(k) / float64(s.NFFT)
	}

	column := func(t int) []complex128 {
		if t < frames {
			return s.Frames[t]
		}
		return make([]complex128, bins)
	}

	acc := make([]float64, bins)
	for k, v := range s.Frames[0] {
		acc[k] = cmplx.Phase(v)
	}

	var out [][]complex128
	for step := 0.0; step < float64(frames); step += rate {
		t := int(step)
		alpha := step - float64(t)
		c0, c1 := column(t), column(t+1)

		frame := make([]complex128, bins)
		for k := 0; k < bins; k++ {
			mag := (1-alpha)*cmplx.Abs(c0[k]) + alpha*cmplx.Abs(c1[k])
			frame[k] = cmplx.Rect(mag, acc[k])

			dphase := cmplx.Phase(c1[k]) - cmplx.Phase(c0[k]) - advance[k]
			dphase -= 2 * math.Pi * math.Round(dphase/(2*math.Pi))
			acc[k] += advance[k] + dphase
		}
		out = append(out, frame)
	}
	return out
}

// timeStretch changes duration by 1/rate without changing pitch.
func timeStretch(x []float64, rate float64, nfft, hop int) ([]float64, error) {
	if rate == 1 {
		return append([]float64(nil), x...), nil
	}
	spec, err := STFT(x, nfft, hop)
	if err != nil {
		return nil, err
	}
	stretched := &Spectrogram{Frames: phaseVocoder(spec, rate), NFFT: nfft, Hop: hop}
	length := int(math.Round(float64(len(x)) / rate))
	return ISTFT(stretched, length), nil
}
