package dsp

import (
	"math"
	"math/cmplx"

	"readaloud/internal/apperr"

	"github.com/sirupsen/logrus"
)

const topDB = 80

// spectralOp transforms a spectrogram in place.
type spectralOp struct {
	name string
	run  func(s *Spectrogram, sampleRate int)
}

type spectralStage struct {
	name    string
	prepare func(raw interface{}) (spectralOp, error)
}

// spectralStages is the fixed order of the STFT-domain chain.
var spectralStages = []spectralStage{
	{StageSpectralShaping, func(raw interface{}) (spectralOp, error) {
		params := SpectralShapingParams{ShapeFactor: 1}
		if err := decodeParams(StageSpectralShaping, raw, &params); err != nil {
			return spectralOp{}, err
		}
		if len(params.Bands) == 0 {
			params.Bands = defaultSpectralBands()
		}
		return spectralOp{StageSpectralShaping, func(s *Spectrogram, sr int) { shapeSpectrum(s, sr, params) }}, nil
	}},
	{StageHarmonicEnhancement, func(raw interface{}) (spectralOp, error) {
		params := HarmonicEnhancementParams{Enhancement: 1.5, Threshold: 0.1}
		if err := decodeParams(StageHarmonicEnhancement, raw, &params); err != nil {
			return spectralOp{}, err
		}
		return spectralOp{StageHarmonicEnhancement, func(s *Spectrogram, _ int) { enhanceHarmonics(s, params) }}, nil
	}},
	{StageNoiseGate, func(raw interface{}) (spectralOp, error) {
		params := NoiseGateParams{Threshold: -60, Ratio: 10}
		if err := decodeParams(StageNoiseGate, raw, &params); err != nil {
			return spectralOp{}, err
		}
		return spectralOp{StageNoiseGate, func(s *Spectrogram, _ int) { gateSpectrum(s, params) }}, nil
	}},
	{StageSpectralCompression, func(raw interface{}) (spectralOp, error) {
		params := defaultCompression()
		if err := decodeParams(StageSpectralCompression, raw, &params); err != nil {
			return spectralOp{}, err
		}
		return spectralOp{StageSpectralCompression, func(s *Spectrogram, sr int) { compressSpectrum(s, sr, params) }}, nil
	}},
	{StagePhaseCorrection, func(raw interface{}) (spectralOp, error) {
		params := PhaseCorrectionParams{Coherence: 0.5}
		if err := decodeParams(StagePhaseCorrection, raw, &params); err != nil {
			return spectralOp{}, err
		}
		return spectralOp{StagePhaseCorrection, func(s *Spectrogram, _ int) { correctPhase(s, params) }}, nil
	}},
}

// ApplySpectral runs the enabled STFT-domain stages in chain order on each
// channel's spectrogram and resynthesizes once at the end. Parameters are all
// validated before any transform runs. With no stage enabled the input is
// returned as a copy without an STFT round trip.
func (p *Processor) ApplySpectral(b *Buffer, effects map[string]interface{}) (*Buffer, error) {
	if b == nil {
		return nil, apperr.Pipeline(nil, "no audio to process")
	}

	var ops []spectralOp
	for _, stage := range spectralStages {
		raw, ok := lookupStage(effects, stage.name)
		if !ok {
			continue
		}
		op, err := stage.prepare(raw)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return b.Clone(), nil
	}

	return b.mapChannels(func(x []float64) ([]float64, error) {
		spec, err := STFT(x, p.frameLength, p.hopLength)
		if err != nil {
			return nil, apperr.Pipeline(err, "spectral analysis failed")
		}
		for _, op := range ops {
			op.run(spec, b.SampleRate)
			p.log.WithFields(logrus.Fields{
				"stage":  op.name,
				"frames": len(spec.Frames),
			}).Debug("Applied spectral effect")
		}
		return ISTFT(spec, len(x)), nil
	})
}

// nearestBin maps a frequency to the closest FFT bin, clamped to [0, bins].
func nearestBin(freq float64, sampleRate, nfft int) int {
	k := int(math.Round(freq * float64(nfft) / float64(sampleRate)))
	if k < 0 {
		return 0
	}
	if bins := nfft/2 + 1; k > bins {
		return bins
	}
	return k
}

func shapeSpectrum(s *Spectrogram, sampleRate int, params SpectralShapingParams) {
	mask := make([]float64, s.Bins())
	for k := range mask {
		mask[k] = 1
	}
	for _, band := range params.Bands {
		lo := nearestBin(band.FreqLow, sampleRate, s.NFFT)
		hi := nearestBin(band.FreqHigh, sampleRate, s.NFFT)
		gain := math.Pow(band.Gain, params.ShapeFactor)
		for k := lo; k < hi; k++ {
			mask[k] *= gain
		}
	}
	for _, frame := range s.Frames {
		for k := range frame {
			frame[k] *= complex(mask[k], 0)
		}
	}
}

// enhanceHarmonics scales every local magnitude peak along frequency that is
// above the threshold. Scaling a complex value by a real factor keeps its phase.
func enhanceHarmonics(s *Spectrogram, params HarmonicEnhancementParams) {
	mag := make([]float64, s.Bins())
	for _, frame := range s.Frames {
		for k, v := range frame {
			mag[k] = cmplx.Abs(v)
		}
		for k := 1; k < len(frame)-1; k++ {
			if mag[k] > mag[k-1] && mag[k] > mag[k+1] && mag[k] > params.Threshold {
				frame[k] *= complex(params.Enhancement, 0)
			}
		}
	}
}

func gateSpectrum(s *Spectrogram, params NoiseGateParams) {
	db := magnitudeDB(s.Frames, topDB)
	slope := 1 - 1/params.Ratio
	for t, frame := range s.Frames {
		for k := range frame {
			if db[t][k] < params.Threshold {
				reduction := (params.Threshold - db[t][k]) * slope
				frame[k] *= complex(dbToAmplitude(-reduction), 0)
			}
		}
	}
}

// compressSpectrum compresses each bin over time. Attack and release are
// converted from seconds to frames.
func compressSpectrum(s *Spectrogram, sampleRate int, params CompressionParams) {
	frames := len(s.Frames)
	if frames == 0 {
		return
	}
	framesPerSecond := float64(sampleRate) / float64(s.Hop)
	attack := timeConstant(params.Attack * framesPerSecond)
	release := timeConstant(params.Release * framesPerSecond)
	slope := 1 - 1/params.Ratio

	db := magnitudeDB(s.Frames, topDB)
	track := make([]float64, frames)
	for k := 0; k < s.Bins(); k++ {
		for t := 0; t < frames; t++ {
			track[t] = 0
			if db[t][k] > params.Threshold {
				track[t] = (db[t][k] - params.Threshold) * slope
			}
		}
		smoothed := smoothGainReduction(track, attack, release)
		for t := 0; t < frames; t++ {
			s.Frames[t][k] *= complex(dbToAmplitude(-smoothed[t]), 0)
		}
	}
}

// correctPhase smooths each bin's frame-to-frame phase advance with a moving
// average int(1/coherence) frames wide and rebuilds the phase track from the
// first frame. Magnitudes are untouched.
func correctPhase(s *Spectrogram, params PhaseCorrectionParams) {
	frames := len(s.Frames)
	if frames < 2 {
		return
	}
	width := int(1 / params.Coherence)

	phase := make([]float64, frames)
	diff := make([]float64, frames-1)
	for k := 0; k < s.Bins(); k++ {
		for t := 0; t < frames; t++ {
			phase[t] = cmplx.Phase(s.Frames[t][k])
		}
		for t := range diff {
			diff[t] = phase[t+1] - phase[t]
		}
		smooth := unwrap(diff)
		if width > 1 {
			smooth = movingAverage(smooth, width)
		}

		acc := phase[0]
		for t := 1; t < frames; t++ {
			acc += smooth[t-1]
			s.Frames[t][k] = cmplx.Rect(cmplx.Abs(s.Frames[t][k]), acc)
		}
	}
}

// unwrap removes 2*pi jumps between consecutive values.
func unwrap(p []float64) []float64 {
	out := make([]float64, len(p))
	if len(p) == 0 {
		return out
	}
	out[0] = p[0]
	correction := 0.0
	for i := 1; i < len(p); i++ {
		d := p[i] - p[i-1]
		if math.Abs(d) >= math.Pi {
			dd := math.Mod(d+math.Pi, 2*math.Pi)
			if dd < 0 {
				dd += 2 * math.Pi
			}
			dd -= math.Pi
			if dd == -math.Pi && d > 0 {
				dd = math.Pi
			}
			correction += dd - d
		}
		out[i] = p[i] + correction
	}
	return out
}

// movingAverage is a centered box filter with zero padding; the output has
// the input's length.
func movingAverage(x []float64, width int) []float64 {
	out := make([]float64, len(x))
	shift := (width - 1) / 2
	for i := range x {
		sum := 0.0
		for j := 0; j < width; j++ {
			idx := i + shift - j
			if idx >= 0 && idx < len(x) {
				sum += x[idx]
			}
		}
		out[i] = sum / float64(width)
	}
	return out
}
