package dsp

import (
	"math"

	"readaloud/internal/apperr"

	"github.com/sirupsen/logrus"
)

type ProcessorOptions struct {
	FrameLength int
	HopLength   int
	Logger      logrus.FieldLogger
}

// Processor runs the effect chains. It holds no per-call state and is safe for
// concurrent use.
type Processor struct {
	frameLength int
	hopLength   int
	log         logrus.FieldLogger
}

func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.FrameLength < 2 || opts.FrameLength%2 != 0 {
		return nil, apperr.Configuration(nil, "frame length must be even and at least 2, got %d", opts.FrameLength)
	}
	if opts.HopLength < 1 || opts.HopLength > opts.FrameLength {
		return nil, apperr.Configuration(nil, "hop length must be in [1, %d], got %d", opts.FrameLength, opts.HopLength)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Processor{
		frameLength: opts.FrameLength,
		hopLength:   opts.HopLength,
		log:         opts.Logger.WithField("component", "dsp"),
	}, nil
}

type timeStage struct {
	name  string
	apply func(p *Processor, b *Buffer, raw interface{}) (*Buffer, error)
}

// timeStages is the fixed order of the waveform chain.
var timeStages = []timeStage{
	{StageNoiseReduction, func(p *Processor, b *Buffer, raw interface{}) (*Buffer, error) {
		params := NoiseReductionParams{ThresholdDB: 10, ReductionDB: 24}
		if err := decodeParams(StageNoiseReduction, raw, &params); err != nil {
			return nil, err
		}
		return p.ReduceNoise(b, params)
	}},
	{StageEqualization, func(p *Processor, b *Buffer, raw interface{}) (*Buffer, error) {
		var params EqualizationParams
		if err := decodeParams(StageEqualization, raw, &params); err != nil {
			return nil, err
		}
		return p.Equalize(b, params)
	}},
	{StageCompression, func(p *Processor, b *Buffer, raw interface{}) (*Buffer, error) {
		params := defaultCompression()
		if err := decodeParams(StageCompression, raw, &params); err != nil {
			return nil, err
		}
		return p.Compress(b, params)
	}},
	{StageReverb, func(p *Processor, b *Buffer, raw interface{}) (*Buffer, error) {
		params := ReverbParams{RoomSize: 0.5, Damping: 0.5, WetLevel: 0.3}
		if err := decodeParams(StageReverb, raw, &params); err != nil {
			return nil, err
		}
		return p.Reverb(b, params)
	}},
	{StageEcho, func(p *Processor, b *Buffer, raw interface{}) (*Buffer, error) {
		params := EchoParams{Delay: 0.3, Feedback: 0.3, Taps: 3}
		if err := decodeParams(StageEcho, raw, &params); err != nil {
			return nil, err
		}
		return p.Echo(b, params)
	}},
	{StagePitchShift, func(p *Processor, b *Buffer, raw interface{}) (*Buffer, error) {
		var params PitchShiftParams
		if err := decodeParams(StagePitchShift, raw, &params); err != nil {
			return nil, err
		}
		return p.ShiftPitch(b, params)
	}},
	{StageTimeStretch, func(p *Processor, b *Buffer, raw interface{}) (*Buffer, error) {
		params := TimeStretchParams{Rate: 1}
		if err := decodeParams(StageTimeStretch, raw, &params); err != nil {
			return nil, err
		}
		return p.StretchTime(b, params)
	}},
	{StageStereoWidth, func(p *Processor, b *Buffer, raw interface{}) (*Buffer, error) {
		params := StereoWidthParams{Width: 1}
		if err := decodeParams(StageStereoWidth, raw, &params); err != nil {
			return nil, err
		}
		return p.Widen(b, params)
	}},
}

// ApplyEffects runs every stage present in effects, in chain order, and
// returns a new buffer. The input is never modified.
func (p *Processor) ApplyEffects(b *Buffer, effects map[string]interface{}) (*Buffer, error) {
	if b == nil {
		return nil, apperr.Pipeline(nil, "no audio to process")
	}
	out := b
	applied := 0
	for _, stage := range timeStages {
		raw, ok := lookupStage(effects, stage.name)
		if !ok {
			continue
		}
		next, err := stage.apply(p, out, raw)
		if err != nil {
			return nil, err
		}
		out = next
		applied++
		p.log.WithFields(logrus.Fields{
			"stage":  stage.name,
			"frames": out.Len(),
		}).Debug("Applied effect")
	}
	if applied == 0 {
		return b.Clone(), nil
	}
	return out, nil
}

// ReduceNoise gates each STFT bin against its own mean level: bins quieter
// than mean+ThresholdDB are attenuated by ReductionDB. Phase is kept.
func (p *Processor) ReduceNoise(b *Buffer, params NoiseReductionParams) (*Buffer, error) {
	if err := params.validate(); err != nil {
		return nil, apperr.Pipeline(err, "invalid %s parameters", StageNoiseReduction)
	}
	attenuation := dbToAmplitude(-params.ReductionDB)

	return b.mapChannels(func(x []float64) ([]float64, error) {
		spec, err := STFT(x, p.frameLength, p.hopLength)
		if err != nil {
			return nil, apperr.Pipeline(err, "noise reduction failed")
		}
		if len(spec.Frames) == 0 {
			return ISTFT(spec, len(x)), nil
		}
		db := magnitudeDB(spec.Frames, 0)

		bins := spec.Bins()
		threshold := make([]float64, bins)
		for _, row := range db {
			for k, v := range row {
				threshold[k] += v
			}
		}
		for k := range threshold {
			threshold[k] = threshold[k]/float64(len(db)) + params.ThresholdDB
		}

		for t, frame := range spec.Frames {
			for k := range frame {
				if db[t][k] < threshold[k] {
					frame[k] *= complex(attenuation, 0)
				}
			}
		}
		return ISTFT(spec, len(x)), nil
	})
}

// Equalize cascades one zero-phase peaking filter per band. Bands with zero
// gain are skipped; with no bands configured a flat ten-band bank is used.
func (p *Processor) Equalize(b *Buffer, params EqualizationParams) (*Buffer, error) {
	if len(params.Bands) == 0 {
		params.Bands = defaultEQBands()
	}
	if err := params.validate(); err != nil {
		return nil, apperr.Pipeline(err, "invalid %s parameters", StageEqualization)
	}

	nyquist := float64(b.SampleRate) / 2
	var filters []biquad
	for i, band := range params.Bands {
		if band.Gain == 0 {
			continue
		}
		if band.Freq >= nyquist {
			return nil, apperr.Pipeline(nil, "equalizer band %d at %v Hz is above Nyquist (%v Hz)", i, band.Freq, nyquist).
				WithContext("stage", StageEqualization)
		}
		filters = append(filters, peakingEQ(band.Freq, band.Gain, band.Q, float64(b.SampleRate)))
	}

	return b.mapChannels(func(x []float64) ([]float64, error) {
		y := append([]float64(nil), x...)
		for _, f := range filters {
			y = f.filtfilt(y)
		}
		return y, nil
	})
}

// Compress applies a feed-forward compressor on the per-sample level in dB.
func (p *Processor) Compress(b *Buffer, params CompressionParams) (*Buffer, error) {
	if err := params.validate(); err != nil {
		return nil, apperr.Pipeline(err, "invalid %s parameters", StageCompression)
	}
	attack := timeConstant(params.Attack * float64(b.SampleRate))
	release := timeConstant(params.Release * float64(b.SampleRate))
	slope := 1 - 1/params.Ratio

	return b.mapChannels(func(x []float64) ([]float64, error) {
		reduction := make([]float64, len(x))
		for i, v := range x {
			level := 20 * math.Log10(math.Abs(v)+1e-10)
			if level > params.Threshold {
				reduction[i] = (level - params.Threshold) * slope
			}
		}
		reduction = smoothGainReduction(reduction, attack, release)

		y := make([]float64, len(x))
		for i, v := range x {
			y[i] = v * dbToAmplitude(-reduction[i])
		}
		return y, nil
	})
}

// timeConstant converts a smoothing length to whole steps, at least one.
func timeConstant(steps float64) float64 {
	n := math.Floor(steps)
	if n < 1 {
		return 1
	}
	return n
}

// smoothGainReduction follows the target reduction with a one-pole filter,
// using attack steps while the reduction grows and release steps while it falls.
func smoothGainReduction(reduction []float64, attack, release float64) []float64 {
	out := make([]float64, len(reduction))
	if len(reduction) == 0 {
		return out
	}
	current := reduction[0]
	for i, target := range reduction {
		if target > current {
			current += (target - current) / attack
		} else {
			current += (target - current) / release
		}
		out[i] = current
	}
	return out
}

// Reverb convolves with an exponentially decaying impulse response RoomSize
// seconds long, normalized to unit sum, and mixes it with the dry signal.
func (p *Processor) Reverb(b *Buffer, params ReverbParams) (*Buffer, error) {
	if err := params.validate(); err != nil {
		return nil, apperr.Pipeline(err, "invalid %s parameters", StageReverb)
	}
	ir := impulseResponse(params.RoomSize, params.Damping, b.SampleRate)

	return b.mapChannels(func(x []float64) ([]float64, error) {
		wet := convolveSame(x, ir)
		y := make([]float64, len(x))
		for i := range x {
			y[i] = (1-params.WetLevel)*x[i] + params.WetLevel*wet[i]
		}
		return y, nil
	})
}

func impulseResponse(roomSize, damping float64, sampleRate int) []float64 {
	n := int(roomSize * float64(sampleRate))
	if n < 1 {
		n = 1
	}
	ir := make([]float64, n)
	sum := 0.0
	for i := range ir {
		ir[i] = math.Exp(-damping * 10 * float64(i) / float64(sampleRate))
		sum += ir[i]
	}
	for i := range ir {
		ir[i] /= sum
	}
	return ir
}

// Echo adds Taps copies of the input, the i-th delayed by i*Delay seconds and
// scaled by Feedback^i. Nothing wraps around from the end.
func (p *Processor) Echo(b *Buffer, params EchoParams) (*Buffer, error) {
	if err := params.validate(); err != nil {
		return nil, apperr.Pipeline(err, "invalid %s parameters", StageEcho)
	}
	delay := int(params.Delay * float64(b.SampleRate))

	return b.mapChannels(func(x []float64) ([]float64, error) {
		y := append([]float64(nil), x...)
		if delay == 0 {
			return y, nil
		}
		for tap := 1; tap <= params.Taps; tap++ {
			offset := delay * tap
			if offset >= len(x) {
				break
			}
			gain := math.Pow(params.Feedback, float64(tap))
			for i := offset; i < len(x); i++ {
				y[i] += x[i-offset] * gain
			}
		}
		return y, nil
	})
}

// ShiftPitch moves pitch by Semitones and keeps the duration: a phase vocoder
// stretches time by the inverse factor, then resampling restores the length.
func (p *Processor) ShiftPitch(b *Buffer, params PitchShiftParams) (*Buffer, error) {
	if err := params.validate(); err != nil {
		return nil, apperr.Pipeline(err, "invalid %s parameters", StagePitchShift)
	}
	if params.Semitones == 0 {
		return b.Clone(), nil
	}
	ratio := math.Pow(2, params.Semitones/12)

	stretched, err := p.StretchTime(b, TimeStretchParams{Rate: 1 / ratio})
	if err != nil {
		return nil, err
	}
	shifted, err := resampleRatio(stretched, ratio)
	if err != nil {
		return nil, apperr.Pipeline(err, "pitch shift failed")
	}
	return fitLength(shifted, b.Len()), nil
}

// StretchTime changes the duration by 1/Rate with a phase vocoder.
func (p *Processor) StretchTime(b *Buffer, params TimeStretchParams) (*Buffer, error) {
	if err := params.validate(); err != nil {
		return nil, apperr.Pipeline(err, "invalid %s parameters", StageTimeStretch)
	}
	return b.mapChannels(func(x []float64) ([]float64, error) {
		y, err := timeStretch(x, params.Rate, p.frameLength, p.hopLength)
		if err != nil {
			return nil, apperr.Pipeline(err, "time stretch failed")
		}
		return y, nil
	})
}

// Widen scales the side signal of a stereo buffer. Mono input is returned as is.
func (p *Processor) Widen(b *Buffer, params StereoWidthParams) (*Buffer, error) {
	if err := params.validate(); err != nil {
		return nil, apperr.Pipeline(err, "invalid %s parameters", StageStereoWidth)
	}
	if b.NumChannels() != 2 {
		return b.Clone(), nil
	}

	left, right := b.Channels[0], b.Channels[1]
	out := NewBuffer(b.SampleRate, 2, b.Len())
	for i := range left {
		mid := (left[i] + right[i]) / 2
		side := (left[i] - right[i]) / 2 * params.Width
		out.Channels[0][i] = mid + side
		out.Channels[1][i] = mid - side
	}
	return out, nil
}
