package dsp

import (
	"fmt"

	"readaloud/internal/apperr"

	"github.com/go-viper/mapstructure/v2"
)

// Stage names, as they appear in effect maps.
const (
	StageNoiseReduction = "noise_reduction"
	StageEqualization   = "equalization"
	StageCompression    = "compression"
	StageReverb         = "reverb"
	StageEcho           = "echo"
	StagePitchShift     = "pitch_shift"
	StageTimeStretch    = "time_stretch"
	StageStereoWidth    = "stereo_width"

	StageSpectralShaping     = "spectral_shaping"
	StageHarmonicEnhancement = "harmonic_enhancement"
	StageNoiseGate           = "noise_gate"
	StageSpectralCompression = "spectral_compression"
	StagePhaseCorrection     = "phase_correction"
)

// stageAliases lists alternate keys accepted for a stage.
var stageAliases = map[string][]string{
	StageEqualization: {"eq"},
}

type NoiseReductionParams struct {
	// ThresholdDB is added to each bin's mean level to get its gate threshold.
	ThresholdDB float64 `mapstructure:"threshold_db"`
	ReductionDB float64 `mapstructure:"reduction_db"`
}

func (p *NoiseReductionParams) validate() error {
	if p.ReductionDB < 0 {
		return fmt.Errorf("reduction_db must be non-negative, got %v", p.ReductionDB)
	}
	return nil
}

type EQBand struct {
	Freq float64 `mapstructure:"freq"`
	Gain float64 `mapstructure:"gain"`
	Q    float64 `mapstructure:"q"`
}

type EqualizationParams struct {
	Bands []EQBand `mapstructure:"bands"`
}

func defaultEQBands() []EQBand {
	freqs := []float64{60, 170, 310, 600, 1000, 3000, 6000, 12000, 14000, 16000}
	bands := make([]EQBand, len(freqs))
	for i, f := range freqs {
		bands[i] = EQBand{Freq: f, Gain: 0, Q: 1}
	}
	return bands
}

func (p *EqualizationParams) validate() error {
	for i, b := range p.Bands {
		if b.Freq <= 0 {
			return fmt.Errorf("band %d: freq must be positive, got %v", i, b.Freq)
		}
		if b.Q <= 0 {
			return fmt.Errorf("band %d: q must be positive, got %v", i, b.Q)
		}
	}
	return nil
}

// CompressionParams drives both the waveform and the spectral compressor.
// Threshold is in dB, Attack and Release in seconds.
type CompressionParams struct {
	Threshold float64 `mapstructure:"threshold"`
	Ratio     float64 `mapstructure:"ratio"`
	Attack    float64 `mapstructure:"attack"`
	Release   float64 `mapstructure:"release"`
}

func defaultCompression() CompressionParams {
	return CompressionParams{Threshold: -20, Ratio: 4, Attack: 0.003, Release: 0.25}
}

func (p *CompressionParams) validate() error {
	if p.Ratio < 1 {
		return fmt.Errorf("ratio must be at least 1, got %v", p.Ratio)
	}
	if p.Attack < 0 || p.Release < 0 {
		return fmt.Errorf("attack and release must be non-negative")
	}
	return nil
}

type ReverbParams struct {
	// RoomSize is the impulse response length in seconds.
	RoomSize float64 `mapstructure:"room_size"`
	Damping  float64 `mapstructure:"damping"`
	WetLevel float64 `mapstructure:"wet_level"`
}

func (p *ReverbParams) validate() error {
	if p.RoomSize <= 0 || p.RoomSize > 10 {
		return fmt.Errorf("room_size must be in (0, 10], got %v", p.RoomSize)
	}
	if p.Damping < 0 {
		return fmt.Errorf("damping must be non-negative, got %v", p.Damping)
	}
	if p.WetLevel < 0 || p.WetLevel > 1 {
		return fmt.Errorf("wet_level must be in [0, 1], got %v", p.WetLevel)
	}
	return nil
}

type EchoParams struct {
	Delay    float64 `mapstructure:"delay"`
	Feedback float64 `mapstructure:"feedback"`
	Taps     int     `mapstructure:"taps"`
}

func (p *EchoParams) validate() error {
	if p.Delay <= 0 {
		return fmt.Errorf("delay must be positive, got %v", p.Delay)
	}
	if p.Taps < 0 || p.Taps > 64 {
		return fmt.Errorf("taps must be in [0, 64], got %d", p.Taps)
	}
	return nil
}

type PitchShiftParams struct {
	Semitones float64 `mapstructure:"semitones"`
}

func (p *PitchShiftParams) validate() error {
	if p.Semitones < -48 || p.Semitones > 48 {
		return fmt.Errorf("semitones must be in [-48, 48], got %v", p.Semitones)
	}
	return nil
}

type TimeStretchParams struct {
	// Rate above 1 speeds the audio up.
	Rate float64 `mapstructure:"rate"`
}

func (p *TimeStretchParams) validate() error {
	if p.Rate <= 0 || p.Rate > 16 {
		return fmt.Errorf("rate must be in (0, 16], got %v", p.Rate)
	}
	return nil
}

type StereoWidthParams struct {
	Width float64 `mapstructure:"width"`
}

func (p *StereoWidthParams) validate() error {
	if p.Width < 0 {
		return fmt.Errorf("width must be non-negative, got %v", p.Width)
	}
	return nil
}

type SpectralBand struct {
	FreqLow  float64 `mapstructure:"freq_low"`
	FreqHigh float64 `mapstructure:"freq_high"`
	Gain     float64 `mapstructure:"gain"`
}

type SpectralShapingParams struct {
	ShapeFactor float64        `mapstructure:"shape_factor"`
	Bands       []SpectralBand `mapstructure:"bands"`
}

func defaultSpectralBands() []SpectralBand {
	edges := []float64{0, 100, 300, 1000, 3000, 6000, 12000, 20000}
	bands := make([]SpectralBand, len(edges)-1)
	for i := range bands {
		bands[i] = SpectralBand{FreqLow: edges[i], FreqHigh: edges[i+1], Gain: 1}
	}
	return bands
}

func (p *SpectralShapingParams) validate() error {
	for i, b := range p.Bands {
		if b.FreqLow < 0 || b.FreqHigh < b.FreqLow {
			return fmt.Errorf("band %d: invalid range [%v, %v]", i, b.FreqLow, b.FreqHigh)
		}
		if b.Gain < 0 {
			return fmt.Errorf("band %d: gain must be non-negative, got %v", i, b.Gain)
		}
	}
	return nil
}

type HarmonicEnhancementParams struct {
	Enhancement float64 `mapstructure:"enhancement"`
	// Threshold is a linear magnitude.
	Threshold float64 `mapstructure:"threshold"`
}

func (p *HarmonicEnhancementParams) validate() error {
	if p.Enhancement < 0 {
		return fmt.Errorf("enhancement must be non-negative, got %v", p.Enhancement)
	}
	return nil
}

type NoiseGateParams struct {
	Threshold float64 `mapstructure:"threshold"`
	Ratio     float64 `mapstructure:"ratio"`
}

func (p *NoiseGateParams) validate() error {
	if p.Ratio < 1 {
		return fmt.Errorf("ratio must be at least 1, got %v", p.Ratio)
	}
	return nil
}

type PhaseCorrectionParams struct {
	Coherence float64 `mapstructure:"coherence"`
}

func (p *PhaseCorrectionParams) validate() error {
	if p.Coherence <= 0 || p.Coherence > 1 {
		return fmt.Errorf("coherence must be in (0, 1], got %v", p.Coherence)
	}
	return nil
}

// lookupStage finds a stage's raw parameters. A missing key, a nil value and
// the literal false all mean the stage is off.
func lookupStage(effects map[string]interface{}, stage string) (interface{}, bool) {
	names := append([]string{stage}, stageAliases[stage]...)
	for _, name := range names {
		raw, ok := effects[name]
		if !ok || raw == nil {
			continue
		}
		if b, isBool := raw.(bool); isBool && !b {
			continue
		}
		return raw, true
	}
	return nil, false
}

type validator interface {
	validate() error
}

// decodeParams overlays raw onto out, which already holds the defaults, then
// validates it. raw == true keeps the defaults. Unknown keys are an error so a
// typo does not silently disable part of a stage.
func decodeParams(stage string, raw interface{}, out validator) error {
	if b, ok := raw.(bool); !ok || !b {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			Result:           out,
		})
		if err != nil {
			return apperr.Pipeline(err, "failed to build %s decoder", stage)
		}
		if err := decoder.Decode(raw); err != nil {
			return apperr.Pipeline(err, "invalid %s parameters", stage).WithContext("stage", stage)
		}
	}
	if err := out.validate(); err != nil {
		return apperr.Pipeline(err, "invalid %s parameters", stage).WithContext("stage", stage)
	}
	return nil
}
