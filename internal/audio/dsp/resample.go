package dsp

import (
	"fmt"

	"github.com/faiface/beep"
)

const resampleQuality = 4

// Resample converts the buffer to a new sample rate.
func Resample(b *Buffer, rate int) (*Buffer, error) {
	if rate <= 0 || b.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid resample %d -> %d Hz", b.SampleRate, rate)
	}
	if rate == b.SampleRate {
		return b.Clone(), nil
	}
	r := beep.Resample(resampleQuality, beep.SampleRate(b.SampleRate), beep.SampleRate(rate), newBufferStreamer(b))
	out, err := drain(r, rate, b.NumChannels())
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resampleRatio plays the buffer ratio times faster at the same sample rate,
// so the result has about Len()/ratio frames and every frequency scaled by ratio.
func resampleRatio(b *Buffer, ratio float64) (*Buffer, error) {
	if ratio <= 0 {
		return nil, fmt.Errorf("invalid resample ratio %v", ratio)
	}
	r := beep.ResampleRatio(resampleQuality, ratio, newBufferStreamer(b))
	return drain(r, b.SampleRate, b.NumChannels())
}

// fitLength pads with silence or truncates every channel to n frames.
func fitLength(b *Buffer, n int) *Buffer {
	for c, ch := range b.Channels {
		if len(ch) >= n {
			b.Channels[c] = ch[:n]
			continue
		}
		b.Channels[c] = append(ch, make([]float64, n-len(ch))...)
	}
	return b
}
