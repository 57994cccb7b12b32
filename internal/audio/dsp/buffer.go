// Package dsp holds PCM buffers, the codecs that fill them and the two effect
// chains that run over them: a time-domain chain and an STFT-domain chain.
package dsp

import (
	"fmt"
	"time"
)

// Buffer is planar float PCM in [-1, 1]. Every channel has the same length.
type Buffer struct {
	SampleRate int
	Channels   [][]float64
}

// NewBuffer allocates a silent buffer.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	b := &Buffer{SampleRate: sampleRate, Channels: make([][]float64, channels)}
	for c := range b.Channels {
		b.Channels[c] = make([]float64, frames)
	}
	return b
}

// Len is the number of frames.
func (b *Buffer) Len() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func (b *Buffer) NumChannels() int {
	return len(b.Channels)
}

func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Len()) / float64(b.SampleRate) * float64(time.Second))
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{SampleRate: b.SampleRate, Channels: make([][]float64, len(b.Channels))}
	for c, ch := range b.Channels {
		out.Channels[c] = append([]float64(nil), ch...)
	}
	return out
}

// mapChannels runs f over every channel and returns a new buffer with the results.
func (b *Buffer) mapChannels(f func([]float64) ([]float64, error)) (*Buffer, error) {
	out := &Buffer{SampleRate: b.SampleRate, Channels: make([][]float64, len(b.Channels))}
	for c, ch := range b.Channels {
		res, err := f(ch)
		if err != nil {
			return nil, err
		}
		out.Channels[c] = res
	}
	return out, nil
}

// toStereo duplicates a mono channel. Stereo buffers are returned as is.
func (b *Buffer) toStereo() *Buffer {
	if len(b.Channels) != 1 {
		return b
	}
	return &Buffer{SampleRate: b.SampleRate, Channels: [][]float64{b.Channels[0], append([]float64(nil), b.Channels[0]...)}}
}

// Concat joins buffers end to end. The result takes the first buffer's sample
// rate; others are resampled to it. Mono parts are widened when any part is stereo.
func Concat(parts ...*Buffer) (*Buffer, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}

	rate := parts[0].SampleRate
	channels := 0
	for _, p := range parts {
		if n := p.NumChannels(); n > channels {
			channels = n
		}
	}
	if channels == 0 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}

	total := 0
	normalized := make([]*Buffer, 0, len(parts))
	for _, p := range parts {
		if p.SampleRate != rate {
			r, err := Resample(p, rate)
			if err != nil {
				return nil, err
			}
			p = r
		}
		if channels == 2 {
			p = p.toStereo()
		}
		total += p.Len()
		normalized = append(normalized, p)
	}

	out := &Buffer{SampleRate: rate, Channels: make([][]float64, channels)}
	for c := range out.Channels {
		out.Channels[c] = make([]float64, 0, total)
		for _, p := range normalized {
			out.Channels[c] = append(out.Channels[c], p.Channels[c]...)
		}
	}
	return out, nil
}
