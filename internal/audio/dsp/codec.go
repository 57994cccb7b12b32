package dsp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// Decode turns an encoded payload into a Buffer. format is "mp3" or "wav".
func Decode(data []byte, format string) (*Buffer, error) {
	var (
		streamer beep.StreamSeekCloser
		bf       beep.Format
		err      error
	)

	switch strings.ToLower(format) {
	case "mp3":
		streamer, bf, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case "wav":
		streamer, bf, err = wav.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("cannot decode %q audio", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s audio: %w", format, err)
	}
	defer streamer.Close()

	return drain(streamer, int(bf.SampleRate), bf.NumChannels)
}

// drain reads a streamer to the end. beep always yields stereo frames; a mono
// source keeps only the left channel.
func drain(s beep.Streamer, sampleRate, channels int) (*Buffer, error) {
	if channels < 1 || channels > 2 {
		channels = 2
	}
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float64, channels)}

	chunk := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(chunk)
		for _, frame := range chunk[:n] {
			for c := 0; c < channels; c++ {
				buf.Channels[c] = append(buf.Channels[c], frame[c])
			}
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audio stream: %w", err)
	}
	return buf, nil
}

// EncodeWAV writes the buffer as 16-bit PCM WAV.
func EncodeWAV(b *Buffer) ([]byte, error) {
	n := b.NumChannels()
	if n < 1 || n > 2 {
		return nil, fmt.Errorf("wav supports 1 or 2 channels, got %d", n)
	}
	if b.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", b.SampleRate)
	}

	format := beep.Format{
		SampleRate:  beep.SampleRate(b.SampleRate),
		NumChannels: n,
		Precision:   2,
	}
	out := &seekBuffer{}
	if err := wav.Encode(out, newBufferStreamer(b), format); err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}
	return out.Bytes(), nil
}

// bufferStreamer plays a Buffer through the beep.Streamer interface.
type bufferStreamer struct {
	buf *Buffer
	pos int
}

func newBufferStreamer(b *Buffer) *bufferStreamer {
	return &bufferStreamer{buf: b}
}

// NewStreamer exposes a mono or stereo buffer as a beep.Streamer. Mono is
// duplicated to both speaker channels.
func NewStreamer(b *Buffer) (beep.Streamer, error) {
	if n := b.NumChannels(); n < 1 || n > 2 {
		return nil, fmt.Errorf("playback supports 1 or 2 channels, got %d", n)
	}
	if b.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", b.SampleRate)
	}
	return newBufferStreamer(b), nil
}

func (s *bufferStreamer) Stream(samples [][2]float64) (int, bool) {
	remaining := s.buf.Len() - s.pos
	if remaining <= 0 {
		return 0, false
	}
	n := len(samples)
	if n > remaining {
		n = remaining
	}

	left := s.buf.Channels[0]
	right := left
	if len(s.buf.Channels) > 1 {
		right = s.buf.Channels[1]
	}
	for i := 0; i < n; i++ {
		samples[i][0] = clip(left[s.pos+i])
		samples[i][1] = clip(right[s.pos+i])
	}
	s.pos += n
	return n, true
}

func (s *bufferStreamer) Err() error {
	return nil
}

func clip(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder patches its header
// after the samples are written.
type seekBuffer struct {
	data []byte
	pos  int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.data) {
		if end > cap(s.data) {
			grown := make([]byte, end, 2*end)
			copy(grown, s.data)
			s.data = grown
		} else {
			s.data = s.data[:end]
		}
	}
	copy(s.data[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.data)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	s.pos = int(abs)
	return abs, nil
}

func (s *seekBuffer) Bytes() []byte {
	return s.data
}
