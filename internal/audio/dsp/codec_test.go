package dsp

import (
	"context"
	"io"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		channels int
	}{
		{"mono", 1},
		{"stereo", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewBuffer(22050, tt.channels, 1000)
			for c := range buf.Channels {
				copy(buf.Channels[c], sine(440*float64(c+1), 0.5, 22050, 1000))
			}

			data, err := EncodeWAV(buf)
			if err != nil {
				t.Fatalf("EncodeWAV: %v", err)
			}
			if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
				t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
			}

			got, err := Decode(data, "wav")
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.SampleRate != 22050 {
				t.Errorf("sample rate = %d", got.SampleRate)
			}
			if got.NumChannels() != tt.channels {
				t.Fatalf("channels = %d, want %d", got.NumChannels(), tt.channels)
			}
			for c := range buf.Channels {
				assertClose(t, got.Channels[c], buf.Channels[c], 1e-3)
			}
		})
	}
}

func TestEncodeWAVClipsOutOfRange(t *testing.T) {
	buf := mono(8000, []float64{2, -3, 0.5})
	data, err := EncodeWAV(buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data, "wav")
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got.Channels[0], []float64{1, -1, 0.5}, 1e-3)
}

func TestEncodeWAVRejectsBadBuffers(t *testing.T) {
	if _, err := EncodeWAV(NewBuffer(8000, 3, 10)); err == nil {
		t.Error("three channels accepted")
	}
	if _, err := EncodeWAV(NewBuffer(0, 1, 10)); err == nil {
		t.Error("zero sample rate accepted")
	}
}

func TestDecodeUnknownFormat(t *testing.T) {
	if _, err := Decode([]byte("data"), "flac"); err == nil {
		t.Error("expected an error for flac")
	}
	if _, err := Decode([]byte("not a wav file"), "wav"); err == nil {
		t.Error("expected an error for garbage wav data")
	}
}

func TestSeekBufferOverwrite(t *testing.T) {
	var s seekBuffer
	s.Write([]byte("hello world"))
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	s.Write([]byte("J"))
	if _, err := s.Seek(-5, io.SeekEnd); err != nil {
		t.Fatal(err)
	}
	s.Write([]byte("W"))
	if got := string(s.Bytes()); got != "Jello World" {
		t.Errorf("got %q", got)
	}
	if _, err := s.Seek(-100, io.SeekCurrent); err == nil {
		t.Error("negative seek accepted")
	}
}

func TestConcatWidensMono(t *testing.T) {
	a := mono(8000, []float64{0.1, 0.2})
	b := &Buffer{SampleRate: 8000, Channels: [][]float64{{0.3}, {-0.3}}}

	out, err := Concat(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if out.NumChannels() != 2 || out.Len() != 3 {
		t.Fatalf("got %d channels x %d frames", out.NumChannels(), out.Len())
	}
	assertClose(t, out.Channels[0], []float64{0.1, 0.2, 0.3}, 0)
	assertClose(t, out.Channels[1], []float64{0.1, 0.2, -0.3}, 0)
}

func TestConcatResamplesToFirstRate(t *testing.T) {
	a := mono(16000, sine(440, 0.5, 16000, 1600))
	b := mono(8000, sine(440, 0.5, 8000, 800))

	out, err := Concat(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if out.SampleRate != 16000 {
		t.Errorf("sample rate = %d", out.SampleRate)
	}
	if out.Len() < 3150 || out.Len() > 3250 {
		t.Errorf("length = %d, want about 3200", out.Len())
	}
}

func TestConcatEmpty(t *testing.T) {
	if _, err := Concat(); err == nil {
		t.Error("expected an error")
	}
}

func TestBufferDuration(t *testing.T) {
	b := NewBuffer(8000, 1, 4000)
	if got := b.Duration().Seconds(); got != 0.5 {
		t.Errorf("duration = %v", got)
	}
}

func TestTranscodeWAVPassThrough(t *testing.T) {
	in := []byte("RIFF....WAVE")
	out, err := Transcode(context.Background(), in, "WAV")
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(in) {
		t.Error("wav output was modified")
	}
	if _, err := Transcode(context.Background(), in, "flac"); err == nil {
		t.Error("flac accepted")
	}
}
