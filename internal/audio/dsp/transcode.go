package dsp

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ffmpegArgs lists the encoder options per output container.
var ffmpegArgs = map[string][]string{
	"mp3": {"-f", "mp3", "-codec:a", "libmp3lame", "-q:a", "2"},
	"ogg": {"-f", "ogg", "-codec:a", "libvorbis", "-q:a", "5"},
}

// FFmpegAvailable reports whether ffmpeg is on PATH.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// Transcode converts WAV bytes to mp3 or ogg by piping them through ffmpeg.
// "wav" returns the input unchanged.
func Transcode(ctx context.Context, wav []byte, format string) ([]byte, error) {
	format = strings.ToLower(format)
	if format == "wav" {
		return wav, nil
	}
	codec, ok := ffmpegArgs[format]
	if !ok {
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	if !FFmpegAvailable() {
		return nil, fmt.Errorf("ffmpeg not found in PATH; install ffmpeg or use wav output")
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	args := append([]string{"-hide_banner", "-loglevel", "error", "-f", "wav", "-i", "pipe:0"}, codec...)
	args = append(args, "pipe:1")

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdin = bytes.NewReader(wav)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output")
	}
	return stdout.Bytes(), nil
}
