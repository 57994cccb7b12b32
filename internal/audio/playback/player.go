// Package playback plays PCM buffers on the default audio device.
package playback

import (
	"context"
	"sync"
	"time"

	"readaloud/internal/apperr"
	"readaloud/internal/audio/dsp"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/sirupsen/logrus"
)

// Output is the audio device. The speaker package satisfies it; tests swap in
// a fake that drains the streamer.
type Output interface {
	Init(sampleRate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
	Clear()
}

type speakerOutput struct{}

func (speakerOutput) Init(sr beep.SampleRate, n int) error { return speaker.Init(sr, n) }
func (speakerOutput) Play(s beep.Streamer)                 { speaker.Play(s) }
func (speakerOutput) Lock()                                { speaker.Lock() }
func (speakerOutput) Unlock()                              { speaker.Unlock() }
func (speakerOutput) Clear()                               { speaker.Clear() }

// Player plays one buffer at a time with pause and resume.
type Player struct {
	log logrus.FieldLogger
	out Output

	mu       sync.Mutex
	rate     beep.SampleRate
	ctrl     *beep.Ctrl
	playing  bool
	stopping chan struct{}
}

func New(log logrus.FieldLogger) *Player {
	return NewWithOutput(log, speakerOutput{})
}

func NewWithOutput(log logrus.FieldLogger, out Output) *Player {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Player{log: log.WithField("component", "playback"), out: out}
}

// Play blocks until the buffer has been played, Stop is called or ctx ends.
func (p *Player) Play(ctx context.Context, buf *dsp.Buffer) error {
	streamer, err := dsp.NewStreamer(buf)
	if err != nil {
		return apperr.Output(err, "cannot play buffer")
	}

	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return apperr.Output(nil, "already playing")
	}
	sr := beep.SampleRate(buf.SampleRate)
	if p.rate != sr {
		if err := p.out.Init(sr, sr.N(time.Second/10)); err != nil {
			p.mu.Unlock()
			return apperr.Output(err, "failed to open audio device")
		}
		p.rate = sr
	}
	done := make(chan struct{})
	p.ctrl = &beep.Ctrl{Streamer: streamer, Paused: false}
	p.playing = true
	p.stopping = make(chan struct{})
	stopping := p.stopping
	p.mu.Unlock()

	p.log.WithField("duration", buf.Duration().String()).Debug("Playing audio")
	p.out.Play(beep.Seq(p.ctrl, beep.Callback(func() {
		close(done)
	})))

	defer func() {
		p.mu.Lock()
		p.playing = false
		p.ctrl = nil
		p.mu.Unlock()
	}()

	select {
	case <-done:
		return nil
	case <-stopping:
		p.out.Clear()
		return nil
	case <-ctx.Done():
		p.out.Clear()
		return ctx.Err()
	}
}

func (p *Player) setPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctrl != nil {
		p.out.Lock()
		p.ctrl.Paused = paused
		p.out.Unlock()
	}
}

func (p *Player) Pause()  { p.setPaused(true) }
func (p *Player) Resume() { p.setPaused(false) }

// Stop ends the current playback, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing && p.stopping != nil {
		close(p.stopping)
		p.stopping = nil
	}
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && (p.ctrl == nil || !p.ctrl.Paused)
}

func (p *Player) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && p.ctrl != nil && p.ctrl.Paused
}
