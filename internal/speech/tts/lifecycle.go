package tts

import (
	"context"
	"sync"

	"readaloud/internal/apperr"
)

type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateSpeaking
	StatePaused
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateSpeaking:
		return "speaking"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// lifecycle is the state machine shared by every engine. Engines embed it and
// get Pause, Resume, Stop, IsSpeaking and IsPaused for free.
type lifecycle struct {
	name string

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	session uint64 // bumped by every beginSpeaking
	resumed chan struct{} // non-nil only while paused; closed on leaving Paused
}

// State returns the current state.
func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// markInitialized records a successful Initialize. It reports false when the
// engine was already initialized, so callers can skip repeated setup.
func (l *lifecycle) markInitialized() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateClosed:
		return false, apperr.Engine(nil, "%s engine has been cleaned up", l.name)
	case StateUninitialized:
		l.state = StateInitialized
		return true, nil
	}
	return false, nil
}

func (l *lifecycle) initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state != StateUninitialized && l.state != StateClosed
}

// beginSpeaking enters Speaking and returns a context that Stop and Cleanup
// cancel. The returned func must be called when synthesis ends.
func (l *lifecycle) beginSpeaking(ctx context.Context) (context.Context, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateUninitialized:
		return nil, nil, apperr.Engine(nil, "%s engine is not initialized", l.name)
	case StateClosed:
		return nil, nil, apperr.Engine(nil, "%s engine has been cleaned up", l.name)
	case StateSpeaking, StatePaused:
		return nil, nil, apperr.Engine(nil, "%s engine is already speaking", l.name)
	}

	speakCtx, cancel := context.WithCancel(ctx)
	l.session++
	session := l.session
	l.state = StateSpeaking
	l.cancel = cancel

	// A session ended by Stop may finish after a newer one has begun; only
	// the current session may leave Speaking.
	done := func() {
		cancel()
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.session != session {
			return
		}
		if l.state == StateSpeaking || l.state == StatePaused {
			l.setRunningLocked(StateInitialized)
		}
		l.cancel = nil
	}
	return speakCtx, done, nil
}

// setRunningLocked moves between Initialized, Speaking and Paused, keeping the
// resumed channel in step.
func (l *lifecycle) setRunningLocked(s State) {
	if s == StatePaused && l.state != StatePaused {
		l.resumed = make(chan struct{})
	}
	if s != StatePaused && l.state == StatePaused {
		close(l.resumed)
		l.resumed = nil
	}
	l.state = s
}

func (l *lifecycle) pause() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateSpeaking {
		return false
	}
	l.setRunningLocked(StatePaused)
	return true
}

func (l *lifecycle) resume() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StatePaused {
		return false
	}
	l.setRunningLocked(StateSpeaking)
	return true
}

// stop cancels any in-flight synthesis and returns to Initialized. It reports
// whether anything was running.
func (l *lifecycle) stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateSpeaking && l.state != StatePaused {
		return false
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.setRunningLocked(StateInitialized)
	return true
}

// close makes the state terminal. It reports false if already closed.
func (l *lifecycle) close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return false
	}
	if l.cancel != nil {
		l.cancel()
	}
	if l.state == StatePaused {
		close(l.resumed)
		l.resumed = nil
	}
	l.state = StateClosed
	return true
}

// waitWhilePaused blocks until the engine is resumed, stopped or ctx ends.
func (l *lifecycle) waitWhilePaused(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.state != StatePaused {
			l.mu.Unlock()
			return ctx.Err()
		}
		resumed := l.resumed
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resumed:
		}
	}
}

// Pause is a no-op unless the engine is speaking.
func (l *lifecycle) Pause() error {
	l.pause()
	return nil
}

// Resume is a no-op unless the engine is paused.
func (l *lifecycle) Resume() error {
	l.resume()
	return nil
}

// Stop is a no-op unless the engine is speaking or paused.
func (l *lifecycle) Stop() error {
	l.stop()
	return nil
}

func (l *lifecycle) IsSpeaking() bool {
	return l.State() == StateSpeaking
}

func (l *lifecycle) IsPaused() bool {
	return l.State() == StatePaused
}
