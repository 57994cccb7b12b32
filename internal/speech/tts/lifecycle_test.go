package tts

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLifecycleTransitions(t *testing.T) {
	l := &lifecycle{name: "test"}
	if l.State() != StateUninitialized {
		t.Fatalf("initial state = %s", l.State())
	}

	// Outside Speaking these are no-ops.
	l.Pause()
	l.Resume()
	l.Stop()
	if l.State() != StateUninitialized {
		t.Fatalf("no-op changed state to %s", l.State())
	}

	if first, err := l.markInitialized(); !first || err != nil {
		t.Fatalf("markInitialized = %v, %v", first, err)
	}
	if first, _ := l.markInitialized(); first {
		t.Error("second markInitialized reported first")
	}

	_, done, err := l.beginSpeaking(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !l.IsSpeaking() {
		t.Fatalf("state = %s, want speaking", l.State())
	}
	if _, _, err := l.beginSpeaking(context.Background()); err == nil {
		t.Error("second beginSpeaking succeeded")
	}

	l.Pause()
	if !l.IsPaused() || l.IsSpeaking() {
		t.Fatalf("state = %s, want paused", l.State())
	}
	l.Resume()
	if !l.IsSpeaking() {
		t.Fatalf("state = %s, want speaking", l.State())
	}

	done()
	if l.State() != StateInitialized {
		t.Fatalf("state after done = %s", l.State())
	}

	if !l.close() {
		t.Error("close reported already closed")
	}
	if l.close() {
		t.Error("second close reported a change")
	}
	if _, err := l.markInitialized(); err == nil {
		t.Error("markInitialized after close succeeded")
	}
}

func TestWaitWhilePausedBlocksUntilResume(t *testing.T) {
	l := &lifecycle{name: "test"}
	l.markInitialized()
	ctx, done, err := l.beginSpeaking(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer done()

	l.pause()
	result := make(chan error, 1)
	go func() { result <- l.waitWhilePaused(ctx) }()

	select {
	case err := <-result:
		t.Fatalf("returned while paused: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	l.resume()
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("did not return after resume")
	}
}

func TestStopCancelsSpeaking(t *testing.T) {
	l := &lifecycle{name: "test"}
	l.markInitialized()
	ctx, done, err := l.beginSpeaking(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer done()

	l.pause()
	result := make(chan error, 1)
	go func() { result <- l.waitWhilePaused(ctx) }()

	l.Stop()
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("did not return after Stop")
	}
	if l.State() != StateInitialized {
		t.Errorf("state = %s", l.State())
	}
}

func TestCleanupWhilePausedReleasesWaiters(t *testing.T) {
	l := &lifecycle{name: "test"}
	l.markInitialized()
	ctx, done, err := l.beginSpeaking(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	l.pause()
	result := make(chan error, 1)
	go func() { result <- l.waitWhilePaused(ctx) }()

	l.close()
	select {
	case <-result:
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
	done()
	if l.State() != StateClosed {
		t.Errorf("done reopened a closed engine: %s", l.State())
	}
}

func TestMockPauseOutsideSpeakingIsNoop(t *testing.T) {
	m := newMock(t)

	// Pausing before Speak is a no-op, so synthesis runs straight through.
	m.Pause()
	if _, err := m.Speak(context.Background(), "not paused"); err != nil {
		t.Fatal(err)
	}
	if m.IsPaused() {
		t.Error("Pause outside Speaking took effect")
	}
}

func TestStaleDoneKeepsNewerSession(t *testing.T) {
	l := &lifecycle{name: "test"}
	l.markInitialized()

	ctx1, done1, err := l.beginSpeaking(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	l.Stop()
	if ctx1.Err() == nil {
		t.Fatal("Stop did not cancel the first synthesis")
	}

	ctx2, done2, err := l.beginSpeaking(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// The first synthesis returns late, after the second has begun.
	done1()
	if !l.IsSpeaking() {
		t.Fatalf("state after late done = %s, want speaking", l.State())
	}

	l.Stop()
	if !errors.Is(ctx2.Err(), context.Canceled) {
		t.Fatalf("second synthesis ctx err = %v, want canceled", ctx2.Err())
	}
	if l.State() != StateInitialized {
		t.Fatalf("state after stop = %s", l.State())
	}
	done2()
	if l.State() != StateInitialized {
		t.Fatalf("state after done = %s", l.State())
	}
}
