package cache

import (
	"context"
	"time"
)

// StartCleanup runs Sweep every interval in a background goroutine. Calling it
// while a cleanup loop is already running does nothing.
func (c *AudioCache) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		return
	}

	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	if c.cleanupCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cleanupCancel = cancel
	c.cleanupDone = done

	go c.cleanupLoop(ctx, interval, done)

	c.log.WithField("interval", interval).Debug("Started cache cleanup")
}

// StopCleanup cancels the cleanup loop and waits for it to exit. A sweep in
// progress finishes first; cancellation takes effect at the next tick boundary.
// Stopping when nothing runs does nothing.
func (c *AudioCache) StopCleanup() {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	if c.cleanupCancel == nil {
		return
	}
	c.cleanupCancel()
	<-c.cleanupDone
	c.cleanupCancel = nil
	c.cleanupDone = nil

	c.log.Debug("Stopped cache cleanup")
}

// CleanupRunning reports whether the background loop is active.
func (c *AudioCache) CleanupRunning() bool {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	return c.cleanupCancel != nil
}

func (c *AudioCache) cleanupLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
