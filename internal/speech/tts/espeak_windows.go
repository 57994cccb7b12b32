//go:build windows

package tts

// Windows has no SIGSTOP/SIGCONT. The process keeps running while paused; only
// the engine state changes, and the output is still delivered when it exits.
func (e *ESpeakEngine) pauseProcess() error {
	return nil
}

func (e *ESpeakEngine) resumeProcess() error {
	return nil
}
