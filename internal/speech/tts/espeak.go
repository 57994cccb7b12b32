// Cross-platform eSpeak implementation
package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"readaloud/internal/apperr"

	"github.com/sirupsen/logrus"
)

var espeakCandidates = []string{"espeak-ng", "espeak"}

// ESpeakEngine implements TTS using eSpeak/eSpeak-NG. Speech is rendered with
// --stdout, so Speak returns a WAV file.
type ESpeakEngine struct {
	lifecycle
	log    logrus.FieldLogger
	binary string

	mu       sync.Mutex
	path     string
	settings map[string]interface{}
	voices   []VoiceInfo
	cmd      *exec.Cmd
}

func NewESpeakEngine(deps Dependencies) Engine {
	return &ESpeakEngine{
		lifecycle: lifecycle{name: EngineESpeak},
		log:       deps.logger(EngineESpeak),
		binary:    deps.Engines.ESpeak.Binary,
		settings: map[string]interface{}{
			"voice":  "en",
			"speed":  1.0,
			"volume": 1.0,
			"pitch":  50.0,
		},
	}
}

func (e *ESpeakEngine) Descriptor() Descriptor {
	return Descriptor{
		Name:               EngineESpeak,
		RequiresNetwork:    false,
		MaxTextLength:      10000,
		SupportedFormats:   []string{"wav"},
		SupportedLanguages: []string{"en", "en-US", "en-GB", "de", "fr", "es", "it"},
		AudioFormat:        "wav",
		Version:            "1.0.0",
	}
}

func findESpeakExecutable(configured string) (string, error) {
	candidates := espeakCandidates
	if configured != "" {
		candidates = []string{configured}
	}
	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("eSpeak executable not found in PATH")
}

func (e *ESpeakEngine) Initialize(ctx context.Context) error {
	if e.initialized() {
		return nil
	}
	path, err := findESpeakExecutable(e.binary)
	if err != nil {
		return apperr.Engine(err, "eSpeak not found")
	}
	if err := exec.CommandContext(ctx, path, "--version").Run(); err != nil {
		return apperr.Engine(err, "eSpeak test failed")
	}

	e.mu.Lock()
	e.path = path
	e.mu.Unlock()

	if _, err := e.markInitialized(); err != nil {
		return err
	}
	e.log.WithField("binary", path).Debug("eSpeak engine initialized")
	return nil
}

func (e *ESpeakEngine) Configure(settings map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := newDraft(EngineESpeak, e.settings)
	d.text(settings, "voice")
	d.number(settings, "speed", bounds{lo: 0, hi: 3, openLo: true})
	d.number(settings, "volume", bounds{lo: 0, hi: 2})
	d.number(settings, "pitch", bounds{lo: 0, hi: 99})
	if d.err != nil {
		return d.err
	}
	e.settings = d.values
	return nil
}

func (e *ESpeakEngine) Settings() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copySettings(e.settings)
}

// SetVoice checks the voice against `--voices` before applying it.
func (e *ESpeakEngine) SetVoice(voiceID string) error {
	if _, err := e.GetVoiceInfo(context.Background(), voiceID); err != nil {
		return err
	}
	return e.Configure(map[string]interface{}{"voice": voiceID})
}

func (e *ESpeakEngine) args(text string) []string {
	s := e.Settings()
	args := []string{"--stdout"}

	if voice := getString(s, "voice"); voice != "" && voice != "default" {
		args = append(args, "-v", voice)
	}
	// Words per minute, default is 175.
	args = append(args, "-s", strconv.Itoa(int(175*getFloat(s, "speed"))))
	// Amplitude 0-200, default is 100.
	args = append(args, "-a", strconv.Itoa(int(100*getFloat(s, "volume"))))
	args = append(args, "-p", strconv.Itoa(int(getFloat(s, "pitch"))))

	// "--" keeps text that starts with a dash from being read as a flag.
	return append(args, "--", text)
}

func (e *ESpeakEngine) Speak(ctx context.Context, text string) ([]byte, error) {
	if err := checkText(e.Descriptor(), text); err != nil {
		return nil, err
	}
	ctx, done, err := e.beginSpeaking(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	e.mu.Lock()
	path := e.path
	e.mu.Unlock()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, e.args(text)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, apperr.Engine(err, "failed to start eSpeak")
	}
	e.mu.Lock()
	e.cmd = cmd
	e.mu.Unlock()

	err = cmd.Wait()

	e.mu.Lock()
	e.cmd = nil
	e.mu.Unlock()

	if ctx.Err() != nil {
		return nil, apperr.Engine(ctx.Err(), "eSpeak synthesis stopped")
	}
	if err != nil {
		return nil, apperr.Engine(err, "eSpeak failed: %s", strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, apperr.Engine(nil, "eSpeak produced no audio")
	}
	return stdout.Bytes(), nil
}

func (e *ESpeakEngine) TextToFile(ctx context.Context, text, path string) (string, error) {
	return writeSpeech(ctx, e, text, path)
}

// Pause suspends the running eSpeak process where the platform allows it.
func (e *ESpeakEngine) Pause() error {
	if !e.pause() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil && e.cmd.Process != nil {
		if err := e.pauseProcess(); err != nil {
			return apperr.Engine(err, "failed to pause eSpeak")
		}
	}
	return nil
}

func (e *ESpeakEngine) Resume() error {
	if !e.resume() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil && e.cmd.Process != nil {
		if err := e.resumeProcess(); err != nil {
			return apperr.Engine(err, "failed to resume eSpeak")
		}
	}
	return nil
}

// Stop cancels the synthesis context, which kills the process. A suspended
// process is continued first so it can exit.
func (e *ESpeakEngine) Stop() error {
	wasPaused := e.IsPaused()
	if !e.stop() {
		return nil
	}
	if wasPaused {
		e.mu.Lock()
		if e.cmd != nil && e.cmd.Process != nil {
			_ = e.resumeProcess()
		}
		e.mu.Unlock()
	}
	return nil
}

func (e *ESpeakEngine) GetAvailableVoices(ctx context.Context) ([]VoiceInfo, error) {
	e.mu.Lock()
	if e.voices != nil {
		voices := e.voices
		e.mu.Unlock()
		return voices, nil
	}
	path := e.path
	e.mu.Unlock()

	if path == "" {
		var err error
		if path, err = findESpeakExecutable(e.binary); err != nil {
			return nil, apperr.Engine(err, "eSpeak not found")
		}
	}

	output, err := exec.CommandContext(ctx, path, "--voices").Output()
	if err != nil {
		return nil, apperr.Engine(err, "failed to list eSpeak voices")
	}
	voices := parseESpeakVoices(string(output))

	e.mu.Lock()
	e.voices = voices
	e.mu.Unlock()
	return voices, nil
}

func (e *ESpeakEngine) GetVoiceInfo(ctx context.Context, voiceID string) (VoiceInfo, error) {
	voices, err := e.GetAvailableVoices(ctx)
	if err != nil {
		return VoiceInfo{}, err
	}
	return findVoice(voices, voiceID)
}

func (e *ESpeakEngine) Cleanup() error {
	wasPaused := e.IsPaused()
	if !e.close() {
		return nil
	}
	if wasPaused {
		e.mu.Lock()
		if e.cmd != nil && e.cmd.Process != nil {
			_ = e.resumeProcess()
		}
		e.mu.Unlock()
	}
	return nil
}

// parseESpeakVoices reads `espeak --voices` output:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
//
// The language column is what -v accepts, so it becomes the voice ID.
func parseESpeakVoices(output string) []VoiceInfo {
	lines := strings.Split(output, "\n")
	voices := make([]VoiceInfo, 0)
	seen := make(map[string]bool)

	for i, line := range lines {
		// Skip header line
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 || seen[fields[1]] {
			continue
		}
		seen[fields[1]] = true

		gender := "NEUTRAL"
		switch g := fields[2]; {
		case strings.HasSuffix(g, "M"):
			gender = "MALE"
		case strings.HasSuffix(g, "F"):
			gender = "FEMALE"
		}
		voices = append(voices, VoiceInfo{
			ID:           fields[1],
			Name:         strings.ReplaceAll(fields[3], "_", " "),
			LanguageCode: fields[1],
			Gender:       gender,
			Description:  strings.Join(fields[4:], " "),
		})
	}

	return voices
}
