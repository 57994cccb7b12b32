// Package tts defines the speech engine contract, the built-in engines and the
// registry that resolves engine names to shared instances.
package tts

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"readaloud/internal/apperr"
	"readaloud/internal/config"

	"github.com/sirupsen/logrus"
)

// Engine names. Auto is resolved by the registry, never constructed.
const (
	EngineMock       = "mock"
	EngineESpeak     = "espeak"
	EngineGoogle     = "google"
	EngineOpenAI     = "openai"
	EngineElevenLabs = "elevenlabs"
	EngineAuto       = "auto"
)

// Descriptor is the static capability record of an engine.
type Descriptor struct {
	Name               string   `json:"name"`
	RequiresNetwork    bool     `json:"requires_network"`
	MaxTextLength      int      `json:"max_text_length"`
	SupportedFormats   []string `json:"supported_formats"`
	SupportedLanguages []string `json:"supported_languages"`
	// AudioFormat is how Speak encodes its result: "mp3" or "wav".
	AudioFormat string `json:"audio_format"`
	Version     string `json:"version"`
}

// VoiceInfo provides detailed information about available voices
type VoiceInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LanguageCode string `json:"language_code"`
	Gender       string `json:"gender"`
	Natural      bool   `json:"natural"`
	Description  string `json:"description"`
}

// Engine is implemented by every speech backend.
//
// Lifecycle: Initialize moves an engine from Uninitialized to Initialized;
// Speak moves it to Speaking until synthesis ends or Stop is called; Pause and
// Resume toggle Speaking and Paused and do nothing in any other state; Cleanup
// is terminal. Initialize and Cleanup may be called any number of times.
type Engine interface {
	Descriptor() Descriptor

	Initialize(ctx context.Context) error
	// Configure validates every recognized key before applying any of them:
	// one bad value leaves all settings as they were. Unknown keys are ignored.
	Configure(settings map[string]interface{}) error
	// Settings returns a copy of the current settings.
	Settings() map[string]interface{}
	SetVoice(voiceID string) error

	Speak(ctx context.Context, text string) ([]byte, error)
	TextToFile(ctx context.Context, text, path string) (string, error)

	GetAvailableVoices(ctx context.Context) ([]VoiceInfo, error)
	GetVoiceInfo(ctx context.Context, voiceID string) (VoiceInfo, error)

	Pause() error
	Resume() error
	Stop() error
	Cleanup() error

	IsSpeaking() bool
	IsPaused() bool
}

// Dependencies is everything an engine factory may need.
type Dependencies struct {
	Logger      logrus.FieldLogger
	Credentials config.Credentials
	Engines     config.EnginesConfig
	// HTTPClient is used by the REST engines; nil gives each engine a client
	// of its own.
	HTTPClient *http.Client
}

func (d Dependencies) baseLogger() logrus.FieldLogger {
	if d.Logger == nil {
		return logrus.StandardLogger()
	}
	return d.Logger
}

func (d Dependencies) logger(engine string) logrus.FieldLogger {
	return d.baseLogger().WithFields(logrus.Fields{
		"component": "tts",
		"engine":    engine,
	})
}

// httpClient reports whether the returned client belongs to the caller, which
// then may close its idle connections on cleanup.
func (d Dependencies) httpClient() (*http.Client, bool) {
	if d.HTTPClient != nil {
		return d.HTTPClient, false
	}
	return &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}, true
}

// Factory builds an engine. Factories must not block or do I/O; that belongs in
// Initialize.
type Factory func(deps Dependencies) Engine

// writeSpeech synthesizes text and writes it to path, creating parent
// directories as needed.
func writeSpeech(ctx context.Context, e Engine, text, path string) (string, error) {
	audio, err := e.Speak(ctx, text)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", apperr.Output(err, "failed to create %s", dir)
		}
	}
	if err := os.WriteFile(path, audio, 0644); err != nil {
		return "", apperr.Output(err, "failed to write %s", path)
	}
	return path, nil
}

// checkText rejects empty input and input longer than the engine accepts in
// one call.
func checkText(d Descriptor, text string) error {
	if strings.TrimSpace(text) == "" {
		return apperr.Validation("%s: text is empty", d.Name)
	}
	if n := utf8.RuneCountInString(text); d.MaxTextLength > 0 && n > d.MaxTextLength {
		return apperr.Validation("%s: text is %d characters, limit is %d", d.Name, n, d.MaxTextLength)
	}
	return nil
}

// findVoice looks a voice up by ID.
func findVoice(voices []VoiceInfo, id string) (VoiceInfo, error) {
	for _, v := range voices {
		if v.ID == id {
			return v, nil
		}
	}
	return VoiceInfo{}, apperr.Engine(nil, "voice not found: %s", id)
}
