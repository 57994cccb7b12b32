package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"readaloud/internal/apperr"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const defaultElevenLabsURL = "https://api.elevenlabs.io"

// ElevenLabsEngine talks to the ElevenLabs REST API.
type ElevenLabsEngine struct {
	lifecycle
	log     logrus.FieldLogger
	apiKey  string
	baseURL string
	http    *http.Client
	ownHTTP bool
	limiter *rate.Limiter

	mu       sync.Mutex
	settings map[string]interface{}
	voices   []VoiceInfo
}

func NewElevenLabsEngine(deps Dependencies) Engine {
	base := deps.Engines.ElevenLabs.BaseURL
	if base == "" {
		base = defaultElevenLabsURL
	}
	client, own := deps.httpClient()
	return &ElevenLabsEngine{
		lifecycle: lifecycle{name: EngineElevenLabs},
		log:       deps.logger(EngineElevenLabs),
		apiKey:    deps.Credentials.ElevenLabsAPIKey,
		baseURL:   strings.TrimRight(base, "/"),
		http:      client,
		ownHTTP:   own,
		limiter:   newLimiter(deps.Engines.ElevenLabs.RequestsPerMinute),
		settings: map[string]interface{}{
			"voice_id":          "21m00Tcm4TlvDq8ikWAM",
			"stability":         0.5,
			"similarity_boost":  0.75,
			"style":             0.0,
			"use_speaker_boost": true,
			"model_id":          "eleven_monolingual_v1",
		},
	}
}

func (e *ElevenLabsEngine) Descriptor() Descriptor {
	return Descriptor{
		Name:               EngineElevenLabs,
		RequiresNetwork:    true,
		MaxTextLength:      5000,
		SupportedFormats:   []string{"mp3"},
		SupportedLanguages: []string{"en-US"},
		AudioFormat:        "mp3",
		Version:            "2.1.0",
	}
}

type elevenVoice struct {
	VoiceID     string            `json:"voice_id"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Labels      map[string]string `json:"labels"`
}

type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenSpeechRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
}

// Initialize checks the API key and loads the voice list, which Configure
// uses to validate voice_id.
func (e *ElevenLabsEngine) Initialize(ctx context.Context) error {
	if e.initialized() {
		return nil
	}
	if e.apiKey == "" {
		return apperr.Engine(nil, "elevenlabs: ELEVENLABS_API_KEY is not set")
	}
	voices, err := e.fetchVoices(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.voices = voices
	e.mu.Unlock()

	if _, err := e.markInitialized(); err != nil {
		return err
	}
	e.log.WithField("voices", len(voices)).Debug("ElevenLabs engine initialized")
	return nil
}

func (e *ElevenLabsEngine) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return nil, apperr.Engine(err, "failed to build elevenlabs request")
	}
	req.Header.Set("xi-api-key", e.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and returns the body of a 2xx response.
func (e *ElevenLabsEngine) do(req *http.Request) ([]byte, error) {
	if err := e.limiter.Wait(req.Context()); err != nil {
		return nil, apperr.Engine(err, "elevenlabs request cancelled")
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, apperr.Engine(err, "elevenlabs request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Engine(err, "failed to read elevenlabs response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Engine(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			"elevenlabs %s %s failed", req.Method, req.URL.Path).
			WithContext("status", resp.StatusCode)
	}
	return body, nil
}

func (e *ElevenLabsEngine) fetchVoices(ctx context.Context) ([]VoiceInfo, error) {
	req, err := e.newRequest(ctx, http.MethodGet, "/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	body, err := e.do(req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Voices []elevenVoice `json:"voices"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperr.Engine(err, "failed to decode elevenlabs voices")
	}

	voices := make([]VoiceInfo, 0, len(payload.Voices))
	for _, v := range payload.Voices {
		voices = append(voices, VoiceInfo{
			ID:           v.VoiceID,
			Name:         v.Name,
			LanguageCode: "en-US",
			Gender:       strings.ToUpper(v.Labels["gender"]),
			Natural:      true,
			Description:  v.Description,
		})
	}
	return voices, nil
}

func (e *ElevenLabsEngine) Configure(settings map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := newDraft(EngineElevenLabs, e.settings)
	if e.voices != nil {
		ids := make([]string, len(e.voices))
		for i, v := range e.voices {
			ids[i] = v.ID
		}
		d.text(settings, "voice_id", ids...)
	} else {
		d.text(settings, "voice_id")
	}
	d.number(settings, "stability", bounds{lo: 0, hi: 1})
	d.number(settings, "similarity_boost", bounds{lo: 0, hi: 1})
	d.number(settings, "style", bounds{lo: 0, hi: 1})
	d.flag(settings, "use_speaker_boost")
	d.text(settings, "model_id")
	if d.err != nil {
		return d.err
	}
	e.settings = d.values
	return nil
}

func (e *ElevenLabsEngine) Settings() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copySettings(e.settings)
}

func (e *ElevenLabsEngine) SetVoice(voiceID string) error {
	return e.Configure(map[string]interface{}{"voice_id": voiceID})
}

func (e *ElevenLabsEngine) Speak(ctx context.Context, text string) ([]byte, error) {
	if err := checkText(e.Descriptor(), text); err != nil {
		return nil, err
	}
	ctx, done, err := e.beginSpeaking(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	s := e.Settings()
	payload, err := json.Marshal(elevenSpeechRequest{
		Text:    text,
		ModelID: getString(s, "model_id"),
		VoiceSettings: elevenVoiceSettings{
			Stability:       getFloat(s, "stability"),
			SimilarityBoost: getFloat(s, "similarity_boost"),
			Style:           getFloat(s, "style"),
			UseSpeakerBoost: getBool(s, "use_speaker_boost"),
		},
	})
	if err != nil {
		return nil, apperr.Engine(err, "failed to encode elevenlabs request")
	}

	path := "/v1/text-to-speech/" + url.PathEscape(getString(s, "voice_id"))
	req, err := e.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/mpeg")

	if err := e.waitWhilePaused(ctx); err != nil {
		return nil, apperr.Engine(err, "elevenlabs synthesis stopped")
	}
	audio, err := e.do(req)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, apperr.Engine(nil, "elevenlabs returned no audio")
	}
	if err := e.waitWhilePaused(ctx); err != nil {
		return nil, apperr.Engine(err, "elevenlabs synthesis stopped")
	}
	return audio, nil
}

func (e *ElevenLabsEngine) TextToFile(ctx context.Context, text, path string) (string, error) {
	return writeSpeech(ctx, e, text, path)
}

func (e *ElevenLabsEngine) GetAvailableVoices(ctx context.Context) ([]VoiceInfo, error) {
	e.mu.Lock()
	cached := e.voices
	e.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	if e.apiKey == "" {
		return nil, apperr.Engine(nil, "elevenlabs: ELEVENLABS_API_KEY is not set")
	}

	voices, err := e.fetchVoices(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.voices = voices
	e.mu.Unlock()
	return voices, nil
}

func (e *ElevenLabsEngine) GetVoiceInfo(ctx context.Context, voiceID string) (VoiceInfo, error) {
	voices, err := e.GetAvailableVoices(ctx)
	if err != nil {
		return VoiceInfo{}, err
	}
	return findVoice(voices, voiceID)
}

func (e *ElevenLabsEngine) Cleanup() error {
	if e.close() && e.ownHTTP {
		e.http.CloseIdleConnections()
	}
	return nil
}
