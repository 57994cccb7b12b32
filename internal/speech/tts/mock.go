package tts

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"readaloud/internal/audio/dsp"

	"github.com/sirupsen/logrus"
)

const mockSampleRate = 22050

var mockVoices = []struct {
	info VoiceInfo
	base float64
}{
	{VoiceInfo{ID: "mock-voice", Name: "Mock Voice", LanguageCode: "en-US", Gender: "NEUTRAL", Description: "Plain test tone"}, 220},
	{VoiceInfo{ID: "mock-deep", Name: "Mock Deep", LanguageCode: "en-US", Gender: "MALE", Description: "Low test tone"}, 110},
	{VoiceInfo{ID: "mock-bright", Name: "Mock Bright", LanguageCode: "en-GB", Gender: "FEMALE", Description: "High test tone"}, 440},
}

// MockEngine renders each word as a short sine tone. Output depends only on
// the text and settings, so it is safe for tests and offline runs.
type MockEngine struct {
	lifecycle
	log logrus.FieldLogger

	mu       sync.Mutex
	settings map[string]interface{}

	speakCalls atomic.Int64
}

func NewMockEngine(deps Dependencies) Engine {
	return &MockEngine{
		lifecycle: lifecycle{name: EngineMock},
		log:       deps.logger(EngineMock),
		settings: map[string]interface{}{
			"voice":     "mock-voice",
			"rate":      1.0,
			"stability": 0.5,
		},
	}
}

func (m *MockEngine) Descriptor() Descriptor {
	return Descriptor{
		Name:               EngineMock,
		RequiresNetwork:    false,
		MaxTextLength:      10000,
		SupportedFormats:   []string{"wav"},
		SupportedLanguages: []string{"en-US", "en-GB"},
		AudioFormat:        "wav",
		Version:            "1.0.0",
	}
}

func (m *MockEngine) Initialize(ctx context.Context) error {
	first, err := m.markInitialized()
	if err != nil {
		return err
	}
	if first {
		m.log.Debug("Mock engine initialized")
	}
	return nil
}

func (m *MockEngine) Configure(settings map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := newDraft(EngineMock, m.settings)
	d.text(settings, "voice", mockVoiceIDs()...)
	d.number(settings, "rate", bounds{lo: 0.5, hi: 2})
	d.number(settings, "stability", bounds{lo: 0, hi: 1})
	if d.err != nil {
		return d.err
	}
	m.settings = d.values
	return nil
}

func (m *MockEngine) Settings() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySettings(m.settings)
}

func (m *MockEngine) SetVoice(voiceID string) error {
	return m.Configure(map[string]interface{}{"voice": voiceID})
}

// SpeakCalls reports how many times Speak has synthesized audio.
func (m *MockEngine) SpeakCalls() int {
	return int(m.speakCalls.Load())
}

func (m *MockEngine) Speak(ctx context.Context, text string) ([]byte, error) {
	if err := checkText(m.Descriptor(), text); err != nil {
		return nil, err
	}
	ctx, done, err := m.beginSpeaking(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	m.speakCalls.Add(1)

	settings := m.Settings()
	base := 220.0
	for _, v := range mockVoices {
		if v.info.ID == getString(settings, "voice") {
			base = v.base
		}
	}
	rate := getFloat(settings, "rate")
	amplitude := 0.2 + 0.3*getFloat(settings, "stability")

	var samples []float64
	for _, word := range strings.Fields(text) {
		if err := m.waitWhilePaused(ctx); err != nil {
			return nil, err
		}
		samples = appendTone(samples, word, base, amplitude, rate)
	}

	buf := dsp.NewBuffer(mockSampleRate, 1, 0)
	buf.Channels[0] = samples
	return dsp.EncodeWAV(buf)
}

// appendTone adds one word: a tone whose pitch comes from the word's hash and
// whose length grows with the word, followed by a short gap.
func appendTone(out []float64, word string, base, amplitude, rate float64) []float64 {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(word)))
	freq := base * (1 + float64(h.Sum32()%12)/12)

	seconds := (0.08 + 0.03*float64(len([]rune(word)))) / rate
	n := int(seconds * mockSampleRate)
	fade := n / 10
	for i := 0; i < n; i++ {
		env := 1.0
		if fade > 0 && i < fade {
			env = float64(i) / float64(fade)
		} else if fade > 0 && i >= n-fade {
			env = float64(n-i) / float64(fade)
		}
		out = append(out, amplitude*env*math.Sin(2*math.Pi*freq*float64(i)/mockSampleRate))
	}
	gap := int(0.05 / rate * mockSampleRate)
	return append(out, make([]float64, gap)...)
}

func (m *MockEngine) TextToFile(ctx context.Context, text, path string) (string, error) {
	return writeSpeech(ctx, m, text, path)
}

func (m *MockEngine) GetAvailableVoices(ctx context.Context) ([]VoiceInfo, error) {
	voices := make([]VoiceInfo, len(mockVoices))
	for i, v := range mockVoices {
		voices[i] = v.info
	}
	return voices, nil
}

func (m *MockEngine) GetVoiceInfo(ctx context.Context, voiceID string) (VoiceInfo, error) {
	voices, _ := m.GetAvailableVoices(ctx)
	return findVoice(voices, voiceID)
}

func (m *MockEngine) Cleanup() error {
	m.close()
	return nil
}

func mockVoiceIDs() []string {
	ids := make([]string, len(mockVoices))
	for i, v := range mockVoices {
		ids[i] = v.info.ID
	}
	return ids
}
