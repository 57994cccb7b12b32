package tts

import (
	"context"
	"io"
	"net/http"
	"sync"

	"readaloud/internal/apperr"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	openAIVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer", "verse"}
	openAIModels = []string{string(openai.TTSModel1), string(openai.TTSModel1HD), string(openai.TTSModelGPT4oMini)}
)

// OpenAIEngine synthesizes MP3 through the OpenAI speech endpoint.
type OpenAIEngine struct {
	lifecycle
	log     logrus.FieldLogger
	apiKey  string
	config  openai.ClientConfig
	http    *http.Client
	ownHTTP bool
	limiter *rate.Limiter

	mu       sync.Mutex
	client   *openai.Client
	settings map[string]interface{}
}

func NewOpenAIEngine(deps Dependencies) Engine {
	cfg := openai.DefaultConfig(deps.Credentials.OpenAIAPIKey)
	if base := deps.Engines.OpenAI.BaseURL; base != "" {
		cfg.BaseURL = base
	}
	client, own := deps.httpClient()
	cfg.HTTPClient = client

	return &OpenAIEngine{
		lifecycle: lifecycle{name: EngineOpenAI},
		log:       deps.logger(EngineOpenAI),
		apiKey:    deps.Credentials.OpenAIAPIKey,
		config:    cfg,
		http:      client,
		ownHTTP:   own,
		limiter:   newLimiter(deps.Engines.OpenAI.RequestsPerMinute),
		settings: map[string]interface{}{
			"voice": "alloy",
			"model": string(openai.TTSModel1),
			"speed": 1.0,
		},
	}
}

func (o *OpenAIEngine) Descriptor() Descriptor {
	return Descriptor{
		Name:               EngineOpenAI,
		RequiresNetwork:    true,
		MaxTextLength:      4096,
		SupportedFormats:   []string{"mp3"},
		SupportedLanguages: []string{"en-US"},
		AudioFormat:        "mp3",
		Version:            "1.0.0",
	}
}

func (o *OpenAIEngine) Initialize(ctx context.Context) error {
	if o.initialized() {
		return nil
	}
	if o.apiKey == "" {
		return apperr.Engine(nil, "openai: OPENAI_API_KEY is not set")
	}

	o.mu.Lock()
	o.client = openai.NewClientWithConfig(o.config)
	o.mu.Unlock()

	if _, err := o.markInitialized(); err != nil {
		return err
	}
	o.log.WithField("base_url", o.config.BaseURL).Debug("OpenAI engine initialized")
	return nil
}

func (o *OpenAIEngine) Configure(settings map[string]interface{}) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	d := newDraft(EngineOpenAI, o.settings)
	d.text(settings, "voice", openAIVoices...)
	d.text(settings, "model", openAIModels...)
	d.number(settings, "speed", bounds{lo: 0.25, hi: 4})
	d.text(settings, "instructions")
	if d.err != nil {
		return d.err
	}
	o.settings = d.values
	return nil
}

func (o *OpenAIEngine) Settings() map[string]interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copySettings(o.settings)
}

func (o *OpenAIEngine) SetVoice(voiceID string) error {
	return o.Configure(map[string]interface{}{"voice": voiceID})
}

func (o *OpenAIEngine) Speak(ctx context.Context, text string) ([]byte, error) {
	if err := checkText(o.Descriptor(), text); err != nil {
		return nil, err
	}
	ctx, done, err := o.beginSpeaking(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	o.mu.Lock()
	client := o.client
	o.mu.Unlock()
	s := o.Settings()

	if err := o.waitWhilePaused(ctx); err != nil {
		return nil, apperr.Engine(err, "openai synthesis stopped")
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, apperr.Engine(err, "openai synthesis stopped")
	}

	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(getString(s, "model")),
		Input:          text,
		Voice:          openai.SpeechVoice(getString(s, "voice")),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          getFloat(s, "speed"),
	}
	// Instructions are ignored by tts-1 and tts-1-hd.
	if req.Model == openai.TTSModelGPT4oMini {
		req.Instructions = getString(s, "instructions")
	}

	resp, err := client.CreateSpeech(ctx, req)
	if err != nil {
		return nil, apperr.Engine(err, "openai speech request failed").WithContext("engine", EngineOpenAI)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, apperr.Engine(err, "failed to read openai speech response")
	}
	if len(audio) == 0 {
		return nil, apperr.Engine(nil, "openai returned no audio")
	}
	if err := o.waitWhilePaused(ctx); err != nil {
		return nil, apperr.Engine(err, "openai synthesis stopped")
	}
	return audio, nil
}

func (o *OpenAIEngine) TextToFile(ctx context.Context, text, path string) (string, error) {
	return writeSpeech(ctx, o, text, path)
}

func (o *OpenAIEngine) GetAvailableVoices(ctx context.Context) ([]VoiceInfo, error) {
	voices := make([]VoiceInfo, len(openAIVoices))
	for i, v := range openAIVoices {
		voices[i] = VoiceInfo{
			ID:           v,
			Name:         v,
			LanguageCode: "en-US",
			Gender:       "NEUTRAL",
			Natural:      true,
		}
	}
	return voices, nil
}

func (o *OpenAIEngine) GetVoiceInfo(ctx context.Context, voiceID string) (VoiceInfo, error) {
	voices, _ := o.GetAvailableVoices(ctx)
	return findVoice(voices, voiceID)
}

func (o *OpenAIEngine) Cleanup() error {
	if o.close() {
		o.mu.Lock()
		o.client = nil
		o.mu.Unlock()
		if o.ownHTTP {
			o.http.CloseIdleConnections()
		}
	}
	return nil
}
