package tts

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"readaloud/internal/apperr"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"
)

// googleChunkLimit is a little under the 5000 byte request limit, in bytes.
const googleChunkLimit = 4800

// googleClient is the part of the Cloud TTS client the engine uses.
type googleClient interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)
	ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error)
	Close() error
}

type cloudClient struct {
	c *texttospeech.Client
}

func (c cloudClient) SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	return c.c.SynthesizeSpeech(ctx, req)
}

func (c cloudClient) ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error) {
	return c.c.ListVoices(ctx, req)
}

func (c cloudClient) Close() error {
	return c.c.Close()
}

func dialGoogle(ctx context.Context) (googleClient, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return cloudClient{c: client}, nil
}

// GoogleEngine synthesizes MP3 through Google Cloud Text-to-Speech.
type GoogleEngine struct {
	lifecycle
	log     logrus.FieldLogger
	hasKey  bool
	limiter *rate.Limiter
	dial    func(ctx context.Context) (googleClient, error)

	mu       sync.Mutex
	client   googleClient
	settings map[string]interface{}
	voices   []VoiceInfo
}

func NewGoogleEngine(deps Dependencies) Engine {
	return &GoogleEngine{
		lifecycle: lifecycle{name: EngineGoogle},
		log:       deps.logger(EngineGoogle),
		hasKey:    deps.Credentials.HasGoogle(),
		limiter:   newLimiter(deps.Engines.Google.RequestsPerMinute),
		dial:      dialGoogle,
		settings: map[string]interface{}{
			"voice":          "en-US-Chirp3-HD-Charon",
			"language_code":  "en-US",
			"speaking_rate":  1.0,
			"pitch":          0.0,
			"volume_gain_db": 0.0,
		},
	}
}

// newLimiter spaces calls evenly at rpm requests per minute. Zero or less
// means unlimited.
func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

func (g *GoogleEngine) Descriptor() Descriptor {
	return Descriptor{
		Name:               EngineGoogle,
		RequiresNetwork:    true,
		MaxTextLength:      5000,
		SupportedFormats:   []string{"mp3"},
		SupportedLanguages: []string{"en-US", "en-GB", "en-AU", "de-DE", "fr-FR", "es-ES", "it-IT", "ja-JP"},
		AudioFormat:        "mp3",
		Version:            "1.0.0",
	}
}

func (g *GoogleEngine) Initialize(ctx context.Context) error {
	if g.initialized() {
		return nil
	}
	if !g.hasKey {
		return apperr.Engine(nil, "google: GOOGLE_APPLICATION_CREDENTIALS is not set")
	}
	client, err := g.dial(ctx)
	if err != nil {
		return apperr.Engine(err, "failed to create TTS client")
	}

	g.mu.Lock()
	g.client = client
	g.mu.Unlock()

	if _, err := g.markInitialized(); err != nil {
		client.Close()
		return err
	}
	g.log.Debug("Google engine initialized")
	return nil
}

func (g *GoogleEngine) Configure(settings map[string]interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := newDraft(EngineGoogle, g.settings)
	d.text(settings, "voice")
	d.text(settings, "language_code")
	d.number(settings, "speaking_rate", bounds{lo: 0.25, hi: 4})
	d.number(settings, "pitch", bounds{lo: -20, hi: 20})
	d.number(settings, "volume_gain_db", bounds{lo: -96, hi: 16})
	if d.err != nil {
		return d.err
	}
	g.settings = d.values
	return nil
}

func (g *GoogleEngine) Settings() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copySettings(g.settings)
}

func (g *GoogleEngine) SetVoice(voiceID string) error {
	return g.Configure(map[string]interface{}{"voice": voiceID})
}

func (g *GoogleEngine) request(chunk string, s map[string]interface{}) *texttospeechpb.SynthesizeSpeechRequest {
	voice := getString(s, "voice")
	audioCfg := &texttospeechpb.AudioConfig{
		AudioEncoding: texttospeechpb.AudioEncoding_MP3,
	}

	// Chirp voices often don't support speakingRate/pitch/SSML, skip them
	if !strings.Contains(strings.ToLower(voice), "chirp") {
		audioCfg.SpeakingRate = getFloat(s, "speaking_rate")
		audioCfg.Pitch = getFloat(s, "pitch")
		audioCfg.VolumeGainDb = getFloat(s, "volume_gain_db")
	}

	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: chunk},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: getString(s, "language_code"),
			Name:         voice,
		},
		AudioConfig: audioCfg,
	}
}

// Speak splits long text into request-sized chunks and joins the MP3 streams.
func (g *GoogleEngine) Speak(ctx context.Context, text string) ([]byte, error) {
	if err := checkText(g.Descriptor(), text); err != nil {
		return nil, err
	}
	ctx, done, err := g.beginSpeaking(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	settings := g.Settings()

	var out bytes.Buffer
	chunks := splitIntoChunks(text, googleChunkLimit)
	for i, chunk := range chunks {
		if err := g.waitWhilePaused(ctx); err != nil {
			return nil, apperr.Engine(err, "google synthesis stopped")
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, apperr.Engine(err, "google synthesis stopped")
		}
		resp, err := client.SynthesizeSpeech(ctx, g.request(chunk, settings))
		if err != nil {
			return nil, apperr.Engine(err, "failed to synthesize chunk %d", i).WithContext("engine", EngineGoogle)
		}
		out.Write(resp.AudioContent)
		g.log.WithFields(logrus.Fields{"chunk": i + 1, "chunks": len(chunks)}).Debug("Synthesized chunk")
	}
	return out.Bytes(), nil
}

func (g *GoogleEngine) TextToFile(ctx context.Context, text, path string) (string, error) {
	return writeSpeech(ctx, g, text, path)
}

func (g *GoogleEngine) GetAvailableVoices(ctx context.Context) ([]VoiceInfo, error) {
	g.mu.Lock()
	client, cached := g.client, g.voices
	g.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	if client == nil {
		return nil, apperr.Engine(nil, "google engine is not initialized")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, apperr.Engine(err, "listing google voices stopped")
	}
	resp, err := client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, apperr.Engine(err, "failed to list google voices")
	}

	voices := make([]VoiceInfo, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		info := VoiceInfo{
			ID:      v.Name,
			Name:    v.Name,
			Gender:  v.SsmlGender.String(),
			Natural: isNaturalGoogleVoice(v.Name),
		}
		if len(v.LanguageCodes) > 0 {
			info.LanguageCode = v.LanguageCodes[0]
		}
		voices = append(voices, info)
	}

	g.mu.Lock()
	g.voices = voices
	g.mu.Unlock()
	return voices, nil
}

func isNaturalGoogleVoice(name string) bool {
	for _, family := range []string{"Wavenet", "Neural2", "Chirp", "Studio", "Journey"} {
		if strings.Contains(name, family) {
			return true
		}
	}
	return false
}

func (g *GoogleEngine) GetVoiceInfo(ctx context.Context, voiceID string) (VoiceInfo, error) {
	voices, err := g.GetAvailableVoices(ctx)
	if err != nil {
		return VoiceInfo{}, err
	}
	return findVoice(voices, voiceID)
}

func (g *GoogleEngine) Cleanup() error {
	if !g.close() {
		return nil
	}
	g.mu.Lock()
	client := g.client
	g.client = nil
	g.mu.Unlock()
	if client != nil {
		if err := client.Close(); err != nil {
			return apperr.Engine(err, "failed to close google client")
		}
	}
	return nil
}

// splitIntoChunks cuts text into pieces of at most limit bytes, never inside
// a UTF-8 sequence, preferring to break at whitespace.
func splitIntoChunks(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(text)
		}
		end := cut
		if lo := limit/2 + 1; lo <= cut {
			if i := strings.LastIndexAny(text[lo:cut+1], " \n"); i >= 0 {
				end = lo + i
			}
		}
		chunks = append(chunks, text[:end])
		text = text[end:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
