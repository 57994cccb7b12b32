// Package narrator turns documents into speech: it wires document extraction,
// voice profiles, engines, the audio cache and the effect chains together.
package narrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"readaloud/internal/apperr"
	"readaloud/internal/audio/cache"
	"readaloud/internal/audio/dsp"
	"readaloud/internal/audio/playback"
	"readaloud/internal/config"
	"readaloud/internal/domain/document"
	"readaloud/internal/domain/profile"
	"readaloud/internal/speech/tts"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// OutputFormats are the containers a result can be saved as.
var OutputFormats = []string{"mp3", "wav", "ogg"}

// Player plays a decoded buffer. *playback.Player satisfies it.
type Player interface {
	Play(ctx context.Context, buf *dsp.Buffer) error
	Pause()
	Resume()
	Stop()
}

// Options controls how one file is processed.
type Options struct {
	// Profile is the voice profile name; empty means the default profile.
	Profile string
	// Format is one of OutputFormats; empty means mp3.
	Format string
	// Save writes the audio to OutputDir instead of playing it.
	Save      bool
	OutputDir string
}

// Result describes the outcome of processing one file.
type Result struct {
	Input     string
	Output    string
	Engine    string
	Chunks    int
	CacheHits int
	Duration  time.Duration
	Err       error
}

// Narrator is the application object. Engines are shared singletons, so
// synthesis on one engine is serialized while the rest of the work for
// different files runs in parallel.
type Narrator struct {
	cfg config.Config
	log logrus.FieldLogger

	registry  *tts.Registry
	cache     *cache.AudioCache
	processor *dsp.Processor
	extractor *document.Extractor
	profiles  *profile.Store
	player    Player

	mu        sync.Mutex
	engines   map[string]*sync.Mutex
	baselines map[string]map[string]interface{}
}

type Option func(*Narrator)

// WithRegistry replaces the registry built from the config.
func WithRegistry(r *tts.Registry) Option {
	return func(n *Narrator) { n.registry = r }
}

// WithPlayer replaces the speaker-backed player.
func WithPlayer(p Player) Option {
	return func(n *Narrator) { n.player = p }
}

// New builds every component from cfg. The cache is skipped when disabled.
func New(cfg config.Config, log logrus.FieldLogger, opts ...Option) (*Narrator, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	n := &Narrator{
		cfg:       cfg,
		log:       log.WithField("component", "narrator"),
		extractor: document.NewExtractor(log),
		engines:   make(map[string]*sync.Mutex),
		baselines: make(map[string]map[string]interface{}),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.registry == nil {
		n.registry = tts.NewRegistry(tts.Dependencies{
			Logger:      log,
			Credentials: cfg.Credentials,
			Engines:     cfg.Engines,
		})
		n.registry.Discover(tts.Builtins()...)
	}
	if n.player == nil {
		n.player = playback.New(log)
	}

	processor, err := dsp.NewProcessor(dsp.ProcessorOptions{
		FrameLength: cfg.Audio.FrameLength,
		HopLength:   cfg.Audio.HopLength,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	n.processor = processor

	profiles, err := profile.NewStore(cfg.Profiles.Dir, log)
	if err != nil {
		return nil, err
	}
	n.profiles = profiles

	if cfg.Cache.Enabled {
		c, err := cache.New(cache.Options{
			Dir:          cfg.Cache.Dir,
			MaxSizeBytes: cfg.Cache.MaxSizeBytes(),
			MaxAge:       cfg.Cache.MaxAge(),
			Logger:       log,
		})
		if err != nil {
			return nil, err
		}
		n.cache = c
	}
	return n, nil
}

func (n *Narrator) Registry() *tts.Registry  { return n.registry }
func (n *Narrator) Profiles() *profile.Store { return n.profiles }

// Cache returns the audio cache, or nil when caching is disabled.
func (n *Narrator) Cache() *cache.AudioCache { return n.cache }

// StartCleanup runs cache expiry in the background at the configured interval.
func (n *Narrator) StartCleanup() {
	if n.cache != nil && n.cfg.Cache.CleanupInterval() > 0 {
		n.cache.StartCleanup(n.cfg.Cache.CleanupInterval())
	}
}

// Stop interrupts synthesis and playback in progress.
func (n *Narrator) Stop() {
	n.mu.Lock()
	names := make([]string, 0, len(n.engines))
	for name := range n.engines {
		names = append(names, name)
	}
	n.mu.Unlock()

	for _, name := range names {
		if e, ok := n.registry.Get(name); ok {
			e.Stop()
		}
	}
	n.player.Stop()
}

// Close stops background work and releases every engine.
func (n *Narrator) Close() error {
	n.Stop()
	n.registry.Cleanup()
	if n.cache != nil {
		return n.cache.Close()
	}
	return nil
}

func (n *Narrator) engineLock(name string) *sync.Mutex {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.engines[name]
	if !ok {
		l = &sync.Mutex{}
		n.engines[name] = l
	}
	return l
}

func validFormat(format string) bool {
	for _, f := range OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}

// session is one file's engine binding: the engine, its lock and the
// effective settings the cache is keyed on.
type session struct {
	name     string
	engine   tts.Engine
	lock     *sync.Mutex
	voiceID  string
	settings map[string]interface{}
}

// ProcessFile synthesizes one document and saves or plays the result.
func (n *Narrator) ProcessFile(ctx context.Context, path string, opts Options) (res Result, err error) {
	start := time.Now()
	res = Result{Input: path}
	defer func() {
		res.Duration = time.Since(start)
		res.Err = err
	}()

	format := strings.ToLower(opts.Format)
	if format == "" {
		format = "mp3"
	}
	if info, statErr := os.Stat(path); statErr != nil || info.IsDir() {
		return res, apperr.Validation("file not found: %s", path)
	}
	if !validFormat(format) {
		return res, apperr.Validation("unsupported output format: %s", opts.Format)
	}

	log := n.log.WithField("file", path)
	log.Info("Processing file")

	doc, err := n.extractor.Extract(path)
	if err != nil {
		return res, err
	}

	profileName := opts.Profile
	if profileName == "" {
		profileName = profile.DefaultName
	}
	p, err := n.profiles.Get(profileName)
	if err != nil {
		return res, err
	}

	s, err := n.bind(ctx, p)
	if err != nil {
		return res, err
	}
	res.Engine = s.name

	size := n.cfg.Text.ChunkSize
	if limit := s.engine.Descriptor().MaxTextLength; limit > 0 && limit < size {
		size = limit
	}
	chunks := document.Chunk(doc.Text, size)
	if len(chunks) == 0 {
		return res, apperr.Validation("no text content found in %s", path)
	}
	res.Chunks = len(chunks)
	log.WithFields(logrus.Fields{
		"format": doc.Format,
		"chunks": len(chunks),
		"engine": s.name,
	}).Debug("Extracted text")

	buf, hits, err := n.synthesize(ctx, s, chunks)
	res.CacheHits = hits
	if err != nil {
		return res, err
	}

	buf, err = n.postProcess(buf)
	if err != nil {
		return res, err
	}

	if !opts.Save {
		if err := n.player.Play(ctx, buf); err != nil {
			return res, err
		}
		log.WithField("duration", buf.Duration().String()).Info("Finished playback")
		return res, nil
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = n.cfg.Process.OutputDir
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(dir, stem+"."+format)
	if err := n.save(ctx, buf, format, out); err != nil {
		return res, err
	}
	res.Output = out
	log.WithFields(logrus.Fields{
		"output":     out,
		"cache_hits": hits,
	}).Info("Audio saved")
	return res, nil
}

// bind resolves the profile's engine, initializes it and records the settings
// the profile produces.
func (n *Narrator) bind(ctx context.Context, p profile.Profile) (*session, error) {
	requested := p.Engine
	if requested == "" || requested == tts.EngineAuto {
		requested = n.cfg.TTS.Engine
	}
	name := n.registry.Resolve(requested)
	engine, ok := n.registry.Get(name)
	if !ok {
		return nil, apperr.Engine(nil, "engine %q is not available", name).WithContext("profile", p.Name)
	}
	if err := engine.Initialize(ctx); err != nil {
		return nil, err
	}

	s := &session{name: name, engine: engine, lock: n.engineLock(name), voiceID: p.VoiceID}

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := n.configure(s.engine, n.withBaseline(name, engine, p.Settings), p.VoiceID); err != nil {
		return nil, err
	}
	s.settings = engine.Settings()
	if s.voiceID == "" {
		s.voiceID = "default"
	}
	return s, nil
}

// withBaseline layers profile settings over the engine's settings as first
// seen, so one profile's values never leak into the next.
func (n *Narrator) withBaseline(name string, e tts.Engine, settings map[string]interface{}) map[string]interface{} {
	n.mu.Lock()
	base, ok := n.baselines[name]
	if !ok {
		base = e.Settings()
		n.baselines[name] = base
	}
	n.mu.Unlock()

	merged := make(map[string]interface{}, len(base)+len(settings))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range settings {
		merged[k] = v
	}
	return merged
}

func (n *Narrator) configure(e tts.Engine, settings map[string]interface{}, voiceID string) error {
	if err := e.Configure(settings); err != nil {
		return err
	}
	if voiceID != "" {
		return e.SetVoice(voiceID)
	}
	return nil
}

// synthesize returns the decoded, concatenated audio of every chunk. Cached
// chunks skip the engine; cache failures are logged and ignored.
func (n *Narrator) synthesize(ctx context.Context, s *session, chunks []string) (*dsp.Buffer, int, error) {
	format := s.engine.Descriptor().AudioFormat
	parts := make([]*dsp.Buffer, 0, len(chunks))
	hits := 0

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, hits, err
		}

		audio, ok := n.cacheGet(chunk, s)
		if ok {
			hits++
		} else {
			var err error
			audio, err = n.speak(ctx, s, chunk)
			if err != nil {
				return nil, hits, err
			}
			n.cachePut(chunk, s, audio)
		}

		part, err := dsp.Decode(audio, format)
		if err != nil {
			return nil, hits, apperr.Engine(err, "chunk %d/%d returned unreadable audio", i+1, len(chunks)).WithContext("engine", s.name)
		}
		parts = append(parts, part)
		n.log.WithFields(logrus.Fields{
			"chunk":  i + 1,
			"chunks": len(chunks),
			"cached": ok,
		}).Debug("Synthesized chunk")
	}

	buf, err := dsp.Concat(parts...)
	if err != nil {
		return nil, hits, apperr.Pipeline(err, "failed to join audio chunks")
	}
	return buf, hits, nil
}

func (n *Narrator) speak(ctx context.Context, s *session, text string) ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	// Another file may have reconfigured the shared engine since bind.
	if err := s.engine.Configure(s.settings); err != nil {
		return nil, err
	}
	return s.engine.Speak(ctx, text)
}

func (n *Narrator) cacheGet(text string, s *session) ([]byte, bool) {
	if n.cache == nil {
		return nil, false
	}
	return n.cache.Get(text, s.name, s.voiceID, s.settings)
}

func (n *Narrator) cachePut(text string, s *session, audio []byte) {
	if n.cache == nil {
		return
	}
	if _, err := n.cache.Put(text, s.name, s.voiceID, s.settings, audio); err != nil {
		n.log.WithError(err).Warn("Failed to cache audio")
	}
}

// postProcess resamples to the configured rate and runs the effect chains
// that have stages configured.
func (n *Narrator) postProcess(buf *dsp.Buffer) (*dsp.Buffer, error) {
	var err error
	if rate := n.cfg.Audio.SampleRate; rate > 0 && rate != buf.SampleRate {
		if buf, err = dsp.Resample(buf, rate); err != nil {
			return nil, apperr.Pipeline(err, "failed to resample to %d Hz", rate)
		}
	}
	if len(n.cfg.Audio.Effects) > 0 {
		if buf, err = n.processor.ApplyEffects(buf, n.cfg.Audio.Effects); err != nil {
			return nil, err
		}
	}
	if len(n.cfg.Audio.Spectral) > 0 {
		if buf, err = n.processor.ApplySpectral(buf, n.cfg.Audio.Spectral); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (n *Narrator) save(ctx context.Context, buf *dsp.Buffer, format, path string) error {
	wav, err := dsp.EncodeWAV(buf)
	if err != nil {
		return apperr.Output(err, "failed to encode audio")
	}
	data, err := dsp.Transcode(ctx, wav, format)
	if err != nil {
		return apperr.Output(err, "failed to encode %s", format)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperr.Output(err, "failed to create %s", filepath.Dir(path))
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return apperr.Output(err, "failed to write %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperr.Output(err, "failed to write %s", path)
	}
	return nil
}

// ProcessBatch saves every file, process.parallel at a time. A failing file
// is reported in its Result and never stops the others. Results keep the
// order of paths.
func (n *Narrator) ProcessBatch(ctx context.Context, paths []string, opts Options) []Result {
	opts.Save = true
	results := make([]Result, len(paths))
	batchID := uuid.NewString()
	log := n.log.WithFields(logrus.Fields{
		"batch": batchID,
		"files": len(paths),
	})
	log.Info("Starting batch")

	limit := n.cfg.Process.Parallel
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			res, err := n.ProcessFile(ctx, path, opts)
			if err != nil {
				log.WithError(err).WithField("file", path).Error("Failed to process file")
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.WithField("failed", failed).Info("Batch finished")
	return results
}
