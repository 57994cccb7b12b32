package narrator

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"readaloud/internal/apperr"
	"readaloud/internal/audio/dsp"
	"readaloud/internal/config"
	"readaloud/internal/domain/profile"
	"readaloud/internal/speech/tts"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type fakePlayer struct {
	mu     sync.Mutex
	played []*dsp.Buffer
	stops  int
}

func (f *fakePlayer) Play(ctx context.Context, buf *dsp.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, buf)
	return nil
}

func (f *fakePlayer) Pause()  {}
func (f *fakePlayer) Resume() {}

func (f *fakePlayer) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	var cfg config.Config
	cfg.Cache = config.CacheConfig{
		Enabled:              true,
		Dir:                  filepath.Join(root, "cache"),
		MaxSizeMB:            10,
		MaxAgeDays:           7,
		CleanupIntervalHours: 24,
	}
	cfg.Profiles.Dir = filepath.Join(root, "profiles")
	cfg.TTS.Engine = tts.EngineMock
	cfg.Text.ChunkSize = 1000
	cfg.Process = config.ProcessConfig{Parallel: 2, OutputDir: filepath.Join(root, "out")}
	cfg.Audio = config.AudioConfig{FrameLength: 512, HopLength: 128}
	return cfg
}

func newTestNarrator(t *testing.T, cfg config.Config) (*Narrator, *fakePlayer) {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	player := &fakePlayer{}
	n, err := New(cfg, l, WithPlayer(player))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { n.Close() })
	return n, player
}

func mockEngine(t *testing.T, n *Narrator) *tts.MockEngine {
	t.Helper()
	e, ok := n.Registry().Get(tts.EngineMock)
	if !ok {
		t.Fatal("mock engine not registered")
	}
	return e.(*tts.MockEngine)
}

func writeDoc(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessFileSavesAndCaches(t *testing.T) {
	cfg := testConfig(t)
	n, _ := newTestNarrator(t, cfg)
	doc := writeDoc(t, t.TempDir(), "story.txt", "Once upon a time there was a quiet fox.")

	res, err := n.ProcessFile(context.Background(), doc, Options{Format: "wav", Save: true})
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(cfg.Process.OutputDir, "story.wav")
	if res.Output != want || res.Engine != tts.EngineMock || res.Chunks != 1 || res.CacheHits != 0 {
		t.Errorf("result = %+v", res)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := dsp.Decode(data, "wav")
	if err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 || buf.SampleRate != 22050 {
		t.Errorf("decoded %d frames at %d Hz", buf.Len(), buf.SampleRate)
	}

	calls := mockEngine(t, n).SpeakCalls()
	again, err := n.ProcessFile(context.Background(), doc, Options{Format: "wav", Save: true})
	if err != nil {
		t.Fatal(err)
	}
	if again.CacheHits != 1 {
		t.Errorf("second run cache hits = %d", again.CacheHits)
	}
	if got := mockEngine(t, n).SpeakCalls(); got != calls {
		t.Errorf("engine called %d more times on a cached run", got-calls)
	}
	if n.Cache().Stats().EntryCount != 1 {
		t.Errorf("cache entries = %d", n.Cache().Stats().EntryCount)
	}
}

func TestProcessFileValidatesBeforeEngineWork(t *testing.T) {
	n, _ := newTestNarrator(t, testConfig(t))
	doc := writeDoc(t, t.TempDir(), "a.txt", "hello")

	tests := map[string]struct {
		path string
		opts Options
	}{
		"missing file":   {filepath.Join(t.TempDir(), "nope.txt"), Options{Save: true}},
		"directory":      {t.TempDir(), Options{Save: true}},
		"bad format":     {doc, Options{Format: "flac", Save: true}},
		"unknown binary": {writeDoc(t, t.TempDir(), "blob", "\x00\x01\xff"), Options{Save: true}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := n.ProcessFile(context.Background(), tt.path, tt.opts)
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Errorf("error = %v, want VALIDATION", err)
			}
			if res.Err != err {
				t.Errorf("result error not recorded")
			}
		})
	}
	if calls := mockEngine(t, n).SpeakCalls(); calls != 0 {
		t.Errorf("engine synthesized %d times", calls)
	}
}

func TestProcessFileMissingProfile(t *testing.T) {
	n, _ := newTestNarrator(t, testConfig(t))
	doc := writeDoc(t, t.TempDir(), "a.txt", "hello")
	_, err := n.ProcessFile(context.Background(), doc, Options{Profile: "narrator", Save: true, Format: "wav"})
	if !apperr.IsKind(err, apperr.KindConfiguration) {
		t.Errorf("error = %v, want CONFIGURATION", err)
	}
}

func TestProcessFileRejectsBadProfileSettings(t *testing.T) {
	n, _ := newTestNarrator(t, testConfig(t))
	if _, err := n.Profiles().Create(profile.Profile{
		Name:     "shaky",
		Engine:   tts.EngineMock,
		Settings: map[string]interface{}{"stability": 1.5},
	}); err != nil {
		t.Fatal(err)
	}
	doc := writeDoc(t, t.TempDir(), "a.txt", "hello")
	_, err := n.ProcessFile(context.Background(), doc, Options{Profile: "shaky", Save: true, Format: "wav"})
	if !apperr.IsKind(err, apperr.KindEngine) {
		t.Errorf("error = %v, want ENGINE", err)
	}
}

func TestProfileSettingsSeparateCacheEntries(t *testing.T) {
	n, _ := newTestNarrator(t, testConfig(t))
	n.Profiles().Create(profile.Profile{Name: "deep", Engine: tts.EngineMock, VoiceID: "mock-deep"})
	doc := writeDoc(t, t.TempDir(), "a.txt", "the same words")

	if _, err := n.ProcessFile(context.Background(), doc, Options{Save: true, Format: "wav"}); err != nil {
		t.Fatal(err)
	}
	res, err := n.ProcessFile(context.Background(), doc, Options{Profile: "deep", Save: true, Format: "wav"})
	if err != nil {
		t.Fatal(err)
	}
	if res.CacheHits != 0 {
		t.Error("a different voice reused cached audio")
	}
	if n.Cache().Stats().EntryCount != 2 {
		t.Errorf("cache entries = %d", n.Cache().Stats().EntryCount)
	}
}

func TestProcessFileChunksLongText(t *testing.T) {
	cfg := testConfig(t)
	cfg.Text.ChunkSize = 20
	n, _ := newTestNarrator(t, cfg)
	doc := writeDoc(t, t.TempDir(), "long.md", "# Heading\n\n"+strings.Repeat("word ", 30))

	res, err := n.ProcessFile(context.Background(), doc, Options{Save: true, Format: "wav"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks < 7 {
		t.Errorf("chunks = %d", res.Chunks)
	}
	if mockEngine(t, n).SpeakCalls() != res.Chunks-res.CacheHits {
		t.Errorf("speak calls %d for %d chunks (%d cached)", mockEngine(t, n).SpeakCalls(), res.Chunks, res.CacheHits)
	}
}

func TestProcessFileWithoutCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = false
	n, _ := newTestNarrator(t, cfg)
	if n.Cache() != nil {
		t.Fatal("cache built while disabled")
	}
	doc := writeDoc(t, t.TempDir(), "a.txt", "no cache here")
	for i := 0; i < 2; i++ {
		if _, err := n.ProcessFile(context.Background(), doc, Options{Save: true, Format: "wav"}); err != nil {
			t.Fatal(err)
		}
	}
	if calls := mockEngine(t, n).SpeakCalls(); calls != 2 {
		t.Errorf("speak calls = %d", calls)
	}
}

func TestProcessFileAppliesEffectsAndResamples(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audio.SampleRate = 16000
	cfg.Audio.Effects = map[string]interface{}{"echo": map[string]interface{}{"delay": 0.05, "taps": 2}}
	cfg.Audio.Spectral = map[string]interface{}{"phase_correction": true}
	n, _ := newTestNarrator(t, cfg)
	doc := writeDoc(t, t.TempDir(), "a.txt", "echo echo")

	res, err := n.ProcessFile(context.Background(), doc, Options{Save: true, Format: "wav"})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(res.Output)
	buf, err := dsp.Decode(data, "wav")
	if err != nil {
		t.Fatal(err)
	}
	if buf.SampleRate != 16000 {
		t.Errorf("sample rate = %d", buf.SampleRate)
	}
}

func TestProcessFileBadEffectIsPipelineError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audio.Effects = map[string]interface{}{"echo": map[string]interface{}{"delay": -1.0}}
	n, _ := newTestNarrator(t, cfg)
	doc := writeDoc(t, t.TempDir(), "a.txt", "hello")
	_, err := n.ProcessFile(context.Background(), doc, Options{Save: true, Format: "wav"})
	if !apperr.IsKind(err, apperr.KindPipeline) {
		t.Errorf("error = %v, want PIPELINE", err)
	}
}

func TestProcessFilePlaysWhenNotSaving(t *testing.T) {
	cfg := testConfig(t)
	n, player := newTestNarrator(t, cfg)
	doc := writeDoc(t, t.TempDir(), "a.txt", "read me aloud")

	res, err := n.ProcessFile(context.Background(), doc, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "" || len(player.played) != 1 || player.played[0].Len() == 0 {
		t.Errorf("result %+v, played %d buffers", res, len(player.played))
	}
	if _, err := os.Stat(cfg.Process.OutputDir); !os.IsNotExist(err) {
		t.Error("output directory written during playback")
	}
}

func TestProcessBatchReportsEachFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Process.Parallel = 3
	n, _ := newTestNarrator(t, cfg)
	dir := t.TempDir()
	paths := []string{
		writeDoc(t, dir, "one.txt", "first document"),
		filepath.Join(dir, "missing.txt"),
		writeDoc(t, dir, "two.md", "second *document*"),
		writeDoc(t, dir, "three.txt", "third document"),
	}

	results := n.ProcessBatch(context.Background(), paths, Options{Format: "wav"})
	if len(results) != len(paths) {
		t.Fatalf("%d results", len(results))
	}
	for i, r := range results {
		if r.Input != paths[i] {
			t.Errorf("result %d is for %s", i, r.Input)
		}
		if i == 1 {
			if !apperr.IsKind(r.Err, apperr.KindValidation) {
				t.Errorf("missing file error = %v", r.Err)
			}
			continue
		}
		if r.Err != nil {
			t.Errorf("%s: %v", r.Input, r.Err)
		}
		if _, err := os.Stat(r.Output); err != nil {
			t.Errorf("%s not saved: %v", r.Input, err)
		}
	}
}

func TestStopReachesPlayer(t *testing.T) {
	n, player := newTestNarrator(t, testConfig(t))
	n.Stop()
	if player.stops != 1 {
		t.Errorf("player stops = %d", player.stops)
	}
}

func runCommand(t *testing.T, n *Narrator, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "readaloud", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(n.Commands(context.Background())...)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestProfileCommands(t *testing.T) {
	cfg := testConfig(t)
	n, _ := newTestNarrator(t, cfg)

	if _, err := runCommand(t, n, "profiles", "create", "bedtime", "--engine", "mock", "--voice-id", "mock-deep", "--set", "rate=0.8"); err != nil {
		t.Fatal(err)
	}
	p, err := n.Profiles().Get("bedtime")
	if err != nil {
		t.Fatal(err)
	}
	if p.VoiceID != "mock-deep" || p.Settings["rate"] != "0.8" {
		t.Errorf("profile = %+v", p)
	}

	out, err := runCommand(t, n, "profiles", "list")
	if err != nil || !strings.Contains(out, "bedtime") || !strings.Contains(out, "default") {
		t.Errorf("list: %v\n%s", err, out)
	}

	doc := writeDoc(t, t.TempDir(), "night.txt", "good night moon")
	outDir := t.TempDir()
	out, err = runCommand(t, n, "process", doc, "-v", "bedtime", "-s", "-f", "wav", "-o", outDir)
	if err != nil {
		t.Fatalf("process: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(outDir, "night.wav")); err != nil {
		t.Error(err)
	}

	if _, err := runCommand(t, n, "profiles", "delete", "bedtime"); err != nil {
		t.Fatal(err)
	}
	if _, err := n.Profiles().Get("bedtime"); err == nil {
		t.Error("profile still present")
	}
}

func TestProcessCommandReportsFailures(t *testing.T) {
	n, _ := newTestNarrator(t, testConfig(t))
	out, err := runCommand(t, n, "process", filepath.Join(t.TempDir(), "gone.txt"), "-s", "-f", "wav")
	if err == nil || !strings.Contains(out, "gone.txt") {
		t.Errorf("err = %v, output:\n%s", err, out)
	}
}

func TestCacheAndEngineCommands(t *testing.T) {
	n, _ := newTestNarrator(t, testConfig(t))
	doc := writeDoc(t, t.TempDir(), "a.txt", "fill the cache")
	if _, err := n.ProcessFile(context.Background(), doc, Options{Save: true, Format: "wav"}); err != nil {
		t.Fatal(err)
	}

	out, err := runCommand(t, n, "cache", "stats")
	if err != nil || !strings.Contains(out, "Entries: 1") {
		t.Errorf("stats: %v\n%s", err, out)
	}
	if _, err := runCommand(t, n, "cache", "clear"); err != nil {
		t.Fatal(err)
	}
	if n.Cache().Stats().EntryCount != 0 {
		t.Error("cache not cleared")
	}

	out, err = runCommand(t, n, "engines", "list")
	if err != nil || !strings.Contains(out, "mock") {
		t.Errorf("engines list: %v\n%s", err, out)
	}
	out, err = runCommand(t, n, "engines", "voices", "mock")
	if err != nil || !strings.Contains(out, "mock-bright") {
		t.Errorf("engines voices: %v\n%s", err, out)
	}
}

func TestBatchCommandScansDirectory(t *testing.T) {
	n, _ := newTestNarrator(t, testConfig(t))
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "alpha")
	writeDoc(t, dir, "b.md", "beta")
	writeDoc(t, dir, "ignored.log", "nope")
	outDir := t.TempDir()

	if out, err := runCommand(t, n, "batch", dir, "-o", outDir); err != nil {
		t.Fatalf("batch: %v\n%s", err, out)
	}
	for _, name := range []string{"a.wav", "b.wav"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Error(err)
		}
	}
}
