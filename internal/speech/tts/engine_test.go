package tts

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"readaloud/internal/apperr"
	"readaloud/internal/audio/dsp"

	"github.com/sirupsen/logrus"
)

func testDeps() Dependencies {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return Dependencies{Logger: l}
}

func newMock(t *testing.T) *MockEngine {
	t.Helper()
	m := NewMockEngine(testDeps()).(*MockEngine)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m
}

func TestConfigureOutOfRangeKeepsSettings(t *testing.T) {
	m := newMock(t)
	if err := m.Configure(map[string]interface{}{"rate": 1.5}); err != nil {
		t.Fatal(err)
	}
	before := m.Settings()

	err := m.Configure(map[string]interface{}{"stability": 1.5, "rate": 0.75})
	if !apperr.IsKind(err, apperr.KindEngine) {
		t.Fatalf("error = %v, want ENGINE", err)
	}
	after := m.Settings()
	for k, v := range before {
		if after[k] != v {
			t.Errorf("%s changed from %v to %v", k, v, after[k])
		}
	}
}

func TestConfigureCoercesAndIgnoresUnknownKeys(t *testing.T) {
	m := newMock(t)
	err := m.Configure(map[string]interface{}{
		"stability": "0.25",
		"volume":    99,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := m.Settings()
	if got := s["stability"]; got != 0.25 {
		t.Errorf("stability = %v", got)
	}
	if _, ok := s["volume"]; ok {
		t.Error("unknown key was stored")
	}
}

func TestSettingsReturnsCopy(t *testing.T) {
	m := newMock(t)
	s := m.Settings()
	s["rate"] = 2.0
	if got := m.Settings()["rate"]; got != 1.0 {
		t.Errorf("rate = %v after mutating the copy", got)
	}
}

func TestBounds(t *testing.T) {
	tests := []struct {
		b    bounds
		v    float64
		want bool
	}{
		{bounds{lo: 0, hi: 1}, 0, true},
		{bounds{lo: 0, hi: 1}, 1, true},
		{bounds{lo: 0, hi: 1}, 1.01, false},
		{bounds{lo: 0, hi: 3, openLo: true}, 0, false},
		{bounds{lo: 0, hi: 3, openLo: true}, 0.1, true},
	}
	for _, tt := range tests {
		if got := tt.b.contains(tt.v); got != tt.want {
			t.Errorf("%s contains %v = %v", tt.b, tt.v, got)
		}
	}
}

func TestCheckText(t *testing.T) {
	d := Descriptor{Name: "x", MaxTextLength: 5}
	if err := checkText(d, "  \n"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("blank text: %v", err)
	}
	if err := checkText(d, "héllo"); err != nil {
		t.Errorf("five runes rejected: %v", err)
	}
	if err := checkText(d, "hello!"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("six runes accepted: %v", err)
	}
}

func TestMockSpeakIsDeterministicWAV(t *testing.T) {
	m := newMock(t)
	a, err := m.Speak(context.Background(), "hello there world")
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Speak(context.Background(), "hello there world")
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Error("same text produced different audio")
	}
	if m.SpeakCalls() != 2 {
		t.Errorf("SpeakCalls = %d", m.SpeakCalls())
	}

	buf, err := dsp.Decode(a, "wav")
	if err != nil {
		t.Fatal(err)
	}
	if buf.SampleRate != mockSampleRate || buf.Len() == 0 {
		t.Errorf("decoded %d frames at %d Hz", buf.Len(), buf.SampleRate)
	}
	if m.IsSpeaking() {
		t.Error("still speaking after Speak returned")
	}
}

func TestMockRateChangesLength(t *testing.T) {
	m := newMock(t)
	slow, err := m.Speak(context.Background(), "one two three")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Configure(map[string]interface{}{"rate": 2}); err != nil {
		t.Fatal(err)
	}
	fast, err := m.Speak(context.Background(), "one two three")
	if err != nil {
		t.Fatal(err)
	}
	if len(fast) >= len(slow) {
		t.Errorf("rate 2 gave %d bytes, rate 1 gave %d", len(fast), len(slow))
	}
}

func TestMockVoices(t *testing.T) {
	m := newMock(t)
	v, err := m.GetVoiceInfo(context.Background(), "mock-deep")
	if err != nil || v.Gender != "MALE" {
		t.Errorf("GetVoiceInfo = %+v, %v", v, err)
	}
	if _, err := m.GetVoiceInfo(context.Background(), "nobody"); !apperr.IsKind(err, apperr.KindEngine) {
		t.Errorf("unknown voice: %v", err)
	}
	if err := m.SetVoice("nobody"); err == nil {
		t.Error("SetVoice accepted an unknown voice")
	}
	if err := m.SetVoice("mock-bright"); err != nil {
		t.Error(err)
	}
}

func TestTextToFileCreatesDirectories(t *testing.T) {
	m := newMock(t)
	path := filepath.Join(t.TempDir(), "nested", "out.wav")

	got, err := m.TextToFile(context.Background(), "file output", path)
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("path = %s", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "RIFF") {
		t.Error("file is not a WAV")
	}
}

func TestSpeakBeforeInitialize(t *testing.T) {
	m := NewMockEngine(testDeps())
	if _, err := m.Speak(context.Background(), "hi"); !apperr.IsKind(err, apperr.KindEngine) {
		t.Errorf("error = %v, want ENGINE", err)
	}
}

func TestSpeakAfterCleanup(t *testing.T) {
	m := newMock(t)
	if err := m.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if err := m.Cleanup(); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
	if _, err := m.Speak(context.Background(), "hi"); !apperr.IsKind(err, apperr.KindEngine) {
		t.Errorf("error = %v, want ENGINE", err)
	}
	if err := m.Initialize(context.Background()); err == nil {
		t.Error("Initialize after Cleanup succeeded")
	}
}
