package profile

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"readaloud/internal/apperr"

	"github.com/sirupsen/logrus"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	s, err := NewStore(dir, l)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDefaultProfileIsBuiltIn(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	p, err := s.Get(DefaultName)
	if err != nil {
		t.Fatal(err)
	}
	if p.Engine != "auto" {
		t.Errorf("default engine = %s", p.Engine)
	}
	list := s.List()
	if len(list) != 1 || list[0].Name != DefaultName {
		t.Errorf("List = %+v", list)
	}
}

func TestMissingProfile(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	if _, err := s.Get("narrator"); !apperr.IsKind(err, apperr.KindConfiguration) {
		t.Errorf("error = %v, want CONFIGURATION", err)
	}
	if _, err := s.Update("narrator", nil); !apperr.IsKind(err, apperr.KindConfiguration) {
		t.Errorf("Update: %v", err)
	}
	if err := s.Delete("narrator"); !apperr.IsKind(err, apperr.KindConfiguration) {
		t.Errorf("Delete: %v", err)
	}
}

func TestCreatePersists(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	_, err := s.Create(Profile{
		Name:     "bedtime",
		Engine:   "mock",
		VoiceID:  "mock-deep",
		Settings: map[string]interface{}{"rate": 0.8},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(Profile{Name: "bedtime", Engine: "mock"}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("duplicate: %v", err)
	}

	reopened := newTestStore(t, dir)
	p, err := reopened.Get("bedtime")
	if err != nil {
		t.Fatal(err)
	}
	if p.Engine != "mock" || p.VoiceID != "mock-deep" || p.Settings["rate"] != 0.8 {
		t.Errorf("profile = %+v", p)
	}
}

func TestCreateValidates(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	for _, p := range []Profile{
		{Name: "", Engine: "mock"},
		{Name: "../escape", Engine: "mock"},
		{Name: "noengine"},
	} {
		if _, err := s.Create(p); !apperr.IsKind(err, apperr.KindValidation) {
			t.Errorf("Create(%+v) = %v, want VALIDATION", p, err)
		}
	}
}

func TestUpdateMergesSettings(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	s.Create(Profile{Name: "p", Engine: "mock", Settings: map[string]interface{}{"rate": 1.0, "stability": 0.5}})

	p, err := s.Update("p", map[string]interface{}{"rate": 1.5})
	if err != nil {
		t.Fatal(err)
	}
	if p.Settings["rate"] != 1.5 || p.Settings["stability"] != 0.5 {
		t.Errorf("settings = %v", p.Settings)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	s.Create(Profile{Name: "p", Engine: "mock", Settings: map[string]interface{}{"rate": 1.0}})

	p, _ := s.Get("p")
	p.Settings["rate"] = 2.0
	again, _ := s.Get("p")
	if again.Settings["rate"] != 1.0 {
		t.Error("mutating a returned profile changed the store")
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	s.Create(Profile{Name: "gone", Engine: "mock"})
	if err := s.Delete("gone"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone.yaml")); !os.IsNotExist(err) {
		t.Errorf("file still present: %v", err)
	}
}

func TestCloneExportImport(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	s.Create(Profile{Name: "src", Engine: "openai", VoiceID: "nova"})

	c, err := s.Clone("src", "copy")
	if err != nil || c.VoiceID != "nova" {
		t.Fatalf("Clone = %+v, %v", c, err)
	}

	out := filepath.Join(t.TempDir(), "exported.yaml")
	if err := s.Export("copy", out); err != nil {
		t.Fatal(err)
	}

	other := newTestStore(t, t.TempDir())
	p, err := other.Import(out)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "copy" || p.Engine != "openai" {
		t.Errorf("imported %+v", p)
	}
}

func TestReloadSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "good.yaml"), []byte("name: good\nengine: mock\n"), 0644)
	os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unterminated"), 0644)
	os.WriteFile(filepath.Join(dir, "anon.yml"), []byte("engine: mock\n"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("name: txt\nengine: mock\n"), 0644)

	s := newTestStore(t, dir)
	names := map[string]bool{}
	for _, p := range s.List() {
		names[p.Name] = true
	}
	if len(names) != 2 || !names["good"] || !names[DefaultName] {
		t.Errorf("profiles = %v", names)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func() { changed <- struct{}{} })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "live.yaml"), []byte("name: live\nengine: espeak\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if p, err := s.Get("live"); err == nil {
			if p.Engine != "espeak" {
				t.Errorf("engine = %s", p.Engine)
			}
			break
		}
		select {
		case <-changed:
		case <-deadline:
			t.Fatal("profile not reloaded")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop")
	}
}
