package tts

import (
	"errors"
	"testing"

	"readaloud/internal/config"
)

func newTestRegistry(t *testing.T, deps Dependencies) *Registry {
	t.Helper()
	r := NewRegistry(deps)
	r.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	t.Cleanup(r.Cleanup)
	return r
}

func TestRegistryMemoizes(t *testing.T) {
	r := newTestRegistry(t, testDeps())
	builds := 0
	if err := r.Register("counted", func(deps Dependencies) Engine {
		builds++
		return renamedMock(deps, "counted")
	}); err != nil {
		t.Fatal(err)
	}

	a, ok := r.Get("counted")
	if !ok {
		t.Fatal("Get failed")
	}
	b, _ := r.Get("counted")
	if a != b || builds != 1 {
		t.Errorf("got distinct instances or %d builds", builds)
	}
}

func TestRegistryUnregisterCleansUp(t *testing.T) {
	r := newTestRegistry(t, testDeps())
	e, ok := r.Get(EngineMock)
	if !ok {
		t.Fatal("mock not registered")
	}
	if !r.Unregister(EngineMock) {
		t.Error("Unregister reported not registered")
	}
	if e.(*MockEngine).State() != StateClosed {
		t.Error("instance was not cleaned up")
	}
	if _, ok := r.Get(EngineMock); ok {
		t.Error("Get succeeded after Unregister")
	}
	if r.Unregister(EngineMock) {
		t.Error("second Unregister reported registered")
	}
}

func TestRegistryReplaceCleansUpOldInstance(t *testing.T) {
	r := newTestRegistry(t, testDeps())
	old, _ := r.Get(EngineMock)
	if err := r.Register(EngineMock, NewMockEngine); err != nil {
		t.Fatal(err)
	}
	if old.(*MockEngine).State() != StateClosed {
		t.Error("old instance still open")
	}
	fresh, _ := r.Get(EngineMock)
	if fresh == old {
		t.Error("Get returned the replaced instance")
	}
}

func TestRegistryRejectsBadRegistrations(t *testing.T) {
	r := newTestRegistry(t, testDeps())
	if err := r.Register("", NewMockEngine); err == nil {
		t.Error("empty name accepted")
	}
	if err := r.Register(EngineAuto, NewMockEngine); err == nil {
		t.Error("auto accepted")
	}
	if err := r.Register("x", nil); err == nil {
		t.Error("nil factory accepted")
	}
}

func TestRegistryGetSurvivesPanickingFactory(t *testing.T) {
	r := newTestRegistry(t, testDeps())
	r.Register("broken", func(Dependencies) Engine { panic("boom") })
	if _, ok := r.Get("broken"); ok {
		t.Error("Get returned an engine from a panicking factory")
	}
	if _, ok := r.Get("unknown"); ok {
		t.Error("Get returned an unknown engine")
	}
}

func TestRegistryDiscoverSkipsBadPlugins(t *testing.T) {
	r := newTestRegistry(t, testDeps())
	got := r.Discover(
		Plugin{Name: "", Factory: NewMockEngine},
		Plugin{Name: "nofactory"},
		Plugin{Name: "panics", Factory: func(Dependencies) Engine { panic("boom") }},
		Plugin{Name: "nil", Factory: func(Dependencies) Engine { return nil }},
		Plugin{Name: "liar", Factory: NewMockEngine},
		Plugin{Name: "good", Factory: func(deps Dependencies) Engine { return renamedMock(deps, "good") }},
	)
	if len(got) != 1 || got[0] != "good" {
		t.Fatalf("registered %v, want [good]", got)
	}
	for _, name := range []string{"nofactory", "panics", "nil", "liar"} {
		if _, ok := r.Get(name); ok {
			t.Errorf("%s was registered", name)
		}
	}
	if _, ok := r.Get("good"); !ok {
		t.Error("good plugin missing")
	}
}

func TestRegistryResolveAuto(t *testing.T) {
	tests := []struct {
		name  string
		creds config.Credentials
		path  bool
		want  string
	}{
		{"nothing", config.Credentials{}, false, EngineMock},
		{"espeak", config.Credentials{}, true, EngineESpeak},
		{"elevenlabs", config.Credentials{ElevenLabsAPIKey: "k"}, true, EngineElevenLabs},
		{"openai", config.Credentials{OpenAIAPIKey: "k", ElevenLabsAPIKey: "k"}, true, EngineOpenAI},
		{"google", config.Credentials{GoogleCredentials: "/creds.json", OpenAIAPIKey: "k"}, true, EngineGoogle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			deps.Credentials = tt.creds
			r := newTestRegistry(t, deps)
			r.lookPath = func(file string) (string, error) {
				if tt.path && file == "espeak-ng" {
					return "/usr/bin/espeak-ng", nil
				}
				return "", errors.New("not found")
			}
			if got := r.Resolve(EngineAuto); got != tt.want {
				t.Errorf("Resolve(auto) = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRegistrySkipsDisabledEngines(t *testing.T) {
	deps := testDeps()
	deps.Credentials = config.Credentials{OpenAIAPIKey: "k"}
	deps.Engines = config.EnginesConfig{Disabled: []string{EngineOpenAI}}
	r := newTestRegistry(t, deps)

	if got := r.Resolve(EngineAuto); got != EngineMock {
		t.Errorf("Resolve(auto) = %s, want mock", got)
	}
	for _, name := range r.Names() {
		if name == EngineOpenAI {
			t.Error("disabled engine listed")
		}
	}
}

func TestRegistryAliases(t *testing.T) {
	deps := testDeps()
	deps.Engines = config.EnginesConfig{Aliases: map[string]string{
		"fake":   EngineMock,
		"broken": "nowhere",
	}}
	r := newTestRegistry(t, deps)

	direct, _ := r.Get(EngineMock)
	aliased, ok := r.Get("fake")
	if !ok || aliased != direct {
		t.Error("alias did not resolve to the shared instance")
	}
	if _, ok := r.Get("broken"); ok {
		t.Error("alias to an unknown engine resolved")
	}
	if err := r.Alias(EngineESpeak, EngineMock); err == nil {
		t.Error("alias shadowing a registered engine accepted")
	}
}

func TestRegistryInfoAndNames(t *testing.T) {
	r := newTestRegistry(t, testDeps())
	names := r.Names()
	want := []string{EngineElevenLabs, EngineESpeak, EngineGoogle, EngineMock, EngineOpenAI}
	if len(names) != len(want) {
		t.Fatalf("Names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
	for _, name := range names {
		d, ok := r.Info(name)
		if !ok || d.Name != name {
			t.Errorf("Info(%s) = %+v, %v", name, d, ok)
		}
	}
}

// renamedEngine reports a different descriptor name than the mock it wraps.
type renamedEngine struct {
	*MockEngine
	name string
}

func (r renamedEngine) Descriptor() Descriptor {
	d := r.MockEngine.Descriptor()
	d.Name = r.name
	return d
}

func renamedMock(deps Dependencies, name string) Engine {
	return renamedEngine{MockEngine: NewMockEngine(deps).(*MockEngine), name: name}
}
