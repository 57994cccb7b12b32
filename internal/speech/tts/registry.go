package tts

import (
	"fmt"
	"os/exec"
	"sort"
	"sync"

	"readaloud/internal/apperr"

	"github.com/sirupsen/logrus"
)

// Plugin is one entry of a static engine table handed to Discover.
type Plugin struct {
	Name    string
	Factory Factory
}

// Builtins returns the engines that ship with readaloud.
func Builtins() []Plugin {
	return []Plugin{
		{Name: EngineMock, Factory: NewMockEngine},
		{Name: EngineESpeak, Factory: NewESpeakEngine},
		{Name: EngineGoogle, Factory: NewGoogleEngine},
		{Name: EngineOpenAI, Factory: NewOpenAIEngine},
		{Name: EngineElevenLabs, Factory: NewElevenLabsEngine},
	}
}

// Registry maps engine names to factories and holds one lazily built instance
// per name.
type Registry struct {
	deps Dependencies
	log  logrus.FieldLogger

	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Engine
	aliases   map[string]string

	lookPath func(file string) (string, error)
}

// NewRegistry returns a registry holding the built-in engines minus those
// disabled in the config, with the configured aliases applied.
func NewRegistry(deps Dependencies) *Registry {
	r := &Registry{
		deps:      deps,
		log:       deps.baseLogger().WithField("component", "tts-registry"),
		factories: make(map[string]Factory),
		instances: make(map[string]Engine),
		aliases:   make(map[string]string),
		lookPath:  exec.LookPath,
	}
	for _, p := range Builtins() {
		r.factories[p.Name] = p.Factory
	}
	for _, name := range deps.Engines.Disabled {
		delete(r.factories, name)
		r.log.WithField("engine_name", name).Debug("Engine disabled by config")
	}
	aliases := make([]string, 0, len(deps.Engines.Aliases))
	for alias := range deps.Engines.Aliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		if err := r.Alias(alias, deps.Engines.Aliases[alias]); err != nil {
			r.log.WithError(err).Warn("Ignoring engine alias")
		}
	}
	return r
}

// Register adds or replaces a factory. Replacing a name cleans up the instance
// built by the old factory.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || name == EngineAuto {
		return apperr.Validation("invalid engine name %q", name)
	}
	if factory == nil {
		return apperr.Validation("engine %s has no factory", name)
	}

	r.mu.Lock()
	old := r.instances[name]
	delete(r.instances, name)
	r.factories[name] = factory
	r.mu.Unlock()

	if old != nil {
		r.cleanupInstance(name, old)
	}
	return nil
}

// Unregister removes a factory and cleans up its instance. It reports whether
// the name was registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.factories[name]
	inst := r.instances[name]
	delete(r.factories, name)
	delete(r.instances, name)
	r.mu.Unlock()

	if inst != nil {
		r.cleanupInstance(name, inst)
	}
	return ok
}

// Alias makes alias resolve to target. The target must be registered.
func (r *Registry) Alias(alias, target string) error {
	if alias == "" || alias == EngineAuto {
		return apperr.Validation("invalid engine alias %q", alias)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[target]; !ok {
		return apperr.Configuration(nil, "alias %s points at unknown engine %s", alias, target)
	}
	if _, ok := r.factories[alias]; ok {
		return apperr.Configuration(nil, "alias %s shadows a registered engine", alias)
	}
	r.aliases[alias] = target
	return nil
}

// Get returns the shared instance for name, building it on first use. "auto"
// and aliases are resolved first. It returns false when the name is not
// registered or its factory fails.
func (r *Registry) Get(name string) (Engine, bool) {
	name = r.Resolve(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[name]; ok {
		return inst, true
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	inst, err := r.build(name, factory)
	if err != nil {
		r.log.WithError(err).WithField("engine_name", name).Warn("Engine factory failed")
		return nil, false
	}
	r.instances[name] = inst
	return inst, true
}

// build runs a factory, turning a panic or a nil engine into an error.
func (r *Registry) build(name string, factory Factory) (e Engine, err error) {
	defer func() {
		if p := recover(); p != nil {
			e, err = nil, apperr.Engine(fmt.Errorf("%v", p), "engine %s factory panicked", name)
		}
	}()
	e = factory(r.deps)
	if e == nil {
		return nil, apperr.Engine(nil, "engine %s factory returned nil", name)
	}
	return e, nil
}

// Names returns the registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the descriptor of a registered engine.
func (r *Registry) Info(name string) (Descriptor, bool) {
	e, ok := r.Get(name)
	if !ok {
		return Descriptor{}, false
	}
	return e.Descriptor(), true
}

// Resolve maps "auto" and aliases to a concrete engine name. Other names are
// returned unchanged.
func (r *Registry) Resolve(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if target, ok := r.aliases[name]; ok {
		return target
	}
	if name != EngineAuto {
		return name
	}

	creds := r.deps.Credentials
	candidates := []struct {
		name      string
		available bool
	}{
		{EngineGoogle, creds.HasGoogle()},
		{EngineOpenAI, creds.OpenAIAPIKey != ""},
		{EngineElevenLabs, creds.ElevenLabsAPIKey != ""},
		{EngineESpeak, r.espeakOnPath()},
	}
	for _, c := range candidates {
		if _, registered := r.factories[c.name]; registered && c.available {
			r.log.WithField("engine_name", c.name).Debug("Auto-selected engine")
			return c.name
		}
	}
	return EngineMock
}

func (r *Registry) espeakOnPath() bool {
	if bin := r.deps.Engines.ESpeak.Binary; bin != "" {
		_, err := r.lookPath(bin)
		return err == nil
	}
	for _, candidate := range espeakCandidates {
		if _, err := r.lookPath(candidate); err == nil {
			return true
		}
	}
	return false
}

// Discover registers each plugin whose factory builds an engine reporting the
// plugin's name. Bad plugins are logged and skipped. It returns the names
// that were registered.
func (r *Registry) Discover(plugins ...Plugin) []string {
	var registered []string
	for _, p := range plugins {
		log := r.log.WithField("plugin", p.Name)
		if p.Name == "" || p.Name == EngineAuto {
			log.Warn("Skipping plugin with invalid name")
			continue
		}
		if p.Factory == nil {
			log.Warn("Skipping plugin without factory")
			continue
		}

		inst, err := r.build(p.Name, p.Factory)
		if err != nil {
			log.WithError(err).Warn("Skipping plugin")
			continue
		}
		if got := inst.Descriptor().Name; got != p.Name {
			log.WithField("descriptor_name", got).Warn("Skipping plugin with mismatched descriptor")
			_ = inst.Cleanup()
			continue
		}

		r.mu.Lock()
		old := r.instances[p.Name]
		r.factories[p.Name] = p.Factory
		r.instances[p.Name] = inst
		r.mu.Unlock()
		if old != nil && old != inst {
			r.cleanupInstance(p.Name, old)
		}

		log.Debug("Registered plugin")
		registered = append(registered, p.Name)
	}
	return registered
}

// Cleanup releases every built instance. Factories stay registered, so a later
// Get builds a fresh engine.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]Engine)
	r.mu.Unlock()

	for name, inst := range instances {
		r.cleanupInstance(name, inst)
	}
}

func (r *Registry) cleanupInstance(name string, e Engine) {
	if err := e.Cleanup(); err != nil {
		r.log.WithError(err).WithField("engine_name", name).Warn("Engine cleanup failed")
	}
}
