// Package profile stores named voice profiles as YAML files.
package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"readaloud/internal/apperr"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultName is served from memory when no file defines it.
const DefaultName = "default"

// Profile selects an engine, a voice and engine settings.
type Profile struct {
	Name     string                 `yaml:"name"`
	Engine   string                 `yaml:"engine"`
	VoiceID  string                 `yaml:"voice_id,omitempty"`
	Settings map[string]interface{} `yaml:"settings,omitempty"`
}

// Default is the profile used when nothing else is configured.
func Default() Profile {
	return Profile{Name: DefaultName, Engine: "auto", Settings: map[string]interface{}{}}
}

func (p Profile) clone() Profile {
	c := p
	c.Settings = make(map[string]interface{}, len(p.Settings))
	for k, v := range p.Settings {
		c.Settings[k] = v
	}
	return c
}

// Store keeps one YAML file per profile in a directory.
type Store struct {
	dir string
	log logrus.FieldLogger

	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewStore creates dir if needed and loads every profile in it.
func NewStore(dir string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperr.Configuration(err, "failed to create profiles dir %s", dir)
	}
	s := &Store{
		dir:      dir,
		log:      log.WithField("component", "profiles"),
		profiles: make(map[string]Profile),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func isProfileFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Reload rereads the directory. Files that fail to parse are logged and
// skipped.
func (s *Store) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return apperr.Configuration(err, "failed to read profiles dir %s", s.dir)
	}

	profiles := make(map[string]Profile)
	for _, entry := range entries {
		if entry.IsDir() || !isProfileFile(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		p, err := readProfile(path)
		if err != nil {
			s.log.WithError(err).WithField("file", path).Warn("Skipping unreadable profile")
			continue
		}
		profiles[p.Name] = p
	}

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()

	s.log.WithField("count", len(profiles)).Debug("Loaded voice profiles")
	return nil
}

func readProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, err
	}
	if p.Name == "" {
		return Profile{}, fmt.Errorf("profile has no name")
	}
	if p.Engine == "" {
		return Profile{}, fmt.Errorf("profile %s has no engine", p.Name)
	}
	if p.Settings == nil {
		p.Settings = map[string]interface{}{}
	}
	return p, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return apperr.Validation("invalid profile name %q", name)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

// Get returns a copy of the named profile. The built-in default is returned
// for DefaultName when no file overrides it.
func (s *Store) Get(name string) (Profile, error) {
	s.mu.RLock()
	p, ok := s.profiles[name]
	s.mu.RUnlock()
	if ok {
		return p.clone(), nil
	}
	if name == DefaultName {
		return Default(), nil
	}
	return Profile{}, apperr.Configuration(nil, "profile %q not found", name).WithContext("profile", name)
}

// List returns every profile sorted by name, including the built-in default.
func (s *Store) List() []Profile {
	s.mu.RLock()
	list := make([]Profile, 0, len(s.profiles)+1)
	for _, p := range s.profiles {
		list = append(list, p.clone())
	}
	_, hasDefault := s.profiles[DefaultName]
	s.mu.RUnlock()

	if !hasDefault {
		list = append(list, Default())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Create writes a new profile. It fails if the name is taken.
func (s *Store) Create(p Profile) (Profile, error) {
	if err := validName(p.Name); err != nil {
		return Profile{}, err
	}
	if p.Engine == "" {
		return Profile{}, apperr.Validation("profile %s needs an engine", p.Name)
	}
	p = p.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.Name]; exists {
		return Profile{}, apperr.Validation("profile %q already exists", p.Name)
	}
	if err := s.writeLocked(p); err != nil {
		return Profile{}, err
	}
	s.profiles[p.Name] = p
	s.log.WithFields(logrus.Fields{"profile": p.Name, "engine": p.Engine}).Info("Created voice profile")
	return p.clone(), nil
}

// Update merges settings into an existing profile.
func (s *Store) Update(name string, settings map[string]interface{}) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.profiles[name]
	if !ok {
		return Profile{}, apperr.Configuration(nil, "profile %q not found", name)
	}
	p := current.clone()
	for k, v := range settings {
		p.Settings[k] = v
	}
	if err := s.writeLocked(p); err != nil {
		return Profile{}, err
	}
	s.profiles[name] = p
	return p.clone(), nil
}

// Delete removes a profile file.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[name]; !ok {
		return apperr.Configuration(nil, "profile %q not found", name)
	}
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return apperr.Configuration(err, "failed to delete profile %s", name)
	}
	delete(s.profiles, name)
	s.log.WithField("profile", name).Info("Deleted voice profile")
	return nil
}

// Clone copies an existing profile under a new name.
func (s *Store) Clone(name, newName string) (Profile, error) {
	src, err := s.Get(name)
	if err != nil {
		return Profile{}, err
	}
	src.Name = newName
	return s.Create(src)
}

// Export writes a profile to an arbitrary path.
func (s *Store) Export(name, path string) error {
	p, err := s.Get(name)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return apperr.Output(err, "failed to encode profile %s", name)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return apperr.Output(err, "failed to write %s", path)
	}
	return nil
}

// Import creates a profile from a YAML file.
func (s *Store) Import(path string) (Profile, error) {
	p, err := readProfile(path)
	if err != nil {
		return Profile{}, apperr.Validation("cannot import %s: %v", path, err)
	}
	return s.Create(p)
}

func (s *Store) writeLocked(p Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return apperr.Configuration(err, "failed to encode profile %s", p.Name)
	}
	tmp, err := os.CreateTemp(s.dir, ".profile-*")
	if err != nil {
		return apperr.Configuration(err, "failed to write profile %s", p.Name)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp.Name(), s.path(p.Name))
	}
	if werr != nil {
		os.Remove(tmp.Name())
		return apperr.Configuration(werr, "failed to write profile %s", p.Name)
	}
	return nil
}

// Watch reloads the store whenever a profile file in the directory changes.
// It blocks until ctx is done. onChange, if set, runs after each reload.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperr.Configuration(err, "failed to create profile watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return apperr.Configuration(err, "failed to watch %s", s.dir)
	}
	s.log.WithField("dir", s.dir).Debug("Watching voice profiles")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isProfileFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.log.WithError(err).Warn("Profile reload failed")
				continue
			}
			s.log.WithField("file", event.Name).Info("Reloaded voice profiles")
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.WithError(err).Warn("Profile watcher error")
		}
	}
}
