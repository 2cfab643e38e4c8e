package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pbaille/tweetpipe/internal/domain"
)

// SettingsFile is the settings document name inside the data directory
const SettingsFile = "tweetpipe_settings.json"

// ErrInvalidSettings is returned when an update carries an unsupported value
var ErrInvalidSettings = errors.New("invalid settings")

// DefaultSettings returns the built-in generation defaults.
// The API key is left empty; callers inject one from configuration.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		Provider: domain.ProviderGoogle,
		Model:    "gemini-1.5-pro",
		Mood:     "Funny, informative",
	}
}

// SettingsStore owns the singleton settings document
type SettingsStore struct {
	mu       sync.Mutex
	path     string
	defaults domain.Settings
}

// NewSettingsStore creates a store backed by dir/tweetpipe_settings.json
func NewSettingsStore(dir string, defaults domain.Settings) *SettingsStore {
	return &SettingsStore{
		path:     filepath.Join(dir, SettingsFile),
		defaults: fillSettings(defaults, DefaultSettings()),
	}
}

// Path returns the backing file location
func (s *SettingsStore) Path() string {
	return s.path
}

// Read returns the current settings, creating the document with defaults on first access
func (s *SettingsStore) Read(ctx context.Context) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Write merges patch over the current record and persists the result
func (s *SettingsStore) Write(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	var provider domain.Provider
	if patch.Provider != nil {
		p, err := domain.ParseProvider(*patch.Provider)
		if err != nil {
			return domain.Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
		provider = p
	}
	if patch.Model != nil && strings.TrimSpace(*patch.Model) == "" {
		return domain.Settings{}, fmt.Errorf("%w: model cannot be empty", ErrInvalidSettings)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return domain.Settings{}, err
	}

	if patch.Provider != nil {
		current.Provider = provider
	}
	if patch.Model != nil {
		current.Model = strings.TrimSpace(*patch.Model)
	}
	if patch.APIKey != nil {
		current.APIKey = strings.TrimSpace(*patch.APIKey)
	}
	if patch.Mood != nil {
		current.Mood = *patch.Mood
	}

	if err := writeJSON(s.path, current); err != nil {
		return domain.Settings{}, err
	}
	return current, nil
}

// load must be called with mu held
func (s *SettingsStore) load() (domain.Settings, error) {
	var stored domain.Settings
	exists, err := readJSON(s.path, &stored)
	if err != nil && !isDecodeError(err) {
		return domain.Settings{}, err
	}
	if !exists {
		if err := writeJSON(s.path, s.defaults); err != nil {
			return domain.Settings{}, err
		}
		return s.defaults, nil
	}
	if err != nil {
		// Unreadable record: serve defaults, leave the file for the user to fix.
		return s.defaults, nil
	}
	return fillSettings(stored, s.defaults), nil
}

// fillSettings replaces missing or unsupported fields of s with those of def
func fillSettings(s, def domain.Settings) domain.Settings {
	if p, err := domain.ParseProvider(string(s.Provider)); err != nil {
		s.Provider = def.Provider
	} else {
		s.Provider = p
	}
	if strings.TrimSpace(s.Model) == "" {
		s.Model = def.Model
	}
	if s.APIKey == "" {
		s.APIKey = def.APIKey
	}
	if s.Mood == "" {
		s.Mood = def.Mood
	}
	return s
}
