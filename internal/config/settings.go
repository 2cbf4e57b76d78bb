package config

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bowerhall/pawd/internal/logger"
)

// ToolProfiles are the selectable tool policy presets.
var ToolProfiles = []string{"full", "safe", "none"}

// Settings holds the values mutable at runtime through chat commands:
// the active backend, per-backend model overrides, and the tool profile.
// Persisted as YAML next to the memory database.
type Settings struct {
	mu   sync.RWMutex
	path string
	data settingsData
}

type settingsData struct {
	AgentBackend string            `yaml:"agent_backend,omitempty"`
	Models       map[string]string `yaml:"models,omitempty"`
	ToolProfile  string            `yaml:"tool_profile,omitempty"`
}

// LoadSettings reads (or initializes) the settings file in dataDir.
func LoadSettings(dataDir string) (*Settings, error) {
	s := &Settings{
		path: filepath.Join(dataDir, "settings.yaml"),
	}

	raw, err := os.ReadFile(s.path)
	if err == nil {
		if err := yaml.Unmarshal(raw, &s.data); err != nil {
			logger.Warn("settings file unreadable, starting fresh", "path", s.path, "error", err)
			s.data = settingsData{}
		}
	}

	if s.data.Models == nil {
		s.data.Models = make(map[string]string)
	}
	if s.data.ToolProfile == "" {
		s.data.ToolProfile = "full"
	}

	return s, nil
}

func (s *Settings) AgentBackend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.AgentBackend
}

func (s *Settings) SetAgentBackend(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.AgentBackend = name
	return s.save()
}

// Model returns the model override for a backend, empty when unset.
func (s *Settings) Model(backend string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Models[backend]
}

func (s *Settings) SetModel(backend, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Models[backend] = model
	return s.save()
}

func (s *Settings) ToolProfile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.ToolProfile
}

func (s *Settings) SetToolProfile(profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.ToolProfile = profile
	return s.save()
}

// save writes under the held lock.
func (s *Settings) save() error {
	raw, err := yaml.Marshal(&s.data)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}

// IsValidToolProfile reports whether name is a known profile.
func IsValidToolProfile(name string) bool {
	for _, p := range ToolProfiles {
		if p == name {
			return true
		}
	}
	return false
}
