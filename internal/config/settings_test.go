package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(t.TempDir())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if s.AgentBackend() != "" {
		t.Errorf("expected empty backend, got %q", s.AgentBackend())
	}
	if s.ToolProfile() != "full" {
		t.Errorf("expected default profile full, got %q", s.ToolProfile())
	}
	if s.Model("claude") != "" {
		t.Errorf("expected no model override, got %q", s.Model("claude"))
	}
}

func TestSettingsPersistAcrossLoads(t *testing.T) {
	dir := t.TempDir()

	s, _ := LoadSettings(dir)
	if err := s.SetAgentBackend("openai"); err != nil {
		t.Fatalf("set backend failed: %v", err)
	}
	if err := s.SetModel("openai", "gpt-4o"); err != nil {
		t.Fatalf("set model failed: %v", err)
	}
	if err := s.SetToolProfile("safe"); err != nil {
		t.Fatalf("set profile failed: %v", err)
	}

	reloaded, err := LoadSettings(dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.AgentBackend() != "openai" {
		t.Errorf("backend lost: %q", reloaded.AgentBackend())
	}
	if reloaded.Model("openai") != "gpt-4o" {
		t.Errorf("model lost: %q", reloaded.Model("openai"))
	}
	if reloaded.ToolProfile() != "safe" {
		t.Errorf("profile lost: %q", reloaded.ToolProfile())
	}
}

func TestSettingsCorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte("{{{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(dir)
	if err != nil {
		t.Fatalf("load should tolerate corrupt file: %v", err)
	}
	if s.ToolProfile() != "full" {
		t.Errorf("defaults not applied: %q", s.ToolProfile())
	}
}

func TestIsValidToolProfile(t *testing.T) {
	for _, p := range []string{"full", "safe", "none"} {
		if !IsValidToolProfile(p) {
			t.Errorf("%q rejected", p)
		}
	}
	if IsValidToolProfile("yolo") {
		t.Error("unknown profile accepted")
	}
}
