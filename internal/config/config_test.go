package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shipnotes.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[general]
default_provider = "github"
default_ai = "openai"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Render.PollAttempts != 60 {
		t.Errorf("PollAttempts = %d, want 60", cfg.Render.PollAttempts)
	}
	if cfg.Render.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.Render.PollInterval)
	}
	if cfg.Pipeline.TopCommits != 10 {
		t.Errorf("TopCommits = %d, want 10", cfg.Pipeline.TopCommits)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfigFile(t, `
[general]
default_provider = "gitlab"
default_ai = "claude"

[providers.gitlab]
url = "https://gitlab.example.com"
token = "glpat-test"

[ai.claude]
api_key = "sk-test"
model = "claude-sonnet-4-20250514"

[render]
backend_url = "http://render.internal:9400"
poll_attempts = 12

[pipeline]
top_commits = 5
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.General.DefaultProvider != "gitlab" {
		t.Errorf("DefaultProvider = %q", cfg.General.DefaultProvider)
	}
	if cfg.Render.BackendURL != "http://render.internal:9400" {
		t.Errorf("BackendURL = %q", cfg.Render.BackendURL)
	}
	if cfg.Render.PollAttempts != 12 {
		t.Errorf("PollAttempts = %d, want 12", cfg.Render.PollAttempts)
	}
	if cfg.Pipeline.TopCommits != 5 {
		t.Errorf("TopCommits = %d, want 5", cfg.Pipeline.TopCommits)
	}

	if token, _ := cfg.Providers["gitlab"]["token"].(string); token != "glpat-test" {
		t.Errorf("gitlab token = %q", token)
	}
}

func TestValidate(t *testing.T) {
	path := writeConfigFile(t, `
[general]
default_provider = "github"
default_ai = "openai"

[providers.github]
token = "ghp-test"

[ai.openai]
api_key = "sk-test"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.AI = nil
	if err := Validate(cfg); err == nil {
		t.Error("missing AI config accepted")
	}
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := writeConfigFile(t, "# existing\n")
	if err := InitConfig(path); err == nil {
		t.Error("InitConfig overwrote an existing file")
	}
}
