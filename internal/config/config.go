package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	General struct {
		DefaultProvider string `koanf:"default_provider"`
		DefaultAI       string `koanf:"default_ai"`
	} `koanf:"general"`

	Providers map[string]map[string]interface{} `koanf:"providers"`
	AI        map[string]map[string]interface{} `koanf:"ai"`

	Render struct {
		BackendURL   string        `koanf:"backend_url"`
		ArtifactDir  string        `koanf:"artifact_dir"`
		PollAttempts int           `koanf:"poll_attempts"`
		PollInterval time.Duration `koanf:"poll_interval"`
	} `koanf:"render"`

	Pipeline struct {
		TopCommits int `koanf:"top_commits"`
	} `koanf:"pipeline"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"general.default_provider": "github",
		"general.default_ai":       "openai",
		"render.poll_attempts":     60,
		"render.poll_interval":     5 * time.Second,
		"render.artifact_dir":      "./artifacts",
		"pipeline.top_commits":     10,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./shipnotes.toml", "$HOME/.shipnotes.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix SHIPNOTES_
	k.Load(env.Provider("SHIPNOTES_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(s), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# Shipnotes Configuration

[general]
default_provider = "github"
default_ai = "openai"

[providers.github]
token = "your-github-token"

[providers.gitlab]
url = "https://gitlab.example.com"
token = "your-gitlab-token"

[ai.openai]
api_key = "your-openai-api-key"
model = "gpt-4o-mini"
temperature = 0.2

[render]
backend_url = "http://localhost:9400"
artifact_dir = "./artifacts"
poll_attempts = 60
poll_interval = "5s"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.General.DefaultProvider == "" {
		return fmt.Errorf("default provider is required")
	}

	if config.General.DefaultAI == "" {
		return fmt.Errorf("default AI provider is required")
	}

	providerConfig, ok := config.Providers[config.General.DefaultProvider]
	if !ok {
		return fmt.Errorf("configuration for provider %s not found", config.General.DefaultProvider)
	}

	switch config.General.DefaultProvider {
	case "github":
		if _, ok := providerConfig["token"]; !ok {
			return fmt.Errorf("github token is required")
		}
	case "gitlab":
		if _, ok := providerConfig["url"]; !ok {
			return fmt.Errorf("gitlab url is required")
		}
		if _, ok := providerConfig["token"]; !ok {
			return fmt.Errorf("gitlab token is required")
		}
	}

	aiConfig, ok := config.AI[config.General.DefaultAI]
	if !ok {
		return fmt.Errorf("configuration for AI provider %s not found", config.General.DefaultAI)
	}

	if _, ok := aiConfig["api_key"]; !ok && config.General.DefaultAI != "ollama" {
		return fmt.Errorf("%s api_key is required", config.General.DefaultAI)
	}

	return nil
}
