package cmd

import (
	"context"
	"fmt"

	"github.com/shipnotes/internal/config"
	"github.com/shipnotes/internal/connectors"
	"github.com/shipnotes/internal/highlight"
	"github.com/shipnotes/internal/pipeline"
	"github.com/shipnotes/internal/render"
	"github.com/shipnotes/internal/stats"
	"github.com/shipnotes/internal/summarize"
)

// pipelineStack bundles everything a generation run needs
type pipelineStack struct {
	fetcher    stats.Fetcher
	summarizer summarize.Summarizer
	extractor  highlight.Extractor
	renderer   *render.Orchestrator
}

// buildStack constructs the fetcher, AI stages, and render orchestrator
// from configuration. renderStore receives render attempt persistence.
func buildStack(ctx context.Context, cfg *config.Config, providerName, aiName string, renderStore render.Store) (*pipelineStack, error) {
	fetcher, err := createFetcher(providerName, cfg.Providers[providerName])
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	connector, err := createConnector(ctx, aiName, cfg.AI[aiName])
	if err != nil {
		return nil, fmt.Errorf("failed to create AI connector: %w", err)
	}

	backend := render.NewHTTPBackend(cfg.Render.BackendURL)
	renderer := render.NewOrchestrator(backend, renderStore, cfg.Render.PollAttempts, cfg.Render.PollInterval)

	return &pipelineStack{
		fetcher:    fetcher,
		summarizer: summarize.NewLangchainSummarizer(connector),
		extractor:  highlight.NewLangchainExtractor(connector),
		renderer:   renderer,
	}, nil
}

func (s *pipelineStack) controller(store pipeline.RecordStore, topCommits int) *pipeline.Controller {
	return pipeline.NewController(store, s.fetcher, s.summarizer, s.extractor, s.renderer, topCommits)
}

func createFetcher(name string, config map[string]interface{}) (stats.Fetcher, error) {
	switch name {
	case "github":
		token, _ := config["token"].(string)
		return stats.NewFetcher("github", token, "")
	case "gitlab":
		url, _ := config["url"].(string)
		token, _ := config["token"].(string)
		return stats.NewFetcher("gitlab", token, url)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

func createConnector(ctx context.Context, name string, config map[string]interface{}) (*connectors.Connector, error) {
	apiKey, _ := config["api_key"].(string)
	baseURL, _ := config["base_url"].(string)
	model, _ := config["model"].(string)
	temperature, _ := config["temperature"].(float64)

	// TOML integers decode as int64
	maxTokens := 0
	switch v := config["max_tokens"].(type) {
	case int:
		maxTokens = v
	case int64:
		maxTokens = int(v)
	case float64:
		maxTokens = int(v)
	}

	var provider connectors.Provider
	switch name {
	case "openai":
		provider = connectors.ProviderOpenAI
	case "gemini":
		provider = connectors.ProviderGemini
	case "claude":
		provider = connectors.ProviderClaude
	case "ollama":
		provider = connectors.ProviderOllama
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", name)
	}

	return connectors.NewConnector(ctx, connectors.ConnectorOptions{
		Provider: provider,
		APIKey:   apiKey,
		BaseURL:  baseURL,
		ModelConfig: connectors.ModelConfig{
			Model:       model,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		},
	})
}
