package models

import (
	"fmt"

	"github.com/ZanzyTHEbar/course-rag/rag/config"
	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
	"github.com/ZanzyTHEbar/course-rag/rag/memory/service"
)

// NewProvider builds the chat backend selected by llm.provider.
func NewProvider(cfg config.LLMConfig) (ports.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "ollama":
		return NewOpenAIProvider(orDefault(cfg.APIKey, "ollama"), orDefault(cfg.BaseURL, OllamaBaseURL), cfg.Model), nil
	case "perplexity":
		return NewOpenAIProvider(cfg.APIKey, orDefault(cfg.BaseURL, PerplexityBaseURL), cfg.Model), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// NewEmbedder builds the embedding backend selected by embedding.provider.
func NewEmbedder(cfg config.EmbeddingConfig) (service.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dims), nil
	case "ollama":
		// ollama ignores the dimensions parameter
		return NewOpenAIEmbedder(orDefault(cfg.APIKey, "ollama"), orDefault(cfg.BaseURL, OllamaBaseURL), cfg.Model, 0), nil
	case "hash":
		return service.NewHashEmbedder(cfg.Dims), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
