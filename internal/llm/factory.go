package llm

import (
	"fmt"
	"os"
)

// NewProvider constructs the configured generation provider.
// "ollama" needs no credentials; "openai" reads OPENAI_API_KEY.
func NewProvider(name, ollamaBaseURL string) (Provider, error) {
	switch name {
	case "ollama", "":
		return NewOllamaProvider(ollamaBaseURL), nil
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("openai: OPENAI_API_KEY not set: %w", ErrProviderNotAvailable)
		}
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
