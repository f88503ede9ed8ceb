package worker

import "fmt"

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// New creates a worker for the named provider. Unknown providers are a
// configuration error, which the controller treats as fatal.
func New(provider string, cfg Config) (Worker, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAICompatible(cfg)
	case ProviderOllama:
		return NewOllama(cfg)
	default:
		return nil, NewError(KindFatal, fmt.Sprintf("unknown worker provider: %s", provider), nil)
	}
}
