package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Supported providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Factory builds gateways for a credential. Clients are cached per key so
// rotating the credential yields a fresh client while repeated requests
// share one.
type Factory struct {
	provider string
	baseURL  string

	mu      sync.Mutex
	clients map[string]Gateway
}

// NewFactory creates a factory for provider. baseURL only applies to the
// OpenAI-compatible provider.
func NewFactory(provider, baseURL string) (*Factory, error) {
	switch provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", provider)
	}
	return &Factory{
		provider: provider,
		baseURL:  baseURL,
		clients:  make(map[string]Gateway),
	}, nil
}

// Provider returns the configured provider name.
func (f *Factory) Provider() string {
	return f.provider
}

// ForKey returns the gateway authenticated with apiKey.
func (f *Factory) ForKey(ctx context.Context, apiKey string) (Gateway, error) {
	sum := sha256.Sum256([]byte(apiKey))
	key := hex.EncodeToString(sum[:])

	f.mu.Lock()
	defer f.mu.Unlock()

	if gw, ok := f.clients[key]; ok {
		return gw, nil
	}

	var (
		gw  Gateway
		err error
	)
	switch f.provider {
	case ProviderGemini:
		gw, err = NewGemini(ctx, apiKey)
	case ProviderOpenAI:
		gw, err = NewOpenAI(apiKey, f.baseURL)
	}
	if err != nil {
		return nil, err
	}

	// Only the current credential is worth keeping.
	clear(f.clients)
	f.clients[key] = gw
	return gw, nil
}
