package provider

import (
	"time"

	"github.com/Tyrowin/chathub/internal/config"
)

// New builds the adapter selected by cfg.Provider. It returns nil when
// generation is not configured.
func New(cfg config.GenerationConfig) (Adapter, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllamaAdapter(OllamaConfig{
			BaseURL:      cfg.BaseURL,
			TextModel:    cfg.TextModel,
			VisionModel:  cfg.VisionModel,
			SystemPrompt: cfg.SystemPrompt,
			Temperature:  cfg.Temperature,
			NumPredict:   cfg.NumPredict,
			Timeout:      cfg.Timeout,
			MaxAttempts:  cfg.MaxAttempts,
		})
	case config.ProviderMock:
		return NewMockAdapter(50 * time.Millisecond), nil
	default:
		return nil, nil
	}
}
