// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_backend

import (
	"fmt"

	"github.com/dht-solution/callbridge/config"
	"github.com/dht-solution/callbridge/pkg/commons"
)

// Services bundles the three speech services a call uses.
type Services struct {
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
}

// NewServices wires the configured providers. Transcription and synthesis
// always come from OpenAI; the response generator is selectable.
func NewServices(cfg config.BackendConfig, logger commons.Logger) (*Services, error) {
	oai, err := NewOpenAIBackend(OpenAIOptions{
		APIKey:       cfg.OpenAIAPIKey,
		Model:        cfg.OpenAIModel,
		SystemPrompt: cfg.SystemPrompt,
	}, logger)
	if err != nil {
		return nil, err
	}

	svc := &Services{Transcriber: oai, Synthesizer: oai}

	switch cfg.Provider {
	case "openai":
		svc.Generator = oai
	case "anthropic":
		gen, err := NewAnthropicGenerator(AnthropicOptions{
			APIKey:       cfg.AnthropicKey,
			Model:        cfg.AnthropicModel,
			SystemPrompt: cfg.SystemPrompt,
		}, logger)
		if err != nil {
			return nil, err
		}
		svc.Generator = gen
	case "local":
		gen, err := NewLocalGenerator(LocalOptions{
			BaseURL:      cfg.LocalBaseURL,
			Model:        cfg.LocalModel,
			SystemPrompt: cfg.SystemPrompt,
			Timeout:      cfg.RequestTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		svc.Generator = gen
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}

	return svc, nil
}
