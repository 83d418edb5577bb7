// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dht-solution/callbridge/pkg/commons"
)

const anthropicMaxTokens = 512

// AnthropicOptions configures the Claude response generator.
type AnthropicOptions struct {
	APIKey       string
	Model        string
	SystemPrompt string
}

// AnthropicGenerator produces replies with the Anthropic Messages API. It
// only generates text; transcription and synthesis come from another backend.
type AnthropicGenerator struct {
	client anthropic.Client
	opts   AnthropicOptions
	logger commons.Logger
}

// NewAnthropicGenerator builds the generator. The API key must be present.
func NewAnthropicGenerator(opts AnthropicOptions, logger commons.Logger) (*AnthropicGenerator, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrNotConfigured)
	}
	return &AnthropicGenerator{
		client: anthropic.NewClient(option.WithAPIKey(opts.APIKey)),
		opts:   opts,
		logger: logger.Named("anthropic"),
	}, nil
}

func (g *AnthropicGenerator) Generate(ctx context.Context, history []Turn) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, turn := range history {
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.opts.Model),
		MaxTokens: anthropicMaxTokens,
		Messages:  messages,
	}
	if g.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: g.opts.SystemPrompt}}
	}

	res, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic message: %w", err)
	}

	var sb strings.Builder
	for _, block := range res.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", ErrEmptyResponse
	}
	return reply, nil
}
