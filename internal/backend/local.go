// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dht-solution/callbridge/pkg/commons"
)

// LocalOptions configures the on-premise model server.
type LocalOptions struct {
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// LocalGenerator talks to an Ollama-compatible chat endpoint for deployments
// where call content must not leave the network.
type LocalGenerator struct {
	client *resty.Client
	opts   LocalOptions
	logger commons.Logger
}

type localChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatRequest struct {
	Model    string             `json:"model"`
	Messages []localChatMessage `json:"messages"`
	Stream   bool               `json:"stream"`
}

type localChatResponse struct {
	Message localChatMessage `json:"message"`
	Error   string           `json:"error"`
}

// NewLocalGenerator builds the generator against the configured base URL.
func NewLocalGenerator(opts LocalOptions, logger commons.Logger) (*LocalGenerator, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("local model: %w", ErrNotConfigured)
	}
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(0)
	return &LocalGenerator{client: client, opts: opts, logger: logger.Named("local-llm")}, nil
}

func (g *LocalGenerator) Generate(ctx context.Context, history []Turn) (string, error) {
	messages := make([]localChatMessage, 0, len(history)+1)
	if g.opts.SystemPrompt != "" {
		messages = append(messages, localChatMessage{Role: "system", Content: g.opts.SystemPrompt})
	}
	for _, turn := range history {
		messages = append(messages, localChatMessage{Role: string(turn.Role), Content: turn.Content})
	}

	var out localChatResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(localChatRequest{Model: g.opts.Model, Messages: messages, Stream: false}).
		SetResult(&out).
		Post("/api/chat")
	if err != nil {
		return "", fmt.Errorf("local chat request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("local chat request: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Error != "" {
		return "", fmt.Errorf("local chat request: %s", out.Error)
	}

	reply := strings.TrimSpace(stripReasoning(out.Message.Content))
	if reply == "" {
		return "", ErrEmptyResponse
	}
	return reply, nil
}

// stripReasoning drops <think>...</think> blocks that reasoning-tuned local
// models prepend to their answers.
func stripReasoning(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			return s
		}
		end := strings.Index(s, "</think>")
		if end == -1 || end < start {
			return s[:start]
		}
		s = s[:start] + s[end+len("</think>"):]
	}
}
