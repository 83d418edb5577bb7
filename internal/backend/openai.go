// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dht-solution/callbridge/pkg/commons"

	internal_audio "github.com/dht-solution/callbridge/internal/audio"
)

// OpenAIOptions configures the OpenAI-backed services.
type OpenAIOptions struct {
	APIKey       string
	Model        string
	SystemPrompt string
}

// OpenAIBackend serves transcription (Whisper), generation (chat
// completions) and synthesis (TTS) from a single client.
type OpenAIBackend struct {
	client openai.Client
	opts   OpenAIOptions
	logger commons.Logger
}

// NewOpenAIBackend builds the backend. The API key must be present.
func NewOpenAIBackend(opts OpenAIOptions, logger commons.Logger) (*OpenAIBackend, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrNotConfigured)
	}
	return &OpenAIBackend{
		client: openai.NewClient(option.WithAPIKey(opts.APIKey)),
		opts:   opts,
		logger: logger.Named("openai"),
	}, nil
}

// Transcribe runs Whisper over the caller audio. language is a BCP-47 hint
// and may be empty.
func (b *OpenAIBackend) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: openai.AudioModelWhisper1,
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	res, err := b.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

// Generate asks the chat model for the next assistant reply.
func (b *OpenAIBackend) Generate(ctx context.Context, history []Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if b.opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(b.opts.SystemPrompt))
	}
	for _, turn := range history {
		if turn.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	res, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(b.opts.Model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(res.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	reply := strings.TrimSpace(res.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyResponse
	}
	return reply, nil
}

// Synthesize renders the reply with the TTS model. The API returns 24 kHz
// PCM which is downsampled to the 8 kHz telephony rate.
func (b *OpenAIBackend) Synthesize(ctx context.Context, text string) ([]byte, error) {
	res, err := b.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Voice:          openai.AudioSpeechNewParamsVoiceAlloy,
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer res.Body.Close()

	pcm24k, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading openai speech body: %w", err)
	}
	if len(pcm24k) == 0 {
		return nil, ErrEmptyResponse
	}
	return internal_audio.Downsample3(pcm24k), nil
}
