// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

// Package internal_backend abstracts the speech-to-text, response-generation
// and text-to-speech services behind small interfaces so the pipeline does
// not care which vendor serves a call.
package internal_backend

import (
	"context"
	"errors"
)

// Sentinel errors shared by all backends.
var (
	ErrEmptyResponse = errors.New("backend returned an empty response")
	ErrNotConfigured = errors.New("backend is not configured")
)

// Role tags one side of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in the conversation history.
type Turn struct {
	Role    Role
	Content string
}

// Transcriber converts caller audio (a WAV container, mono 8 kHz) to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}

// Generator produces the assistant's reply given the conversation so far.
// The final turn in history is the user's latest utterance.
type Generator interface {
	Generate(ctx context.Context, history []Turn) (string, error)
}

// Synthesizer converts reply text to LPCM16 mono 8 kHz audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
