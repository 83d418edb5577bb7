// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

// Package internal_vad classifies inbound audio frames and cuts the stream
// into utterances for the transcription pipeline.
package internal_vad

// Detector classifies one 20 ms LPCM16 frame as speech or silence.
// Implementations may keep internal state across frames.
type Detector interface {
	IsSpeech(frame []int16) (bool, error)
	Close() error
}
