// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

// Package internal_pipeline drives each utterance through transcription,
// response generation and synthesis, and queues the rendered reply for
// playback.
package internal_pipeline

import (
	"sync"
	"time"
)

// Status is the terminal outcome of one utterance's trip through the
// pipeline.
type Status string

const (
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusDiscarded Status = "DISCARDED"
)

// Stage names the pipeline step a record ended in.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
	StageDeliver    Stage = "deliver"
)

// TranscriptRecord is the audit trail of one utterance. Exactly one record
// exists per utterance that entered the pipeline.
type TranscriptRecord struct {
	CallID      string
	UtteranceID string
	Status      Status
	Stage       Stage // stage reached when Status is FAILED or DISCARDED
	UserText    string
	ReplyText   string
	Language    string // BCP-47 hint detected from the user's text
	Fallback    bool   // reply is the canned apology
	StartedAt   time.Time
	Latency     time.Duration
}

// transcriptCap bounds the in-memory history.
const transcriptCap = 1000

// TranscriptStore keeps recent records for inspection and tests.
type TranscriptStore struct {
	mu      sync.Mutex
	records []TranscriptRecord
}

// NewTranscriptStore creates an empty store.
func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{}
}

// Append adds a record, evicting the oldest past the cap.
func (s *TranscriptStore) Append(rec TranscriptRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > transcriptCap {
		s.records = s.records[len(s.records)-transcriptCap:]
	}
}

// ByCall returns the records of one call in arrival order.
func (s *TranscriptStore) ByCall(callID string) []TranscriptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TranscriptRecord
	for _, r := range s.records {
		if r.CallID == callID {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of retained records.
func (s *TranscriptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
