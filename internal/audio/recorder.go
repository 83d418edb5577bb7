// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_audio

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder accumulates the decoded inbound audio of one call and flushes it
// to a WAV file when the call ends.
type Recorder struct {
	mu     sync.Mutex
	dir    string
	callID string
	buf    bytes.Buffer
	closed bool
}

// NewRecorder creates a recorder for the given call, creating the recording
// directory if needed.
func NewRecorder(dir, callID string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating recording dir %s: %w", dir, err)
	}
	return &Recorder{dir: dir, callID: callID}, nil
}

// Append adds decoded LPCM16 audio. Writes after Close are discarded, which
// covers packets that race with call teardown.
func (r *Recorder) Append(lpcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.buf.Write(lpcm)
}

// Close writes the recording and returns its path. A second Close is a no-op
// returning the empty path; a call with no audio produces no file.
func (r *Recorder) Close() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", nil
	}
	r.closed = true

	if r.buf.Len() == 0 {
		return "", nil
	}

	id := r.callID
	if len(id) > 8 {
		id = id[:8]
	}
	name := fmt.Sprintf("%s_%s.wav", time.Now().Format("20060102150405"), id)
	path := filepath.Join(r.dir, name)

	if err := WriteWAV(path, r.buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

// Duration returns the length of audio captured so far.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	samples := r.buf.Len() / 2
	return time.Duration(samples) * time.Second / SampleRate
}
