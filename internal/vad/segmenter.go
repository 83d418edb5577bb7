// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_vad

import (
	"github.com/google/uuid"

	internal_audio "github.com/dht-solution/callbridge/internal/audio"
)

// FlushReason records why an utterance was cut.
type FlushReason string

const (
	// FlushSilence means the speaker paused long enough to close the utterance.
	FlushSilence FlushReason = "silence"
	// FlushCap means the utterance hit the packet cap mid-speech.
	FlushCap FlushReason = "cap"
	// FlushHangup means the call ended with buffered speech.
	FlushHangup FlushReason = "hangup"
)

// Utterance is one contiguous stretch of caller speech, as LPCM16.
type Utterance struct {
	ID     string
	PCM    []byte
	Frames int
	Reason FlushReason
}

// Segmenter turns the per-frame speech/silence decisions of a Detector into
// utterances. It is a two-state machine: SILENCE accumulates nothing and
// flips to SPEECH after hangover consecutive speech frames; SPEECH buffers
// audio and flips back (flushing) after hangover consecutive silence frames,
// or flushes early when the buffer reaches capFrames.
type Segmenter struct {
	det       Detector
	capFrames int
	hangover  int
	speaking  bool
	runLength int
	buf       []byte
	bufFrames int
}

// NewSegmenter builds a segmenter. capFrames bounds buffered speech in 20 ms
// frames; hangover is the consecutive-frame count needed to change state.
func NewSegmenter(det Detector, capFrames, hangover int) *Segmenter {
	if hangover < 1 {
		hangover = 1
	}
	return &Segmenter{det: det, capFrames: capFrames, hangover: hangover}
}

// Push feeds one 20 ms LPCM16 frame. It returns a completed utterance when
// one is cut, else nil. A cap cut keeps the segmenter in SPEECH so the next
// frame lands in a fresh buffer with no silence gap required.
func (s *Segmenter) Push(lpcm []byte) (*Utterance, error) {
	isSpeech, err := s.det.IsSpeech(internal_audio.BytesToInt16(lpcm))
	if err != nil {
		return nil, err
	}

	if !s.speaking {
		if !isSpeech {
			s.runLength = 0
			return nil, nil
		}
		s.runLength++
		if s.runLength < s.hangover {
			return nil, nil
		}
		s.speaking = true
		s.runLength = 0
	}

	s.buf = append(s.buf, lpcm...)
	s.bufFrames++

	if isSpeech {
		s.runLength = 0
	} else {
		s.runLength++
		if s.runLength >= s.hangover {
			s.speaking = false
			s.runLength = 0
			return s.cut(FlushSilence), nil
		}
	}

	if s.bufFrames >= s.capFrames {
		return s.cut(FlushCap), nil
	}
	return nil, nil
}

// Flush returns any buffered speech at call teardown, or nil.
func (s *Segmenter) Flush() *Utterance {
	if s.bufFrames == 0 {
		return nil
	}
	s.speaking = false
	s.runLength = 0
	return s.cut(FlushHangup)
}

// Close releases the underlying detector.
func (s *Segmenter) Close() error {
	return s.det.Close()
}

func (s *Segmenter) cut(reason FlushReason) *Utterance {
	u := &Utterance{
		ID:     uuid.NewString(),
		PCM:    s.buf,
		Frames: s.bufFrames,
		Reason: reason,
	}
	s.buf = nil
	s.bufFrames = 0
	return u
}
