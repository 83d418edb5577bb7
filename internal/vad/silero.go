// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_vad

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"
)

// sileroWindow is the model's analysis window at 8 kHz. Inbound 20 ms frames
// are 160 samples, so frames are re-buffered into windows before inference.
const sileroWindow = 256

// SileroDetector classifies frames with the Silero VAD ONNX model running at
// the native 8 kHz telephony rate.
type SileroDetector struct {
	det      *speech.Detector
	pending  []float32
	speaking bool
}

// NewSileroDetector loads the model from modelPath.
func NewSileroDetector(modelPath string, threshold float32) (*SileroDetector, error) {
	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           8000,
		Threshold:            threshold,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("loading silero model %s: %w", modelPath, err)
	}
	return &SileroDetector{det: det}, nil
}

// IsSpeech classifies a 20 ms frame. The decision lags by at most one model
// window while samples accumulate; until the first window completes the frame
// is reported as silence.
func (d *SileroDetector) IsSpeech(frame []int16) (bool, error) {
	for _, s := range frame {
		d.pending = append(d.pending, float32(s)/32768.0)
	}

	for len(d.pending) >= sileroWindow {
		window := d.pending[:sileroWindow]
		d.pending = d.pending[sileroWindow:]

		segments, err := d.det.Detect(window)
		if err != nil {
			return false, fmt.Errorf("silero inference: %w", err)
		}
		d.speaking = len(segments) > 0
	}

	return d.speaking, nil
}

// Close releases the ONNX session.
func (d *SileroDetector) Close() error {
	return d.det.Destroy()
}
