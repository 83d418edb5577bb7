// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_vad

import "math"

// EnergyDetector classifies frames by normalized RMS energy. It is the
// fallback when no Silero model is configured and keeps the pipeline
// testable without ONNX runtime.
type EnergyDetector struct {
	threshold float64
}

// NewEnergyDetector builds a detector that reports speech when the frame's
// RMS, normalized to [0, 1], exceeds the threshold. Thresholds outside a
// sane range fall back to 0.02 (about -34 dBFS).
func NewEnergyDetector(threshold float64) *EnergyDetector {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.02
	}
	return &EnergyDetector{threshold: threshold}
}

func (d *EnergyDetector) IsSpeech(frame []int16) (bool, error) {
	if len(frame) == 0 {
		return false, nil
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	return rms > d.threshold, nil
}

func (d *EnergyDetector) Close() error { return nil }
