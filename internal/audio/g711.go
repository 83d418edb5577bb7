// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

// Package internal_audio handles G.711 transcode, WAV files and call
// recording. All PCM in this package is 16-bit little-endian mono at 8 kHz.
package internal_audio

import (
	"encoding/binary"
	"fmt"

	g711 "github.com/zaf/g711"
)

const (
	// SampleRate is the narrowband telephony rate used end to end.
	SampleRate = 8000
	// FrameSamples is one 20 ms frame at 8 kHz.
	FrameSamples = 160
	// FrameBytes is the wire size of one G.711 frame.
	FrameBytes = 160
)

// Comfort-noise fill bytes: G.711 encodings of digital silence.
const (
	SilenceAlaw = 0xD5
	SilenceUlaw = 0xFF
)

// PayloadType identifiers for the two G.711 variants.
const (
	PayloadPCMU uint8 = 0
	PayloadPCMA uint8 = 8
)

// Decode converts a G.711 payload to LPCM16 bytes.
func Decode(payloadType uint8, payload []byte) ([]byte, error) {
	switch payloadType {
	case PayloadPCMA:
		return g711.DecodeAlaw(payload), nil
	case PayloadPCMU:
		return g711.DecodeUlaw(payload), nil
	default:
		return nil, fmt.Errorf("unsupported payload type %d", payloadType)
	}
}

// Encode converts LPCM16 bytes to a G.711 payload.
func Encode(payloadType uint8, lpcm []byte) ([]byte, error) {
	switch payloadType {
	case PayloadPCMA:
		return g711.EncodeAlaw(lpcm), nil
	case PayloadPCMU:
		return g711.EncodeUlaw(lpcm), nil
	default:
		return nil, fmt.Errorf("unsupported payload type %d", payloadType)
	}
}

// SilenceByte returns the comfort-noise fill byte for the payload type.
func SilenceByte(payloadType uint8) byte {
	if payloadType == PayloadPCMU {
		return SilenceUlaw
	}
	return SilenceAlaw
}

// SilenceFrame returns one 20 ms frame of comfort noise.
func SilenceFrame(payloadType uint8) []byte {
	frame := make([]byte, FrameBytes)
	fill := SilenceByte(payloadType)
	for i := range frame {
		frame[i] = fill
	}
	return frame
}

// BytesToInt16 reinterprets LPCM16 bytes as samples. A trailing odd byte is
// dropped.
func BytesToInt16(lpcm []byte) []int16 {
	samples := make([]int16, len(lpcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(lpcm[i*2:]))
	}
	return samples
}

// Int16ToBytes serializes samples as LPCM16 bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Int16ToFloat32 normalizes samples to [-1, 1] for the VAD model.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Packetize splits a G.711 payload into 160-byte frames, padding the final
// frame with comfort noise so every frame is exactly 20 ms.
func Packetize(payloadType uint8, payload []byte) [][]byte {
	if len(payload) == 0 {
		return nil
	}
	fill := SilenceByte(payloadType)

	var frames [][]byte
	for off := 0; off < len(payload); off += FrameBytes {
		frame := make([]byte, FrameBytes)
		n := copy(frame, payload[off:])
		for i := n; i < FrameBytes; i++ {
			frame[i] = fill
		}
		frames = append(frames, frame)
	}
	return frames
}
