// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

const wavFormatPCM = 1

// ReadWAV loads a WAV file and returns its LPCM16 payload. Only 16-bit mono
// PCM at 8 kHz is accepted; callers transcode other material offline.
func ReadWAV(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return parseWAV(data)
}

func parseWAV(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	var (
		fmtSeen bytes.Buffer
		pcm     []byte
	)
	var format, channels, bits uint16
	var rate uint32

	// Walk the chunk list; players add LIST/fact chunks we must skip.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("truncated fmt chunk")
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			rate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			fmtSeen.WriteByte(1)
		case "data":
			pcm = data[body : body+size]
		}

		off = body + size
		if size%2 != 0 {
			off++ // chunks are word aligned
		}
	}

	if fmtSeen.Len() == 0 || pcm == nil {
		return nil, fmt.Errorf("missing fmt or data chunk")
	}
	if format != wavFormatPCM || bits != 16 {
		return nil, fmt.Errorf("unsupported WAV encoding (format=%d bits=%d)", format, bits)
	}
	if channels != 1 || rate != SampleRate {
		return nil, fmt.Errorf("expected mono %d Hz, got %d channel(s) at %d Hz", SampleRate, channels, rate)
	}
	return pcm, nil
}

// EncodeWAV wraps LPCM16 mono 8 kHz audio in a WAV container.
func EncodeWAV(lpcm []byte) []byte {
	hdr := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(lpcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   1,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, hdr)
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(lpcm)))
	buf.Write(lpcm)
	return buf.Bytes()
}

// WriteWAV writes LPCM16 mono 8 kHz audio as a WAV file.
func WriteWAV(path string, lpcm []byte) error {
	return os.WriteFile(path, EncodeWAV(lpcm), 0o644)
}

// Downsample3 reduces LPCM16 audio by a factor of three (24 kHz to 8 kHz),
// averaging each triple as a crude low-pass. Speech synthesis backends emit
// 24 kHz PCM; the telephony leg needs 8 kHz.
func Downsample3(lpcm []byte) []byte {
	in := BytesToInt16(lpcm)
	out := make([]int16, 0, len(in)/3)
	for i := 0; i+2 < len(in); i += 3 {
		sum := int(in[i]) + int(in[i+1]) + int(in[i+2])
		out = append(out, int16(sum/3))
	}
	return Int16ToBytes(out)
}
