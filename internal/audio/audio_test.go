package internal_audio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	samples := make([]int16, FrameSamples)
	for i := range samples {
		samples[i] = int16((i - 80) * 256)
	}
	lpcm := Int16ToBytes(samples)

	for _, pt := range []uint8{PayloadPCMA, PayloadPCMU} {
		encoded, err := Encode(pt, lpcm)
		require.NoError(t, err)
		assert.Len(t, encoded, FrameBytes)

		decoded, err := Decode(pt, encoded)
		require.NoError(t, err)
		require.Len(t, decoded, len(lpcm))

		// G.711 is lossy; round trip must stay within quantization error.
		got := BytesToInt16(decoded)
		for i := range samples {
			diff := int(samples[i]) - int(got[i])
			if diff < 0 {
				diff = -diff
			}
			assert.Less(t, diff, 1024, "sample %d: want %d got %d", i, samples[i], got[i])
		}
	}
}

func TestDecodeUnknownPayloadType(t *testing.T) {
	_, err := Decode(96, make([]byte, FrameBytes))
	assert.Error(t, err)
}

func TestSilenceByte(t *testing.T) {
	assert.Equal(t, byte(SilenceAlaw), SilenceByte(PayloadPCMA))
	assert.Equal(t, byte(SilenceUlaw), SilenceByte(PayloadPCMU))
}

func TestPacketizePadsLastFrame(t *testing.T) {
	payload := make([]byte, FrameBytes*2+40)
	for i := range payload {
		payload[i] = 0x42
	}

	frames := Packetize(PayloadPCMA, payload)
	require.Len(t, frames, 3)

	for _, f := range frames {
		assert.Len(t, f, FrameBytes)
	}
	assert.Equal(t, byte(0x42), frames[2][39])
	assert.Equal(t, byte(SilenceAlaw), frames[2][40])
	assert.Equal(t, byte(SilenceAlaw), frames[2][FrameBytes-1])
}

func TestPacketizeEmpty(t *testing.T) {
	assert.Nil(t, Packetize(PayloadPCMA, nil))
}

func TestInt16Conversions(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}

	assert.Equal(t, samples, BytesToInt16(Int16ToBytes(samples)))

	f := Int16ToFloat32(samples)
	assert.InDelta(t, 0.0, f[0], 1e-6)
	assert.InDelta(t, 0.99997, f[3], 1e-4)
	assert.InDelta(t, -1.0, f[4], 1e-6)
}

func TestDownsample3(t *testing.T) {
	in := Int16ToBytes([]int16{300, 600, 900, -300, -600, -900, 99})
	out := BytesToInt16(Downsample3(in))
	assert.Equal(t, []int16{600, -600}, out)
}

func TestWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")

	lpcm := Int16ToBytes([]int16{0, 100, -100, 32767, -32768, 7})
	require.NoError(t, WriteWAV(path, lpcm))

	got, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, lpcm, got)
}

func TestReadWAVRejectsWrongFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.wav")

	require.NoError(t, os.WriteFile(path, []byte("not a wav file at all"), 0o644))
	_, err := ReadWAV(path)
	assert.Error(t, err)
}

func TestRecorderWritesTimestampedFile(t *testing.T) {
	dir := t.TempDir()

	rec, err := NewRecorder(dir, "5f3a2b1c4d@192.168.1.170")
	require.NoError(t, err)

	rec.Append(Int16ToBytes(make([]int16, FrameSamples)))
	rec.Append(Int16ToBytes(make([]int16, FrameSamples)))

	path, err := rec.Close()
	require.NoError(t, err)
	require.NotEmpty(t, path)

	base := filepath.Base(path)
	assert.True(t, strings.HasSuffix(base, "_5f3a2b1c.wav"), "got %s", base)

	lpcm, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Len(t, lpcm, FrameSamples*2*2)
}

func TestRecorderCloseIdempotentAndDropsLateAudio(t *testing.T) {
	dir := t.TempDir()

	rec, err := NewRecorder(dir, "call-1")
	require.NoError(t, err)
	rec.Append(Int16ToBytes(make([]int16, FrameSamples)))

	path, err := rec.Close()
	require.NoError(t, err)
	require.NotEmpty(t, path)

	rec.Append(Int16ToBytes(make([]int16, FrameSamples)))
	again, err := rec.Close()
	require.NoError(t, err)
	assert.Empty(t, again)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecorderNoAudioNoFile(t *testing.T) {
	dir := t.TempDir()

	rec, err := NewRecorder(dir, "call-2")
	require.NoError(t, err)

	path, err := rec.Close()
	require.NoError(t, err)
	assert.Empty(t, path)
}
