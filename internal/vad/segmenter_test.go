package internal_vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_audio "github.com/dht-solution/callbridge/internal/audio"
)

// scriptedDetector returns a fixed per-frame classification sequence.
type scriptedDetector struct {
	script []bool
	pos    int
}

func (d *scriptedDetector) IsSpeech(_ []int16) (bool, error) {
	if d.pos >= len(d.script) {
		return false, nil
	}
	v := d.script[d.pos]
	d.pos++
	return v, nil
}

func (d *scriptedDetector) Close() error { return nil }

func frame(fill int16) []byte {
	samples := make([]int16, internal_audio.FrameSamples)
	for i := range samples {
		samples[i] = fill
	}
	return internal_audio.Int16ToBytes(samples)
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func pushN(t *testing.T, s *Segmenter, n int, fill int16) []*Utterance {
	t.Helper()
	var cuts []*Utterance
	for i := 0; i < n; i++ {
		u, err := s.Push(frame(fill))
		require.NoError(t, err)
		if u != nil {
			cuts = append(cuts, u)
		}
	}
	return cuts
}

func TestSilenceProducesNothing(t *testing.T) {
	s := NewSegmenter(&scriptedDetector{script: repeat(false, 50)}, 120, 2)

	cuts := pushN(t, s, 50, 0)
	assert.Empty(t, cuts)
	assert.Nil(t, s.Flush())
}

func TestSilenceCutAfterHangover(t *testing.T) {
	// 1 silence, 10 speech, then silence: flush on the 2nd silence frame.
	script := append([]bool{false}, repeat(true, 10)...)
	script = append(script, repeat(false, 5)...)
	s := NewSegmenter(&scriptedDetector{script: script}, 120, 2)

	cuts := pushN(t, s, len(script), 100)
	require.Len(t, cuts, 1)

	u := cuts[0]
	assert.Equal(t, FlushSilence, u.Reason)
	assert.NotEmpty(t, u.ID)
	// 10 speech frames minus the one consumed entering SPEECH (hangover 2
	// means the state flips on the 2nd speech frame, which is buffered),
	// plus the 2 trailing silence frames inside the hangover window.
	assert.Equal(t, 9+2, u.Frames)
	assert.Len(t, u.PCM, u.Frames*internal_audio.FrameSamples*2)
}

func TestShortBlipBelowHangoverIgnored(t *testing.T) {
	script := []bool{false, true, false, false, false}
	s := NewSegmenter(&scriptedDetector{script: script}, 120, 2)

	cuts := pushN(t, s, len(script), 100)
	assert.Empty(t, cuts)
	assert.Nil(t, s.Flush())
}

func TestCapCutAndImmediateResume(t *testing.T) {
	// Unbroken speech well past the cap.
	s := NewSegmenter(&scriptedDetector{script: repeat(true, 30)}, 10, 2)

	cuts := pushN(t, s, 30, 100)
	require.Len(t, cuts, 2)

	assert.Equal(t, FlushCap, cuts[0].Reason)
	assert.Equal(t, 10, cuts[0].Frames)
	assert.Equal(t, FlushCap, cuts[1].Reason)
	assert.Equal(t, 10, cuts[1].Frames)

	// The remainder is still buffered; no silence gap was needed to resume.
	tail := s.Flush()
	require.NotNil(t, tail)
	assert.Equal(t, FlushHangup, tail.Reason)
	assert.Equal(t, 9, tail.Frames)
}

func TestFlushOnHangup(t *testing.T) {
	s := NewSegmenter(&scriptedDetector{script: repeat(true, 5)}, 120, 2)

	cuts := pushN(t, s, 5, 100)
	assert.Empty(t, cuts)

	u := s.Flush()
	require.NotNil(t, u)
	assert.Equal(t, FlushHangup, u.Reason)
	assert.Equal(t, 4, u.Frames)

	assert.Nil(t, s.Flush(), "second flush returns nothing")
}

func TestUtteranceIDsUnique(t *testing.T) {
	s := NewSegmenter(&scriptedDetector{script: repeat(true, 30)}, 5, 1)

	cuts := pushN(t, s, 30, 100)
	require.GreaterOrEqual(t, len(cuts), 2)

	seen := make(map[string]bool)
	for _, u := range cuts {
		assert.False(t, seen[u.ID])
		seen[u.ID] = true
	}
}

func TestEnergyDetector(t *testing.T) {
	d := NewEnergyDetector(0.02)

	loud := make([]int16, internal_audio.FrameSamples)
	for i := range loud {
		loud[i] = 8000
	}
	quiet := make([]int16, internal_audio.FrameSamples)

	got, err := d.IsSpeech(loud)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = d.IsSpeech(quiet)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = d.IsSpeech(nil)
	require.NoError(t, err)
	assert.False(t, got)
}
