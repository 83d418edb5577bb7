package internal_rtp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dht-solution/callbridge/pkg/commons"

	internal_audio "github.com/dht-solution/callbridge/internal/audio"
	internal_vad "github.com/dht-solution/callbridge/internal/vad"
)

func newTestTransport(t *testing.T, cfg Config) *Transport {
	t.Helper()
	cfg.LocalIP = "127.0.0.1"
	cfg.Logger = commons.NewNopLogger()
	if cfg.PlaybackQueueSize == 0 {
		cfg.PlaybackQueueSize = 16
	}
	if cfg.UtteranceQueueSize == 0 {
		cfg.UtteranceQueueSize = 4
	}
	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr
}

func newPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func loudFrame() []byte {
	samples := make([]int16, internal_audio.FrameSamples)
	for i := range samples {
		samples[i] = 12000
	}
	lpcm := internal_audio.Int16ToBytes(samples)
	payload, _ := internal_audio.Encode(internal_audio.PayloadPCMA, lpcm)
	return payload
}

func TestSenderPacesAndWraps(t *testing.T) {
	peer := newPeer(t)
	peerPort := peer.LocalAddr().(*net.UDPAddr).Port

	tr := newTestTransport(t, Config{
		PayloadType: internal_audio.PayloadPCMA,
		RemoteIP:    "127.0.0.1",
		RemotePort:  peerPort,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	buf := make([]byte, 1500)
	var lastSeq uint16
	var lastTS uint32
	for i := 0; i < 4; i++ {
		peer.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := peer.ReadFromUDP(buf)
		require.NoError(t, err)

		pkt, err := ParsePacket(buf[:n])
		require.NoError(t, err)

		assert.Equal(t, internal_audio.PayloadPCMA, pkt.PayloadType)
		require.Len(t, pkt.Payload, internal_audio.FrameBytes)
		// idle sender fills with comfort noise
		assert.Equal(t, byte(internal_audio.SilenceAlaw), pkt.Payload[0])

		if i > 0 {
			assert.Equal(t, (lastSeq+1)&0xFFFF, pkt.SequenceNumber)
			assert.Equal(t, lastTS+160, pkt.Timestamp)
		}
		lastSeq = pkt.SequenceNumber
		lastTS = pkt.Timestamp
	}
}

func TestSenderDrainsPlaybackQueue(t *testing.T) {
	peer := newPeer(t)
	peerPort := peer.LocalAddr().(*net.UDPAddr).Port

	tr := newTestTransport(t, Config{
		PayloadType: internal_audio.PayloadPCMA,
		RemoteIP:    "127.0.0.1",
		RemotePort:  peerPort,
	})

	marked := make([]byte, internal_audio.FrameBytes)
	for i := range marked {
		marked[i] = 0x42
	}
	require.Equal(t, 1, tr.EnqueuePlayback([][]byte{marked}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	buf := make([]byte, 1500)
	found := false
	for i := 0; i < 10 && !found; i++ {
		peer.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := peer.ReadFromUDP(buf)
		require.NoError(t, err)
		pkt, err := ParsePacket(buf[:n])
		require.NoError(t, err)
		if pkt.Payload[0] == 0x42 {
			found = true
		}
	}
	assert.True(t, found, "queued frame never hit the wire")
}

func TestEnqueuePlaybackBackpressure(t *testing.T) {
	tr := newTestTransport(t, Config{
		PayloadType:       internal_audio.PayloadPCMA,
		PlaybackQueueSize: 2,
	})

	frames := [][]byte{loudFrame(), loudFrame(), loudFrame()}
	assert.Equal(t, 2, tr.EnqueuePlayback(frames))
	assert.Equal(t, 2, tr.QueuedFrames())
}

func TestInterruptFlushesPlayback(t *testing.T) {
	tr := newTestTransport(t, Config{PayloadType: internal_audio.PayloadPCMA})

	tr.EnqueuePlayback([][]byte{loudFrame(), loudFrame()})
	require.Equal(t, 2, tr.QueuedFrames())

	tr.Interrupt()
	assert.Equal(t, 0, tr.QueuedFrames())

	tr.Resume()
	assert.Equal(t, 1, tr.EnqueuePlayback([][]byte{loudFrame()}))
}

func TestReceiverSegmentsSpeech(t *testing.T) {
	seg := internal_vad.NewSegmenter(internal_vad.NewEnergyDetector(0.02), 5, 1)
	tr := newTestTransport(t, Config{
		PayloadType: internal_audio.PayloadPCMA,
		Segmenter:   seg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	peer := newPeer(t)
	target := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: tr.LocalPort()}

	payload := loudFrame()
	for i := 0; i < 6; i++ {
		data, err := BuildPacket(internal_audio.PayloadPCMA, uint16(i), uint32(i*160), 7, payload)
		require.NoError(t, err)
		_, err = peer.WriteToUDP(data, target)
		require.NoError(t, err)
	}

	select {
	case u := <-tr.Utterances():
		require.NotNil(t, u)
		assert.Equal(t, internal_vad.FlushCap, u.Reason)
		assert.Equal(t, 5, u.Frames)
	case <-time.After(3 * time.Second):
		t.Fatal("no utterance emitted")
	}

	assert.Eventually(t, func() bool {
		return tr.Stats().PacketsIn >= 6
	}, 2*time.Second, 20*time.Millisecond)
}

func TestReceiverRejectsWrongPayloadType(t *testing.T) {
	tr := newTestTransport(t, Config{PayloadType: internal_audio.PayloadPCMA})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	peer := newPeer(t)
	target := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: tr.LocalPort()}

	data, err := BuildPacket(internal_audio.PayloadPCMU, 1, 160, 7, loudFrame())
	require.NoError(t, err)
	_, err = peer.WriteToUDP(data, target)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s := tr.Stats()
		return s.PayloadTypeRejects == 1 && s.PacketsIn == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestReceiverCountsDiscontinuities(t *testing.T) {
	tr := newTestTransport(t, Config{PayloadType: internal_audio.PayloadPCMA})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	peer := newPeer(t)
	target := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: tr.LocalPort()}

	payload := loudFrame()
	for _, seq := range []uint16{10, 11, 15, 16} {
		data, err := BuildPacket(internal_audio.PayloadPCMA, seq, 0, 7, payload)
		require.NoError(t, err)
		_, err = peer.WriteToUDP(data, target)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond) // keep ordering on loopback
	}

	assert.Eventually(t, func() bool {
		s := tr.Stats()
		return s.PacketsIn == 4 && s.SeqDiscontinuities == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCloseFlushesSegmenterTail(t *testing.T) {
	seg := internal_vad.NewSegmenter(internal_vad.NewEnergyDetector(0.02), 100, 1)
	tr := newTestTransport(t, Config{
		PayloadType: internal_audio.PayloadPCMA,
		Segmenter:   seg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	peer := newPeer(t)
	target := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: tr.LocalPort()}

	payload := loudFrame()
	for i := 0; i < 3; i++ {
		data, err := BuildPacket(internal_audio.PayloadPCMA, uint16(i), 0, 7, payload)
		require.NoError(t, err)
		_, err = peer.WriteToUDP(data, target)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return tr.Stats().PacketsIn == 3
	}, 2*time.Second, 20*time.Millisecond)

	tr.Close()

	var got []*internal_vad.Utterance
	for u := range tr.Utterances() {
		got = append(got, u)
	}
	require.Len(t, got, 1)
	assert.Equal(t, internal_vad.FlushHangup, got[0].Reason)
}

func TestOnInboundFrameHook(t *testing.T) {
	frames := make(chan []byte, 8)
	tr := newTestTransport(t, Config{
		PayloadType:    internal_audio.PayloadPCMA,
		OnInboundFrame: func(p []byte) { frames <- append([]byte(nil), p...) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	peer := newPeer(t)
	target := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: tr.LocalPort()}

	payload := loudFrame()
	data, err := BuildPacket(internal_audio.PayloadPCMA, 1, 0, 7, payload)
	require.NoError(t, err)
	_, err = peer.WriteToUDP(data, target)
	require.NoError(t, err)

	select {
	case got := <-frames:
		assert.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("hook never fired")
	}
}
