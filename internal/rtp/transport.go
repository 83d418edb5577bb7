// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_rtp

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dht-solution/callbridge/pkg/commons"

	internal_audio "github.com/dht-solution/callbridge/internal/audio"
	internal_vad "github.com/dht-solution/callbridge/internal/vad"
)

const (
	frameInterval = 20 * time.Millisecond
	readDeadline  = 500 * time.Millisecond
	maxDatagram   = 1500
)

// Stats are the transport's monotonic counters.
type Stats struct {
	PacketsIn          uint64
	PacketsOut         uint64
	PayloadTypeRejects uint64
	SeqDiscontinuities uint64
	UtterancesDropped  uint64
}

// Config parameterizes a Transport.
type Config struct {
	LocalIP     string
	LocalPort   int
	RemoteIP    string
	RemotePort  int
	PayloadType uint8

	Segmenter *internal_vad.Segmenter
	Recorder  *internal_audio.Recorder

	// OnInboundFrame, when set, receives every decoded inbound frame's raw
	// G.711 payload. Used to mirror caller audio onto the control channel.
	OnInboundFrame func(payload []byte)

	UtteranceQueueSize int
	PlaybackQueueSize  int

	Logger commons.Logger
}

// Transport owns one call's RTP socket: a 20 ms paced sender filling gaps
// with comfort noise, and a receiver that decodes, records and segments the
// caller's audio.
type Transport struct {
	cfg    Config
	conn   *net.UDPConn
	logger commons.Logger

	remoteMu sync.RWMutex
	remote   *net.UDPAddr

	playback   chan []byte
	utterances chan *internal_vad.Utterance

	paused atomic.Bool

	// inbound sequence tracking
	lastSeq   uint16
	seqPrimed bool

	packetsIn          atomic.Uint64
	packetsOut         atomic.Uint64
	payloadTypeRejects atomic.Uint64
	seqDiscontinuities atomic.Uint64
	utterancesDropped  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewTransport binds the local RTP socket. Bind failure is returned to the
// caller so the session can refuse the call instead of limping.
func NewTransport(cfg Config) (*Transport, error) {
	laddr := &net.UDPAddr{IP: net.ParseIP(cfg.LocalIP), Port: cfg.LocalPort}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("binding rtp socket %s:%d: %w", cfg.LocalIP, cfg.LocalPort, err)
	}

	t := &Transport{
		cfg:        cfg,
		conn:       conn,
		logger:     cfg.Logger,
		playback:   make(chan []byte, cfg.PlaybackQueueSize),
		utterances: make(chan *internal_vad.Utterance, cfg.UtteranceQueueSize),
		done:       make(chan struct{}),
	}
	if cfg.RemoteIP != "" && cfg.RemotePort > 0 {
		t.remote = &net.UDPAddr{IP: net.ParseIP(cfg.RemoteIP), Port: cfg.RemotePort}
	}
	return t, nil
}

// Start launches the sender and receiver loops.
func (t *Transport) Start(ctx context.Context) {
	t.wg.Add(2)
	go t.sendLoop(ctx)
	go t.receiveLoop(ctx)
}

// Utterances is the stream of segmented caller speech. It is closed when the
// transport shuts down.
func (t *Transport) Utterances() <-chan *internal_vad.Utterance {
	return t.utterances
}

// EnqueuePlayback queues G.711 frames for paced sending. It reports how many
// frames were accepted before the queue filled.
func (t *Transport) EnqueuePlayback(frames [][]byte) int {
	accepted := 0
	for _, f := range frames {
		select {
		case t.playback <- f:
			accepted++
		default:
			return accepted
		}
	}
	return accepted
}

// Interrupt flushes queued playback and pauses the sender, leaving only
// comfort noise on the wire. Used for barge-in.
func (t *Transport) Interrupt() {
	t.paused.Store(true)
	t.flushPlayback()
}

// Resume re-enables playback after an Interrupt.
func (t *Transport) Resume() {
	t.paused.Store(false)
}

func (t *Transport) flushPlayback() {
	for {
		select {
		case <-t.playback:
		default:
			return
		}
	}
}

// QueuedFrames returns the current playback backlog.
func (t *Transport) QueuedFrames() int {
	return len(t.playback)
}

// Stats snapshots the transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		PacketsIn:          t.packetsIn.Load(),
		PacketsOut:         t.packetsOut.Load(),
		PayloadTypeRejects: t.payloadTypeRejects.Load(),
		SeqDiscontinuities: t.seqDiscontinuities.Load(),
		UtterancesDropped:  t.utterancesDropped.Load(),
	}
}

// Close stops the loops, closes the socket and flushes the segmenter's tail
// into the utterance stream before closing it.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.Close()
		t.wg.Wait()

		if t.cfg.Segmenter != nil {
			if u := t.cfg.Segmenter.Flush(); u != nil {
				select {
				case t.utterances <- u:
				default:
					t.utterancesDropped.Add(1)
				}
			}
		}
		close(t.utterances)
	})
}

// LocalPort returns the bound RTP port.
func (t *Transport) LocalPort() int {
	return t.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetRemote updates the peer media address, normally from the SDP answer.
func (t *Transport) SetRemote(ip string, port int) {
	t.remoteMu.Lock()
	defer t.remoteMu.Unlock()
	t.remote = &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func (t *Transport) remoteAddr() *net.UDPAddr {
	t.remoteMu.RLock()
	defer t.remoteMu.RUnlock()
	return t.remote
}

func (t *Transport) sendLoop(ctx context.Context) {
	defer t.wg.Done()

	seq := uint16(rand.Intn(0x10000))
	timestamp := rand.Uint32()
	ssrc := rand.Uint32()
	silence := internal_audio.SilenceFrame(t.cfg.PayloadType)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
		}

		remote := t.remoteAddr()
		if remote == nil {
			continue
		}

		payload := silence
		if !t.paused.Load() {
			select {
			case f := <-t.playback:
				payload = f
			default:
			}
		}

		data, err := BuildPacket(t.cfg.PayloadType, seq, timestamp, ssrc, payload)
		if err != nil {
			t.logger.Error("building rtp packet", "error", err)
			continue
		}
		if _, err := t.conn.WriteToUDP(data, remote); err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			t.logger.Warn("sending rtp packet", "remote", remote.String(), "error", err)
			continue
		}

		t.packetsOut.Add(1)
		seq = (seq + 1) & 0xFFFF
		timestamp = (timestamp + samplesPerFrame) & 0xFFFFFFFF
	}
}

func (t *Transport) receiveLoop(ctx context.Context) {
	defer t.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		t.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-t.done:
				return
			default:
			}
			t.logger.Warn("reading rtp socket", "error", err)
			continue
		}

		pkt, err := ParsePacket(buf[:n])
		if err != nil {
			t.logger.Debug("dropping malformed rtp packet", "remote", addr.String(), "error", err)
			continue
		}

		if pkt.PayloadType != t.cfg.PayloadType {
			t.payloadTypeRejects.Add(1)
			continue
		}

		// Symmetric RTP: latch the peer address from traffic if the SDP
		// address was wrong or NATed.
		if t.remoteAddr() == nil {
			t.SetRemote(addr.IP.String(), addr.Port)
		}

		t.trackSequence(pkt.SequenceNumber)
		t.packetsIn.Add(1)
		t.handleInbound(pkt.Payload)
	}
}

func (t *Transport) trackSequence(seq uint16) {
	if !t.seqPrimed {
		t.seqPrimed = true
		t.lastSeq = seq
		return
	}
	if seq != (t.lastSeq+1)&0xFFFF {
		t.seqDiscontinuities.Add(1)
	}
	t.lastSeq = seq
}

func (t *Transport) handleInbound(payload []byte) {
	if t.cfg.OnInboundFrame != nil {
		t.cfg.OnInboundFrame(payload)
	}

	lpcm, err := internal_audio.Decode(t.cfg.PayloadType, payload)
	if err != nil {
		t.logger.Debug("decoding inbound frame", "error", err)
		return
	}

	if t.cfg.Recorder != nil {
		t.cfg.Recorder.Append(lpcm)
	}

	if t.cfg.Segmenter == nil {
		return
	}
	u, err := t.cfg.Segmenter.Push(lpcm)
	if err != nil {
		t.logger.Warn("segmenting inbound audio", "error", err)
		return
	}
	if u == nil {
		return
	}

	select {
	case t.utterances <- u:
	default:
		t.utterancesDropped.Add(1)
		t.logger.Warn("utterance queue full, dropping",
			"utterance_id", u.ID, "frames", u.Frames)
	}
}
