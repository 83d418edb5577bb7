// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

// Package sip_engine is the signaling core: it owns the SIP UDP socket,
// drives each call's lifecycle state machine and wires up media, recording
// and the response pipeline when a call goes active.
package sip_engine

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dht-solution/callbridge/config"
	"github.com/dht-solution/callbridge/pkg/commons"

	sip_codec "github.com/dht-solution/callbridge/internal/sip/codec"
	sip_infra "github.com/dht-solution/callbridge/internal/sip/infra"

	internal_pipeline "github.com/dht-solution/callbridge/internal/pipeline"
	internal_session "github.com/dht-solution/callbridge/internal/session"
	internal_vad "github.com/dht-solution/callbridge/internal/vad"
)

const maxDatagram = 4096

// EventSink receives the engine's upstream events. The WebSocket control
// channel implements it.
type EventSink interface {
	PublishRingAns(phoneNumber, callID string)
	PublishCallAns(callID string)
	PublishCallFailed(statusCode int, reason string)
	PublishBye(callID string)
	PublishRTP(callID string, payload []byte)
}

// nopSink lets the engine run before (or without) a control channel.
type nopSink struct{}

func (nopSink) PublishRingAns(string, string) {}
func (nopSink) PublishCallAns(string)         {}
func (nopSink) PublishCallFailed(int, string) {}
func (nopSink) PublishBye(string)             {}
func (nopSink) PublishRTP(string, []byte)     {}

// DetectorFactory builds a fresh voice-activity detector per call; detectors
// are stateful and must not be shared.
type DetectorFactory func() (internal_vad.Detector, error)

// Engine is the SIP signaling engine.
type Engine struct {
	cfg       *config.AppConfig
	logger    commons.Logger
	registry  *internal_session.Registry
	allocator *sip_infra.PortAllocator
	orch      *internal_pipeline.Orchestrator
	detector  DetectorFactory

	eventsMu sync.RWMutex
	events   EventSink

	connMu sync.RWMutex
	conn   *net.UDPConn

	runCtx context.Context
}

// NewEngine builds the engine. The control channel is attached later via
// SetEvents because channel and engine reference each other.
func NewEngine(
	cfg *config.AppConfig,
	orch *internal_pipeline.Orchestrator,
	detector DetectorFactory,
	logger commons.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		logger:    logger.Named("sip"),
		registry:  internal_session.NewRegistry(),
		allocator: sip_infra.NewPortAllocator(cfg.RTP.PortRangeStart, cfg.RTP.PortRangeEnd, cfg.RTP.PortStep),
		orch:      orch,
		detector:  detector,
		events:    nopSink{},
	}
}

// SetEvents attaches the upstream event sink.
func (e *Engine) SetEvents(sink EventSink) {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	e.events = sink
}

func (e *Engine) sink() EventSink {
	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()
	return e.events
}

// Registry exposes the live session set.
func (e *Engine) Registry() *internal_session.Registry {
	return e.registry
}

// Allocator exposes the RTP port allocator.
func (e *Engine) Allocator() *sip_infra.PortAllocator {
	return e.allocator
}

// LocalPort returns the bound signaling port.
func (e *Engine) LocalPort() int {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	if e.conn == nil {
		return 0
	}
	return e.conn.LocalAddr().(*net.UDPAddr).Port
}

// Run binds the signaling socket and serves until the context is cancelled.
// A bind failure is returned immediately and is fatal for the process.
func (e *Engine) Run(ctx context.Context) error {
	laddr := &net.UDPAddr{IP: net.ParseIP(e.cfg.SIP.LocalIP), Port: e.cfg.SIP.LocalPort}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("binding sip socket %s: %w", laddr, err)
	}

	e.connMu.Lock()
	e.conn = conn
	e.runCtx = ctx
	e.connMu.Unlock()

	e.logger.Info("signaling engine listening", "addr", conn.LocalAddr().String())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	defer e.shutdownSessions()

	buf := make([]byte, maxDatagram)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			e.logger.Warn("reading sip socket", "error", err)
			continue
		}

		msg, err := sip_codec.Parse(buf[:n])
		if err != nil {
			e.logger.Debug("dropping malformed sip datagram", "remote", raddr.String(), "error", err)
			continue
		}
		e.dispatch(msg, raddr)
	}
}

func (e *Engine) dispatch(msg *sip_codec.Message, raddr *net.UDPAddr) {
	if !msg.IsRequest() {
		e.handleResponse(msg)
		return
	}

	e.logger.Debug("sip request", "method", msg.Method, "call_id", msg.CallID(), "remote", raddr.String())

	switch msg.Method {
	case sip_codec.MethodInvite:
		e.handleInvite(msg, raddr)
	case sip_codec.MethodAck:
		e.handleAck(msg)
	case sip_codec.MethodBye:
		e.handleBye(msg, raddr)
	case sip_codec.MethodCancel:
		e.handleCancel(msg, raddr)
	case sip_codec.MethodOptions:
		e.send(sip_codec.NewResponse(msg, 200, "OK"), raddr)
	default:
		e.send(sip_codec.NewResponse(msg, 501, "Not Implemented"), raddr)
	}
}

// send marshals and transmits a SIP message, logging rather than failing:
// signaling errors must never take down the engine loop.
func (e *Engine) send(msg *sip_codec.Message, raddr *net.UDPAddr) {
	e.connMu.RLock()
	conn := e.conn
	e.connMu.RUnlock()
	if conn == nil {
		return
	}
	if _, err := conn.WriteToUDP(msg.Marshal(), raddr); err != nil {
		e.logger.Warn("sending sip message", "remote", raddr.String(), "error", err)
	}
}

func (e *Engine) serverAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(e.cfg.SIP.ServerIP), Port: e.cfg.SIP.ServerPort}
}

func newTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func newBranch() string {
	return "z9hG4bK" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// shutdownSessions hangs up everything still live when the engine stops.
func (e *Engine) shutdownSessions() {
	e.registry.Range(func(s *internal_session.CallSession) {
		e.teardown(s, "engine shutdown")
	})
}

// startMedia builds the media stack of an answered call and flips it ACTIVE.
func (e *Engine) startMedia(s *internal_session.CallSession, remoteIP string, remotePort int) error {
	det, err := e.detector()
	if err != nil {
		return fmt.Errorf("building vad detector: %w", err)
	}
	s.Segmenter = internal_vad.NewSegmenter(det, e.cfg.RTP.UtteranceCapPackets, e.cfg.VAD.HangoverFrames)

	rec, err := newCallRecorder(e.cfg.Files.RecordingDir, s.ID)
	if err != nil {
		return err
	}
	s.Recorder = rec

	callID := s.ID
	transport, err := newCallTransport(e, s, remoteIP, remotePort, func(payload []byte) {
		e.sink().PublishRTP(callID, payload)
	})
	if err != nil {
		return err
	}
	s.Transport = transport

	if err := s.Transition(internal_session.StateActive); err != nil {
		transport.Close()
		return err
	}

	transport.Start(e.runCtx)
	e.orch.Attach(e.runCtx, s, transport)
	e.orch.PlayGreeting(s, transport)

	e.logger.Info("call active",
		"call_id", s.ID,
		"direction", s.Direction,
		"codec", s.Codec.Name,
		"rtp_port", s.Ports.RTP,
	)
	return nil
}

// inviteExpired fires when an outbound INVITE or a held inbound ring sees no
// final answer within the configured timeout.
func (e *Engine) inviteExpired(callID string) {
	s := e.registry.Get(callID)
	if s == nil {
		return
	}

	switch {
	case s.TransitionIf(internal_session.StateFailed, internal_session.StateInviting):
		e.logger.Warn("outbound invite timed out", "call_id", callID)
		e.sink().PublishCallFailed(408, "Request Timeout")
	case s.TransitionIf(internal_session.StateFailed, internal_session.StateInvited):
		e.logger.Warn("inbound ring unanswered, rejecting", "call_id", callID)
		if s.Invite != nil {
			resp := sip_codec.NewResponse(s.Invite, 486, "Busy Here").WithToTag(s.LocalTag)
			e.send(resp, s.RemoteSIP)
		}
		e.sink().PublishCallFailed(486, "Busy Here")
	default:
		return
	}
	e.cleanup(s)
}

// cleanup releases every resource a session still holds and drops it from
// the registry. Safe to call more than once.
func (e *Engine) cleanup(s *internal_session.CallSession) {
	s.DisarmInviteTimer()

	if s.Transport != nil {
		s.Transport.Close()
	}
	if s.Recorder != nil {
		if path, err := s.Recorder.Close(); err != nil {
			e.logger.Warn("finalizing recording", "call_id", s.ID, "error", err)
		} else if path != "" {
			e.logger.Info("recording written", "call_id", s.ID, "path", path)
		}
	}
	if s.Segmenter != nil {
		// detector owns an inference session in the silero case
		s.Segmenter.Close()
	}
	if s.Ports.RTP != 0 {
		e.allocator.Release(s.Ports)
		s.Ports = sip_infra.PortPair{}
	}
	e.registry.Remove(s.ID)
}

// teardown moves a live session to CLOSED and releases its resources. It
// reports whether it acted, so callers emit at most one terminal event per
// call.
func (e *Engine) teardown(s *internal_session.CallSession, reason string) bool {
	if !s.TransitionIf(internal_session.StateTerminating,
		internal_session.StateInvited,
		internal_session.StateInviting,
		internal_session.StateAnswered,
		internal_session.StateActive,
	) {
		// already terminating or terminal
		return false
	}

	e.logger.Info("call terminating", "call_id", s.ID, "reason", reason, "duration", s.Duration())
	e.cleanup(s)

	if err := s.Transition(internal_session.StateClosed); err != nil {
		e.logger.Warn("closing session", "call_id", s.ID, "error", err)
	}
	return true
}

// holdTimeout returns how long a held inbound ring may wait for the
// controller before it is rejected.
func (e *Engine) holdTimeout() time.Duration {
	return e.cfg.SIP.InviteTimeout()
}
