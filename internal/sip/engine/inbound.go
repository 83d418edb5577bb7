// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package sip_engine

import (
	"fmt"
	"net"

	sip_codec "github.com/dht-solution/callbridge/internal/sip/codec"

	internal_session "github.com/dht-solution/callbridge/internal/session"
)

// handleInvite processes a new inbound call or rejects what it cannot serve.
// Protocol errors are answered at the boundary; no session or ports are held
// for a rejected INVITE.
func (e *Engine) handleInvite(msg *sip_codec.Message, raddr *net.UDPAddr) {
	callID := msg.CallID()

	if existing := e.registry.Get(callID); existing != nil {
		switch existing.State() {
		case internal_session.StateInvited:
			// INVITE retransmission while ringing
			e.send(sip_codec.NewResponse(msg, 180, "Ringing").WithToTag(existing.LocalTag), raddr)
		case internal_session.StateActive, internal_session.StateAnswered:
			// mid-call renegotiation is not supported
			e.send(sip_codec.NewResponse(msg, 488, "Not Acceptable Here").WithToTag(existing.LocalTag), raddr)
		}
		return
	}

	if !msg.HasSDPBody() {
		e.send(sip_codec.NewResponse(msg, 400, "Bad Request"), raddr)
		return
	}
	md, err := sip_codec.ParseSDP(msg.Body)
	if err != nil {
		e.logger.Warn("invite with malformed sdp", "call_id", callID, "error", err)
		e.send(sip_codec.NewResponse(msg, 400, "Bad Request"), raddr)
		return
	}
	codec, err := sip_codec.NegotiateCodec(md)
	if err != nil {
		e.logger.Warn("invite with no mutual codec", "call_id", callID, "offered", md.PayloadTypes)
		e.send(sip_codec.NewResponse(msg, 488, "Not Acceptable Here"), raddr)
		return
	}

	ports, err := e.allocator.Allocate()
	if err != nil {
		e.logger.Error("rtp ports exhausted, refusing call", "call_id", callID)
		e.send(sip_codec.NewResponse(msg, 503, "Service Unavailable"), raddr)
		e.sink().PublishCallFailed(503, "Service Unavailable")
		return
	}

	s := internal_session.NewCallSession(callID, internal_session.DirectionInbound)
	s.PeerUser = msg.FromUser()
	s.RemoteTag = msg.FromTag()
	s.LocalTag = newTag()
	s.Codec = codec
	s.Ports = ports
	s.Invite = msg
	s.RemoteSIP = raddr
	s.RemoteMediaIP = md.ConnectionIP
	s.RemoteMediaPort = md.MediaPort

	if err := s.Transition(internal_session.StateInvited); err != nil {
		e.allocator.Release(ports)
		return
	}
	if err := e.registry.Add(s); err != nil {
		e.allocator.Release(ports)
		return
	}

	e.logger.Info("inbound call ringing",
		"call_id", callID, "from", s.PeerUser, "codec", codec.Name)

	e.send(sip_codec.NewResponse(msg, 180, "Ringing").WithToTag(s.LocalTag), raddr)
	e.sink().PublishRingAns(s.PeerUser, callID)

	if e.cfg.SIP.AutoAnswer {
		e.answer(s)
		return
	}

	// hold the ring until the controller answers or the timeout rejects it
	s.ArmInviteTimer(e.holdTimeout(), func() { e.inviteExpired(callID) })
}

// answer sends 200 OK with the SDP answer and waits for the ACK.
func (e *Engine) answer(s *internal_session.CallSession) {
	if !s.TransitionIf(internal_session.StateAnswered, internal_session.StateInvited) {
		return
	}
	s.DisarmInviteTimer()

	sdp := sip_codec.GenerateSDP(s.ID, e.cfg.SIP.LocalIP, s.Ports.RTP, []sip_codec.Codec{s.Codec})
	resp := sip_codec.NewResponse(s.Invite, 200, "OK").WithToTag(s.LocalTag)
	resp.SetHeader("Contact", e.contactHeader())
	resp.SetSDPBody(sdp)
	e.send(resp, s.RemoteSIP)

	e.logger.Info("inbound call answered", "call_id", s.ID)
}

// handleAck completes the inbound handshake and starts media.
func (e *Engine) handleAck(msg *sip_codec.Message) {
	s := e.registry.Get(msg.CallID())
	if s == nil || s.State() != internal_session.StateAnswered {
		return
	}

	if err := e.startMedia(s, s.RemoteMediaIP, s.RemoteMediaPort); err != nil {
		e.logger.Error("starting media failed", "call_id", s.ID, "error", err)
		e.failActive(s, 500, "Server Internal Error")
		return
	}
	e.sink().PublishCallAns(s.ID)
}

// handleBye terminates an established call. A BYE for an unknown or already
// closed call is acknowledged but otherwise ignored.
func (e *Engine) handleBye(msg *sip_codec.Message, raddr *net.UDPAddr) {
	e.send(sip_codec.NewResponse(msg, 200, "OK"), raddr)

	s := e.registry.Get(msg.CallID())
	if s == nil {
		e.logger.Debug("bye for unknown call", "call_id", msg.CallID())
		return
	}

	if e.teardown(s, "peer bye") {
		e.sink().PublishBye(s.ID)
	}
}

// handleCancel aborts a not-yet-answered inbound call.
func (e *Engine) handleCancel(msg *sip_codec.Message, raddr *net.UDPAddr) {
	e.send(sip_codec.NewResponse(msg, 200, "OK"), raddr)

	s := e.registry.Get(msg.CallID())
	if s == nil || s.State() != internal_session.StateInvited {
		return
	}

	// the cancelled INVITE gets its own final response
	if s.Invite != nil {
		e.send(sip_codec.NewResponse(s.Invite, 487, "Request Terminated").WithToTag(s.LocalTag), raddr)
	}

	if e.teardown(s, "peer cancel") {
		e.sink().PublishBye(s.ID)
	}
}

// failActive tears a call down after an internal error, telling both sides.
func (e *Engine) failActive(s *internal_session.CallSession, code int, reason string) {
	if s.TransitionIf(internal_session.StateFailed,
		internal_session.StateInvited,
		internal_session.StateAnswered,
		internal_session.StateActive,
	) {
		e.cleanup(s)
		e.sink().PublishCallFailed(code, reason)
	}
}

func (e *Engine) contactHeader() string {
	return fmt.Sprintf("<sip:%s@%s:%d>", "callbridge", e.cfg.SIP.LocalIP, e.cfg.SIP.LocalPort)
}
