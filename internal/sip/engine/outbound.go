// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package sip_engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dht-solution/callbridge/pkg/utils"

	sip_codec "github.com/dht-solution/callbridge/internal/sip/codec"

	internal_session "github.com/dht-solution/callbridge/internal/session"
)

// MakeCall places an outbound call to the given number through the SIP
// server. Failures surface as a CALL_FAILED event; the method itself only
// errors on malformed input.
func (e *Engine) MakeCall(phoneNumber string) (string, error) {
	if !utils.IsDigits(phoneNumber) {
		return "", fmt.Errorf("invalid phone number %q", phoneNumber)
	}

	callID := uuid.NewString()

	ports, err := e.allocator.Allocate()
	if err != nil {
		e.logger.Error("rtp ports exhausted, cannot place call", "number", phoneNumber)
		e.sink().PublishCallFailed(503, "Service Unavailable")
		return "", err
	}

	s := internal_session.NewCallSession(callID, internal_session.DirectionOutbound)
	s.PeerUser = phoneNumber
	s.LocalTag = newTag()
	s.Ports = ports
	s.RemoteSIP = e.serverAddr()

	if err := s.Transition(internal_session.StateInviting); err != nil {
		e.allocator.Release(ports)
		return "", err
	}
	if err := e.registry.Add(s); err != nil {
		e.allocator.Release(ports)
		return "", err
	}

	invite := e.buildInvite(s)
	e.send(invite, s.RemoteSIP)

	s.ArmInviteTimer(e.cfg.SIP.InviteTimeout(), func() { e.inviteExpired(callID) })

	e.logger.Info("outbound call placed", "call_id", callID, "number", phoneNumber)
	return callID, nil
}

func (e *Engine) buildInvite(s *internal_session.CallSession) *sip_codec.Message {
	cfg := e.cfg.SIP
	requestURI := fmt.Sprintf("sip:%s@%s:%d", s.PeerUser, cfg.ServerIP, cfg.ServerPort)

	msg := sip_codec.NewRequest(sip_codec.MethodInvite, requestURI)
	msg.AppendHeader("Via", fmt.Sprintf("SIP/2.0/UDP %s:%d;branch=%s", cfg.LocalIP, cfg.LocalPort, newBranch()))
	msg.AppendHeader("Max-Forwards", "70")
	msg.AppendHeader("From", fmt.Sprintf("<sip:callbridge@%s:%d>;tag=%s", cfg.LocalIP, cfg.LocalPort, s.LocalTag))
	msg.AppendHeader("To", fmt.Sprintf("<sip:%s@%s:%d>", s.PeerUser, cfg.ServerIP, cfg.ServerPort))
	msg.AppendHeader("Call-ID", s.ID)
	msg.AppendHeader("CSeq", fmt.Sprintf("%d INVITE", s.NextCSeq()))
	msg.AppendHeader("Contact", e.contactHeader())
	msg.SetSDPBody(sip_codec.GenerateSDP(s.ID, cfg.LocalIP, s.Ports.RTP, sip_codec.SupportedCodecs))
	return msg
}

// handleResponse routes responses to our outbound requests. Only INVITE
// responses carry state; BYE responses are acknowledged by silence.
func (e *Engine) handleResponse(msg *sip_codec.Message) {
	s := e.registry.Get(msg.CallID())
	if s == nil {
		return
	}

	_, method, err := msg.CSeq()
	if err != nil || method != sip_codec.MethodInvite {
		return
	}

	switch {
	case msg.StatusCode < 180:
		// 100 Trying and friends
	case msg.StatusCode < 200:
		e.logger.Info("outbound call ringing", "call_id", s.ID)
		e.sink().PublishRingAns(s.PeerUser, s.ID)
	case msg.StatusCode < 300:
		e.handleInviteAccepted(s, msg)
	default:
		e.handleInviteRejected(s, msg)
	}
}

func (e *Engine) handleInviteAccepted(s *internal_session.CallSession, msg *sip_codec.Message) {
	if !s.TransitionIf(internal_session.StateAnswered, internal_session.StateInviting) {
		return
	}
	s.DisarmInviteTimer()
	s.RemoteTag = msg.ToTag()

	md, err := sip_codec.ParseSDP(msg.Body)
	if err != nil {
		e.logger.Error("200 OK with unusable sdp", "call_id", s.ID, "error", err)
		e.sendAck(s)
		e.sendBye(s)
		e.failActive(s, 500, "Bad SDP Answer")
		return
	}
	codec, err := sip_codec.NegotiateCodec(md)
	if err != nil {
		e.logger.Error("200 OK with no mutual codec", "call_id", s.ID, "answered", md.PayloadTypes)
		e.sendAck(s)
		e.sendBye(s)
		e.failActive(s, 488, "Not Acceptable Here")
		return
	}
	s.Codec = codec
	s.RemoteMediaIP = md.ConnectionIP
	s.RemoteMediaPort = md.MediaPort

	e.sendAck(s)

	if err := e.startMedia(s, md.ConnectionIP, md.MediaPort); err != nil {
		e.logger.Error("starting media failed", "call_id", s.ID, "error", err)
		e.sendBye(s)
		e.failActive(s, 500, "Server Internal Error")
		return
	}
	e.sink().PublishCallAns(s.ID)
}

func (e *Engine) handleInviteRejected(s *internal_session.CallSession, msg *sip_codec.Message) {
	if !s.TransitionIf(internal_session.StateFailed, internal_session.StateInviting) {
		return
	}
	s.DisarmInviteTimer()

	e.logger.Warn("outbound call rejected",
		"call_id", s.ID, "status", msg.StatusCode, "reason", msg.Reason)

	// non-2xx final responses are ACKed within the same transaction
	e.sendAck(s)
	e.cleanup(s)
	e.sink().PublishCallFailed(msg.StatusCode, msg.Reason)
}

func (e *Engine) sendAck(s *internal_session.CallSession) {
	cfg := e.cfg.SIP
	requestURI := fmt.Sprintf("sip:%s@%s:%d", s.PeerUser, cfg.ServerIP, cfg.ServerPort)

	to := fmt.Sprintf("<sip:%s@%s:%d>", s.PeerUser, cfg.ServerIP, cfg.ServerPort)
	if s.RemoteTag != "" {
		to += ";tag=" + s.RemoteTag
	}

	msg := sip_codec.NewRequest(sip_codec.MethodAck, requestURI)
	msg.AppendHeader("Via", fmt.Sprintf("SIP/2.0/UDP %s:%d;branch=%s", cfg.LocalIP, cfg.LocalPort, newBranch()))
	msg.AppendHeader("Max-Forwards", "70")
	msg.AppendHeader("From", fmt.Sprintf("<sip:callbridge@%s:%d>;tag=%s", cfg.LocalIP, cfg.LocalPort, s.LocalTag))
	msg.AppendHeader("To", to)
	msg.AppendHeader("Call-ID", s.ID)
	msg.AppendHeader("CSeq", fmt.Sprintf("%d ACK", s.CSeq))
	e.send(msg, s.RemoteSIP)
}

func (e *Engine) sendBye(s *internal_session.CallSession) {
	cfg := e.cfg.SIP
	requestURI := fmt.Sprintf("sip:%s@%s:%d", s.PeerUser, cfg.ServerIP, cfg.ServerPort)

	to := fmt.Sprintf("<sip:%s@%s:%d>", s.PeerUser, cfg.ServerIP, cfg.ServerPort)
	if s.RemoteTag != "" {
		to += ";tag=" + s.RemoteTag
	}

	msg := sip_codec.NewRequest(sip_codec.MethodBye, requestURI)
	msg.AppendHeader("Via", fmt.Sprintf("SIP/2.0/UDP %s:%d;branch=%s", cfg.LocalIP, cfg.LocalPort, newBranch()))
	msg.AppendHeader("Max-Forwards", "70")
	msg.AppendHeader("From", fmt.Sprintf("<sip:callbridge@%s:%d>;tag=%s", cfg.LocalIP, cfg.LocalPort, s.LocalTag))
	msg.AppendHeader("To", to)
	msg.AppendHeader("Call-ID", s.ID)
	msg.AppendHeader("CSeq", fmt.Sprintf("%d BYE", s.NextCSeq()))
	e.send(msg, s.RemoteSIP)
}
