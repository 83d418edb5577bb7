// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package sip_engine

import (
	sip_codec "github.com/dht-solution/callbridge/internal/sip/codec"

	internal_audio "github.com/dht-solution/callbridge/internal/audio"
	internal_session "github.com/dht-solution/callbridge/internal/session"
)

// The engine implements the control channel's CommandHandler. Commands for
// unknown calls or wrong states are logged and dropped; they never disturb
// other sessions.

// HandleCall places an outbound call.
func (e *Engine) HandleCall(phoneNumber string) {
	if _, err := e.MakeCall(phoneNumber); err != nil {
		e.logger.Warn("call command failed", "number", phoneNumber, "error", err)
	}
}

// HandleInjectAudio queues raw G.711 audio from the controller onto an
// active call's playback stream.
func (e *Engine) HandleInjectAudio(callID string, payload []byte) {
	s := e.registry.Get(callID)
	if s == nil || s.State() != internal_session.StateActive || s.Transport == nil {
		e.logger.Debug("rtp inject for inactive call", "call_id", callID)
		return
	}

	frames := internal_audio.Packetize(s.Codec.PayloadType, payload)
	accepted := s.Transport.EnqueuePlayback(frames)
	if accepted < len(frames) {
		e.logger.Warn("playback queue full during inject",
			"call_id", callID, "accepted", accepted, "frames", len(frames))
	}
}

// HandleHangup terminates a call from the controller side.
func (e *Engine) HandleHangup(callID string) {
	s := e.registry.Get(callID)
	if s == nil {
		e.logger.Debug("hangup for unknown call", "call_id", callID)
		return
	}

	switch s.State() {
	case internal_session.StateActive, internal_session.StateAnswered:
		e.sendBye(s)
		if e.teardown(s, "controller hangup") {
			e.sink().PublishBye(s.ID)
		}
	case internal_session.StateInviting:
		// abandon the pending outbound call
		if s.TransitionIf(internal_session.StateFailed, internal_session.StateInviting) {
			e.cleanup(s)
			e.sink().PublishCallFailed(487, "Request Terminated")
		}
	case internal_session.StateInvited:
		e.HandleIgnore(callID)
	}
}

// HandleAnswer accepts a held inbound ring.
func (e *Engine) HandleAnswer(callID string) {
	s := e.registry.Get(callID)
	if s == nil || s.State() != internal_session.StateInvited {
		e.logger.Debug("answer for call not ringing", "call_id", callID)
		return
	}
	e.answer(s)
}

// HandleIgnore rejects a held inbound ring with 486 Busy Here.
func (e *Engine) HandleIgnore(callID string) {
	s := e.registry.Get(callID)
	if s == nil {
		return
	}
	if !s.TransitionIf(internal_session.StateFailed, internal_session.StateInvited) {
		e.logger.Debug("ignore for call not ringing", "call_id", callID)
		return
	}
	s.DisarmInviteTimer()

	if s.Invite != nil {
		resp := sip_codec.NewResponse(s.Invite, 486, "Busy Here").WithToTag(s.LocalTag)
		e.send(resp, s.RemoteSIP)
	}
	e.cleanup(s)
	e.sink().PublishBye(s.ID)
}
