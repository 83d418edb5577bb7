// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

// Package internal_session tracks per-call state shared between the signaling
// engine, the media transport and the response pipeline.
package internal_session

import (
	"fmt"
	"net"
	"sync"
	"time"

	sip_codec "github.com/dht-solution/callbridge/internal/sip/codec"
	sip_infra "github.com/dht-solution/callbridge/internal/sip/infra"

	internal_audio "github.com/dht-solution/callbridge/internal/audio"
	internal_rtp "github.com/dht-solution/callbridge/internal/rtp"
	internal_vad "github.com/dht-solution/callbridge/internal/vad"
)

// State is a call's position in its signaling lifecycle.
type State string

const (
	StateIdle        State = "IDLE"
	StateInviting    State = "INVITING" // outbound INVITE sent, awaiting final response
	StateInvited     State = "INVITED"  // inbound INVITE received, not yet answered
	StateAnswered    State = "ANSWERED" // 200 OK exchanged, awaiting ACK
	StateActive      State = "ACTIVE"   // media flowing
	StateTerminating State = "TERMINATING"
	StateClosed      State = "CLOSED"
	StateFailed      State = "FAILED"
)

// Direction records which side initiated the call.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// validTransitions is the edge set of the lifecycle state machine. CLOSED and
// FAILED are terminal.
var validTransitions = map[State][]State{
	StateIdle:        {StateInviting, StateInvited},
	StateInviting:    {StateAnswered, StateActive, StateTerminating, StateFailed},
	StateInvited:     {StateAnswered, StateTerminating, StateFailed},
	StateAnswered:    {StateActive, StateTerminating, StateFailed},
	StateActive:      {StateTerminating, StateFailed},
	StateTerminating: {StateClosed, StateFailed},
}

// ErrInvalidTransition wraps a rejected state change.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid call state transition %s -> %s", e.From, e.To)
}

// CallSession is the shared state of one call leg.
type CallSession struct {
	ID        string // SIP Call-ID
	Direction Direction
	PeerUser  string // caller or callee number
	StartedAt time.Time

	mu    sync.Mutex
	state State

	// signaling context
	LocalTag  string
	RemoteTag string
	CSeq      uint32
	Invite    *sip_codec.Message // original INVITE, for late responses
	RemoteSIP *net.UDPAddr       // peer signaling address

	// peer media address from the SDP offer/answer
	RemoteMediaIP   string
	RemoteMediaPort int

	// media context
	Codec     sip_codec.Codec
	Ports     sip_infra.PortPair
	Transport *internal_rtp.Transport
	Recorder  *internal_audio.Recorder
	Segmenter *internal_vad.Segmenter

	// one-shot invite timer, armed for outbound calls and held inbound rings
	inviteTimer *time.Timer
}

// NewCallSession creates a session in IDLE.
func NewCallSession(callID string, direction Direction) *CallSession {
	return &CallSession{
		ID:        callID,
		Direction: direction,
		StartedAt: time.Now(),
		state:     StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *CallSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to the target state, rejecting edges outside
// the lifecycle graph. Transitions on a terminal state always fail.
func (s *CallSession) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range validTransitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return &ErrInvalidTransition{From: s.state, To: to}
}

// TransitionIf performs the transition only when the session is currently in
// one of the given states. It returns whether the transition happened.
func (s *CallSession) TransitionIf(to State, from ...State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := false
	for _, f := range from {
		if s.state == f {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	for _, allowed := range validTransitions[s.state] {
		if allowed == to {
			s.state = to
			return true
		}
	}
	return false
}

// Terminal reports whether the session reached CLOSED or FAILED.
func (s *CallSession) Terminal() bool {
	st := s.State()
	return st == StateClosed || st == StateFailed
}

// ArmInviteTimer starts the one-shot invite timeout. Any previously armed
// timer is stopped first.
func (s *CallSession) ArmInviteTimer(d time.Duration, onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inviteTimer != nil {
		s.inviteTimer.Stop()
	}
	s.inviteTimer = time.AfterFunc(d, onExpire)
}

// DisarmInviteTimer cancels a pending invite timeout.
func (s *CallSession) DisarmInviteTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inviteTimer != nil {
		s.inviteTimer.Stop()
		s.inviteTimer = nil
	}
}

// NextCSeq increments and returns the outbound CSeq number.
func (s *CallSession) NextCSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CSeq++
	return s.CSeq
}

// Duration returns the session age.
func (s *CallSession) Duration() time.Duration {
	return time.Since(s.StartedAt)
}
