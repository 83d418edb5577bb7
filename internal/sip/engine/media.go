// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package sip_engine

import (
	internal_audio "github.com/dht-solution/callbridge/internal/audio"
	internal_rtp "github.com/dht-solution/callbridge/internal/rtp"
	internal_session "github.com/dht-solution/callbridge/internal/session"
)

func newCallRecorder(dir, callID string) (*internal_audio.Recorder, error) {
	return internal_audio.NewRecorder(dir, callID)
}

func newCallTransport(
	e *Engine,
	s *internal_session.CallSession,
	remoteIP string,
	remotePort int,
	onInbound func([]byte),
) (*internal_rtp.Transport, error) {
	return internal_rtp.NewTransport(internal_rtp.Config{
		LocalIP:            e.cfg.SIP.LocalIP,
		LocalPort:          s.Ports.RTP,
		RemoteIP:           remoteIP,
		RemotePort:         remotePort,
		PayloadType:        s.Codec.PayloadType,
		Segmenter:          s.Segmenter,
		Recorder:           s.Recorder,
		OnInboundFrame:     onInbound,
		UtteranceQueueSize: e.cfg.RTP.UtteranceQueueSize,
		PlaybackQueueSize:  e.cfg.RTP.PlaybackQueueSize,
		Logger:             e.logger,
	})
}
