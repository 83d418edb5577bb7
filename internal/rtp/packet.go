// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

// Package internal_rtp moves G.711 media over UDP: a paced sender with
// comfort-noise fill and a receiver that feeds recording and voice-activity
// segmentation.
package internal_rtp

import (
	"fmt"

	pion_rtp "github.com/pion/rtp"
)

// Sequence and timestamp increments per 20 ms G.711 frame.
const (
	samplesPerFrame = 160
	rtpVersion      = 2
)

// BuildPacket marshals one outbound RTP packet.
func BuildPacket(payloadType uint8, seq uint16, timestamp, ssrc uint32, payload []byte) ([]byte, error) {
	pkt := pion_rtp.Packet{
		Header: pion_rtp.Header{
			Version:        rtpVersion,
			PayloadType:    payloadType,
			SequenceNumber: seq,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	return pkt.Marshal()
}

// ParsePacket unmarshals an inbound RTP datagram.
func ParsePacket(data []byte) (*pion_rtp.Packet, error) {
	pkt := &pion_rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parsing rtp packet: %w", err)
	}
	return pkt, nil
}
