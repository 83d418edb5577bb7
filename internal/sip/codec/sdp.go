// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package sip_codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Codec is a negotiated audio codec for the RTP leg.
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   int
}

var (
	// CodecPCMA is G.711 A-law, the preferred codec.
	CodecPCMA = Codec{PayloadType: 8, Name: "PCMA", ClockRate: 8000}
	// CodecPCMU is G.711 µ-law.
	CodecPCMU = Codec{PayloadType: 0, Name: "PCMU", ClockRate: 8000}
)

// SupportedCodecs lists the codecs we offer, in preference order.
var SupportedCodecs = []Codec{CodecPCMA, CodecPCMU}

// MediaDescription is the subset of an SDP body the engine acts on: where to
// send RTP and which payload types the peer accepts.
type MediaDescription struct {
	ConnectionIP string
	MediaPort    int
	PayloadTypes []uint8
}

// GenerateSDP builds an SDP offer/answer advertising the given codecs on the
// given address.
func GenerateSDP(sessionID string, ip string, rtpPort int, codecs []Codec) string {
	var sb strings.Builder

	now := time.Now().Unix()
	sb.WriteString("v=0\r\n")
	sb.WriteString(fmt.Sprintf("o=callbridge %s %d IN IP4 %s\r\n", sessionID, now, ip))
	sb.WriteString("s=callbridge\r\n")
	sb.WriteString(fmt.Sprintf("c=IN IP4 %s\r\n", ip))
	sb.WriteString("t=0 0\r\n")

	sb.WriteString(fmt.Sprintf("m=audio %d RTP/AVP", rtpPort))
	for _, c := range codecs {
		sb.WriteString(fmt.Sprintf(" %d", c.PayloadType))
	}
	sb.WriteString("\r\n")
	for _, c := range codecs {
		sb.WriteString(fmt.Sprintf("a=rtpmap:%d %s/%d\r\n", c.PayloadType, c.Name, c.ClockRate))
	}
	sb.WriteString("a=ptime:20\r\n")
	sb.WriteString("a=sendrecv\r\n")

	return sb.String()
}

// ParseSDP extracts the audio media description from an SDP body. The
// connection line may appear at session or media level; the media-level one
// wins.
func ParseSDP(body []byte) (*MediaDescription, error) {
	md := &MediaDescription{}
	inAudio := false

	for _, line := range strings.Split(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		value := line[2:]

		switch line[0] {
		case 'c':
			if !inAudio && md.ConnectionIP != "" {
				continue
			}
			fields := strings.Fields(value)
			if len(fields) == 3 && fields[0] == "IN" && fields[1] == "IP4" {
				md.ConnectionIP = fields[2]
			}
		case 'm':
			fields := strings.Fields(value)
			if len(fields) < 4 || fields[0] != "audio" {
				inAudio = false
				continue
			}
			inAudio = true
			port, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("malformed media port %q: %w", fields[1], err)
			}
			md.MediaPort = port
			for _, pt := range fields[3:] {
				n, err := strconv.ParseUint(pt, 10, 8)
				if err != nil {
					continue
				}
				md.PayloadTypes = append(md.PayloadTypes, uint8(n))
			}
		}
	}

	if md.MediaPort == 0 {
		return nil, fmt.Errorf("no audio media line in SDP")
	}
	if md.ConnectionIP == "" {
		return nil, fmt.Errorf("no connection line in SDP")
	}
	return md, nil
}

// NegotiateCodec picks the first supported codec the peer offers, in our
// preference order. An offer with no mutual codec is an error; the caller
// answers 488 Not Acceptable Here.
func NegotiateCodec(md *MediaDescription) (Codec, error) {
	for _, c := range SupportedCodecs {
		for _, pt := range md.PayloadTypes {
			if pt == c.PayloadType {
				return c, nil
			}
		}
	}
	return Codec{}, fmt.Errorf("no mutually supported codec in offer %v", md.PayloadTypes)
}
