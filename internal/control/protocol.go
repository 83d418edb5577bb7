// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

// Package internal_control runs the WebSocket control channel: a line
// protocol of TAG:payload messages, payload fields joined with "##".
package internal_control

import (
	"fmt"
	"strings"
)

// Command and event tags on the control channel.
const (
	TagCall       = "CALL"
	TagRTP        = "RTP"
	TagBye        = "BYE"
	TagHangup     = "HANGUP"
	TagCallAns    = "CALL_ANS"
	TagCallIgnore = "CALL_IGNORE"
	TagRingAns    = "RING_ANS"
	TagCallFailed = "CALL_FAILED"
)

// fieldSep joins multiple payload fields inside one message.
const fieldSep = "##"

// Command is a parsed client message.
type Command struct {
	Tag    string
	Fields []string
}

// ParseCommand splits a raw client message into tag and payload fields. The
// payload may itself contain ':' (base64 never does, but phone extensions
// might), so only the first colon splits.
func ParseCommand(raw string) (*Command, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty command")
	}

	tag, payload, found := strings.Cut(raw, ":")
	tag = strings.TrimSpace(tag)

	switch tag {
	case TagCall, TagRTP, TagBye, TagHangup, TagCallAns, TagCallIgnore:
	default:
		return nil, fmt.Errorf("unknown command tag %q", tag)
	}
	if !found || strings.TrimSpace(payload) == "" {
		return nil, fmt.Errorf("command %s has no payload", tag)
	}

	return &Command{Tag: tag, Fields: strings.Split(payload, fieldSep)}, nil
}

// BuildEvent formats a server-to-client message.
func BuildEvent(tag string, fields ...string) string {
	return tag + ":" + strings.Join(fields, fieldSep)
}
