// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

// Package sip_codec parses and serializes SIP messages and their SDP bodies.
// It is a pure codec: no sockets, no timers, no state.
package sip_codec

import (
	"fmt"
	"strconv"
	"strings"
)

// SIP request methods handled by the engine. Anything else is answered
// 501 Not Implemented.
const (
	MethodInvite  = "INVITE"
	MethodAck     = "ACK"
	MethodBye     = "BYE"
	MethodCancel  = "CANCEL"
	MethodOptions = "OPTIONS"
)

const sipVersion = "SIP/2.0"

// Header is a single SIP header line. Order is preserved; names are
// compared case-insensitively.
type Header struct {
	Name  string
	Value string
}

// Message is a parsed SIP request or response.
type Message struct {
	// Request fields (Method non-empty for requests)
	Method     string
	RequestURI string

	// Response fields (StatusCode non-zero for responses)
	StatusCode int
	Reason     string

	headers []Header
	Body    []byte
}

// IsRequest reports whether the message is a SIP request.
func (m *Message) IsRequest() bool {
	return m.Method != ""
}

// Header returns the value of the first header with the given name, or "".
func (m *Message) Header(name string) string {
	for _, h := range m.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Headers returns all values for the given header name in order.
func (m *Message) Headers(name string) []string {
	var out []string
	for _, h := range m.headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// AppendHeader adds a header line, preserving any existing ones.
func (m *Message) AppendHeader(name, value string) {
	m.headers = append(m.headers, Header{Name: name, Value: value})
}

// SetHeader replaces the first header with the given name or appends it.
func (m *Message) SetHeader(name, value string) {
	for i, h := range m.headers {
		if strings.EqualFold(h.Name, name) {
			m.headers[i].Value = value
			return
		}
	}
	m.AppendHeader(name, value)
}

// CallID returns the Call-ID header value.
func (m *Message) CallID() string {
	return m.Header("Call-ID")
}

// CSeq returns the sequence number and method from the CSeq header.
func (m *Message) CSeq() (uint32, string, error) {
	raw := m.Header("CSeq")
	parts := strings.Fields(raw)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("malformed CSeq header %q", raw)
	}
	seq, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("malformed CSeq number %q: %w", parts[0], err)
	}
	return uint32(seq), parts[1], nil
}

// FromTag returns the tag parameter of the From header, or "".
func (m *Message) FromTag() string {
	return headerParam(m.Header("From"), "tag")
}

// ToTag returns the tag parameter of the To header, or "".
func (m *Message) ToTag() string {
	return headerParam(m.Header("To"), "tag")
}

// FromUser returns the user part of the From header URI ("0903383638" for
// `"0903383638" <sip:0903383638@192.168.1.170>;tag=x`).
func (m *Message) FromUser() string {
	return uriUser(m.Header("From"))
}

func headerParam(value, name string) string {
	for _, part := range strings.Split(value, ";")[1:] {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, name+"=") {
			return strings.TrimPrefix(part, name+"=")
		}
	}
	return ""
}

func uriUser(value string) string {
	start := strings.Index(value, "sip:")
	if start == -1 {
		return ""
	}
	rest := value[start+len("sip:"):]
	at := strings.IndexByte(rest, '@')
	if at == -1 {
		return ""
	}
	return rest[:at]
}

// Parse decodes a raw SIP datagram. It accepts both CRLF and bare LF line
// endings since some PBX builds emit the latter.
func Parse(data []byte) (*Message, error) {
	raw := strings.ReplaceAll(string(data), "\r\n", "\n")
	headerPart, bodyPart, _ := strings.Cut(raw, "\n\n")

	lines := strings.Split(headerPart, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("empty SIP message")
	}

	msg := &Message{Body: []byte(bodyPart)}

	first := strings.TrimSpace(lines[0])
	parts := strings.SplitN(first, " ", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("malformed start line %q", first)
	}

	if strings.HasPrefix(parts[0], "SIP/") {
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("malformed status code %q: %w", parts[1], err)
		}
		msg.StatusCode = code
		msg.Reason = parts[2]
	} else {
		if parts[2] != sipVersion {
			return nil, fmt.Errorf("unsupported SIP version %q", parts[2])
		}
		msg.Method = strings.ToUpper(parts[0])
		msg.RequestURI = parts[1]
	}

	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		msg.AppendHeader(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	if msg.CallID() == "" {
		return nil, fmt.Errorf("missing Call-ID header")
	}

	return msg, nil
}

// Marshal serializes the message with CRLF line endings and a correct
// Content-Length header.
func (m *Message) Marshal() []byte {
	var sb strings.Builder

	if m.IsRequest() {
		sb.WriteString(fmt.Sprintf("%s %s %s\r\n", m.Method, m.RequestURI, sipVersion))
	} else {
		sb.WriteString(fmt.Sprintf("%s %d %s\r\n", sipVersion, m.StatusCode, m.Reason))
	}

	m.SetHeader("Content-Length", strconv.Itoa(len(m.Body)))
	for _, h := range m.headers {
		sb.WriteString(fmt.Sprintf("%s: %s\r\n", h.Name, h.Value))
	}
	sb.WriteString("\r\n")
	sb.Write(m.Body)

	return []byte(sb.String())
}

// NewRequest builds a request with the given method and request URI. Callers
// append the dialog headers themselves.
func NewRequest(method, uri string) *Message {
	return &Message{Method: method, RequestURI: uri}
}

// NewResponse builds a response to a request, copying the headers that
// identify the transaction (Via, From, To, Call-ID, CSeq) per RFC 3261.
func NewResponse(req *Message, statusCode int, reason string) *Message {
	resp := &Message{StatusCode: statusCode, Reason: reason}
	for _, via := range req.Headers("Via") {
		resp.AppendHeader("Via", via)
	}
	for _, name := range []string{"From", "To", "Call-ID", "CSeq"} {
		if v := req.Header(name); v != "" {
			resp.AppendHeader(name, v)
		}
	}
	return resp
}

// WithToTag appends a tag parameter to the To header if not already present.
func (m *Message) WithToTag(tag string) *Message {
	to := m.Header("To")
	if to == "" || headerParam(to, "tag") != "" {
		return m
	}
	m.SetHeader("To", to+";tag="+tag)
	return m
}

// SetSDPBody attaches an SDP body with its Content-Type header.
func (m *Message) SetSDPBody(sdp string) {
	m.SetHeader("Content-Type", "application/sdp")
	m.Body = []byte(sdp)
}

// HasSDPBody reports whether the message carries an SDP payload.
func (m *Message) HasSDPBody() bool {
	return strings.EqualFold(m.Header("Content-Type"), "application/sdp") && len(m.Body) > 0
}
