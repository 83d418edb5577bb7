package internal_control

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dht-solution/callbridge/config"
	"github.com/dht-solution/callbridge/pkg/commons"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		tag    string
		fields []string
		ok     bool
	}{
		{"call", "CALL:0912341234", TagCall, []string{"0912341234"}, true},
		{"rtp", "RTP:call-1##QUJD", TagRTP, []string{"call-1", "QUJD"}, true},
		{"bye", "BYE:call-1", TagBye, []string{"call-1"}, true},
		{"hangup", "HANGUP:call-1", TagHangup, []string{"call-1"}, true},
		{"answer", "CALL_ANS:call-1", TagCallAns, []string{"call-1"}, true},
		{"ignore", "CALL_IGNORE:call-1", TagCallIgnore, []string{"call-1"}, true},
		{"trailing whitespace", "  BYE:call-1\n", TagBye, []string{"call-1"}, true},
		{"unknown tag", "NOPE:x", "", nil, false},
		{"server-only tag", "RING_ANS:x", "", nil, false},
		{"no payload", "CALL:", "", nil, false},
		{"no colon", "CALL", "", nil, false},
		{"empty", "", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand(tt.raw)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.tag, cmd.Tag)
			assert.Equal(t, tt.fields, cmd.Fields)
		})
	}
}

func TestBuildEvent(t *testing.T) {
	assert.Equal(t, "BYE:call-1", BuildEvent(TagBye, "call-1"))
	assert.Equal(t, "RING_ANS:0903383638##call-1", BuildEvent(TagRingAns, "0903383638", "call-1"))
	assert.Equal(t, "CALL_FAILED:486 Busy Here", BuildEvent(TagCallFailed, "486 Busy Here"))
}

// recordingHandler captures dispatched commands.
type recordingHandler struct {
	mu       sync.Mutex
	calls    []string
	injected map[string][]byte
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{injected: make(map[string][]byte)}
}

func (h *recordingHandler) record(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, s)
}

func (h *recordingHandler) HandleCall(number string) { h.record("call:" + number) }
func (h *recordingHandler) HandleInjectAudio(callID string, payload []byte) {
	h.mu.Lock()
	h.injected[callID] = payload
	h.mu.Unlock()
	h.record("rtp:" + callID)
}
func (h *recordingHandler) HandleHangup(callID string) { h.record("hangup:" + callID) }
func (h *recordingHandler) HandleAnswer(callID string) { h.record("answer:" + callID) }
func (h *recordingHandler) HandleIgnore(callID string) { h.record("ignore:" + callID) }

func (h *recordingHandler) seen(s string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.calls {
		if c == s {
			return true
		}
	}
	return false
}

func newTestChannel(t *testing.T, handler CommandHandler, queueSize int) (*Channel, *websocket.Conn) {
	t.Helper()

	ch := NewChannel(config.WebSocketConfig{
		Host:           "127.0.0.1",
		Port:           0,
		EventQueueSize: queueSize,
	}, handler, commons.NewNopLogger())

	srv := httptest.NewServer(http.HandlerFunc(ch.handleUpgrade))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ch.pumpEvents(ctx)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return ch, conn
}

func TestChannelDispatchesCommands(t *testing.T) {
	handler := newRecordingHandler()
	_, conn := newTestChannel(t, handler, 16)

	audio := base64.StdEncoding.EncodeToString([]byte{0xD5, 0xD5, 0x42})
	for _, msg := range []string{
		"CALL:0912341234",
		"RTP:call-1##" + audio,
		"HANGUP:call-1",
		"CALL_ANS:call-2",
		"CALL_IGNORE:call-3",
		"garbage that is not a command",
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}

	assert.Eventually(t, func() bool {
		return handler.seen("call:0912341234") &&
			handler.seen("rtp:call-1") &&
			handler.seen("hangup:call-1") &&
			handler.seen("answer:call-2") &&
			handler.seen("ignore:call-3")
	}, 2*time.Second, 20*time.Millisecond)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []byte{0xD5, 0xD5, 0x42}, handler.injected["call-1"])
	assert.Len(t, handler.calls, 5, "malformed command must not dispatch")
}

func TestChannelDeliversEvents(t *testing.T) {
	ch, conn := newTestChannel(t, newRecordingHandler(), 16)

	ch.PublishRingAns("0903383638", "call-1")
	ch.PublishCallAns("call-1")
	ch.PublishCallFailed(486, "Busy Here")
	ch.PublishBye("call-1")
	ch.PublishRTP("call-1", []byte{0x01, 0x02})

	expected := []string{
		"RING_ANS:0903383638##call-1",
		"CALL_ANS:call-1",
		"CALL_FAILED:486 Busy Here",
		"BYE:call-1",
		"RTP:call-1##" + base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}),
	}
	for _, want := range expected {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestEventQueueDropsOldest(t *testing.T) {
	ch := NewChannel(config.WebSocketConfig{
		Host:           "127.0.0.1",
		EventQueueSize: 3,
	}, newRecordingHandler(), commons.NewNopLogger())

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		ch.PublishBye(id)
	}

	assert.Equal(t, uint64(2), ch.DroppedEvents())

	var got []string
	for len(ch.events) > 0 {
		got = append(got, <-ch.events)
	}
	assert.Equal(t, []string{"BYE:c", "BYE:d", "BYE:e"}, got)
}

func TestEventsQueuedWhileDisconnectedAreDeliveredOnReconnect(t *testing.T) {
	handler := newRecordingHandler()
	ch := NewChannel(config.WebSocketConfig{
		Host:           "127.0.0.1",
		EventQueueSize: 16,
	}, handler, commons.NewNopLogger())

	srv := httptest.NewServer(http.HandlerFunc(ch.handleUpgrade))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.pumpEvents(ctx)

	// publish before any client exists
	ch.PublishBye("early-call")

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "BYE:early-call", string(data))
}
