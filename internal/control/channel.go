// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_control

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dht-solution/callbridge/config"
	"github.com/dht-solution/callbridge/pkg/commons"
)

const writeTimeout = 5 * time.Second

// CommandHandler receives parsed client commands. The signaling engine
// implements it; the channel never imports the engine.
type CommandHandler interface {
	HandleCall(phoneNumber string)
	HandleInjectAudio(callID string, payload []byte)
	HandleHangup(callID string)
	HandleAnswer(callID string)
	HandleIgnore(callID string)
}

// Channel is the WebSocket control endpoint. One client is served at a time;
// a new connection replaces the previous one. Outbound events are buffered
// in a bounded queue that drops its oldest entry when full, so a slow or
// absent client never blocks call handling.
type Channel struct {
	cfg     config.WebSocketConfig
	handler CommandHandler
	logger  commons.Logger

	upgrader websocket.Upgrader

	queueMu sync.Mutex
	events  chan string
	dropped atomic.Uint64

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewChannel builds the channel. The handler must be set before Run.
func NewChannel(cfg config.WebSocketConfig, handler CommandHandler, logger commons.Logger) *Channel {
	return &Channel{
		cfg:     cfg,
		handler: handler,
		logger:  logger.Named("control"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		events: make(chan string, cfg.EventQueueSize),
	}
}

// Run binds the listener and serves until the context is cancelled. A bind
// failure is returned immediately; the process cannot run without its
// control channel.
func (c *Channel) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.handleUpgrade)

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding control channel %s: %w", addr, err)
	}
	c.logger.Info("control channel listening", "addr", addr)

	srv := &http.Server{Handler: mux}

	go c.pumpEvents(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (c *Channel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.connMu.Unlock()

	c.logger.Info("control client connected", "remote", r.RemoteAddr)
	go c.readLoop(conn)
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer func() {
		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Info("control client disconnected", "error", err)
			return
		}
		c.dispatch(string(data))
	}
}

// dispatch parses and routes one command. Malformed commands are logged and
// dropped; they never affect live calls.
func (c *Channel) dispatch(raw string) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		c.logger.Warn("ignoring malformed command", "error", err)
		return
	}

	switch cmd.Tag {
	case TagCall:
		c.handler.HandleCall(cmd.Fields[0])
	case TagRTP:
		if len(cmd.Fields) < 2 {
			c.logger.Warn("RTP command missing audio field")
			return
		}
		payload, err := base64.StdEncoding.DecodeString(cmd.Fields[1])
		if err != nil {
			c.logger.Warn("RTP command with invalid base64", "call_id", cmd.Fields[0], "error", err)
			return
		}
		c.handler.HandleInjectAudio(cmd.Fields[0], payload)
	case TagBye, TagHangup:
		c.handler.HandleHangup(cmd.Fields[0])
	case TagCallAns:
		c.handler.HandleAnswer(cmd.Fields[0])
	case TagCallIgnore:
		c.handler.HandleIgnore(cmd.Fields[0])
	}
}

// enqueue adds an event, evicting the oldest one when the queue is full.
func (c *Channel) enqueue(event string) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	for {
		select {
		case c.events <- event:
			return
		default:
		}
		select {
		case <-c.events:
			c.dropped.Add(1)
		default:
		}
	}
}

// DroppedEvents returns how many events were evicted from the full queue.
func (c *Channel) DroppedEvents() uint64 {
	return c.dropped.Load()
}

// pumpEvents delivers queued events to the current client. While no client
// is connected the queue is left alone so events survive for the reconnect,
// subject to the drop-oldest bound.
func (c *Channel) pumpEvents(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn := c.currentConn()
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case event := <-c.events:
			c.write(conn, event)
		}
	}
}

func (c *Channel) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Channel) write(conn *websocket.Conn, event string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
		c.logger.Warn("writing control event", "error", err)
	}
}

// PublishRingAns announces an inbound ring held for the controller.
func (c *Channel) PublishRingAns(phoneNumber, callID string) {
	c.enqueue(BuildEvent(TagRingAns, phoneNumber, callID))
}

// PublishCallAns announces that a call went active.
func (c *Channel) PublishCallAns(callID string) {
	c.enqueue(BuildEvent(TagCallAns, callID))
}

// PublishCallFailed announces a failed call setup.
func (c *Channel) PublishCallFailed(statusCode int, reason string) {
	c.enqueue(BuildEvent(TagCallFailed, fmt.Sprintf("%d %s", statusCode, reason)))
}

// PublishBye announces call termination.
func (c *Channel) PublishBye(callID string) {
	c.enqueue(BuildEvent(TagBye, callID))
}

// PublishRTP mirrors one inbound audio frame to the client.
func (c *Channel) PublishRTP(callID string, payload []byte) {
	c.enqueue(BuildEvent(TagRTP, callID, base64.StdEncoding.EncodeToString(payload)))
}
