// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/periscope/pkg/visca"
)

// WebSocket carries one VISCA message per binary frame, for cameras reached
// through a websocket gateway.
type WebSocket struct {
	url     string
	format  visca.Format
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	attempts uint64
	seq      uint32
}

// NewWebSocket creates a WebSocket transport for a ws:// or wss:// URL
func NewWebSocket(rawURL string, format visca.Format, timeout time.Duration, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		url:     rawURL,
		format:  format,
		timeout: timeout,
		logger:  logger.With("transport", "websocket", "endpoint", rawURL),
	}
}

func (w *WebSocket) connectLocked(ctx context.Context) error {
	w.attempts++
	w.logger.Info("connecting", "attempt", w.attempts)

	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: w.timeout}
	conn, resp, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		w.logger.Warn("connect failed", "attempt", w.attempts, "err", err)
		if resp != nil {
			return ioError(ctx, fmt.Sprintf("websocket handshake (HTTP %d)", resp.StatusCode), err)
		}
		return ioError(ctx, "websocket connect", err)
	}
	w.conn = conn
	w.logger.Info("connected", "attempt", w.attempts)
	return nil
}

func (w *WebSocket) closeLocked() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

// Send writes p as one binary message
func (w *WebSocket) Send(ctx context.Context, p visca.Packet) error {
	w.mu.Lock()
	if w.conn == nil {
		if err := w.connectLocked(ctx); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	conn := w.conn
	var msg visca.Message
	var err error
	if w.format == visca.FormatEncapsulated {
		w.seq++
		msg, err = visca.NewEncapsulatedMessage(visca.MessageTypeFor(p), w.seq, p)
	} else {
		msg, err = visca.NewRawMessage(p)
	}
	w.mu.Unlock()
	if err != nil {
		return err
	}

	stop := closeOnCancel(ctx, conn)
	defer stop()
	if err := conn.WriteMessage(websocket.BinaryMessage, msg.Bytes()); err != nil {
		return ioError(ctx, "write", err)
	}
	w.logger.Debug("sent", "packet", p)
	return nil
}

// Receive reads the next binary message, which must hold exactly one
// terminated VISCA message. Text frames are skipped.
func (w *WebSocket) Receive(ctx context.Context) (visca.Packet, error) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return visca.Packet{}, visca.NewProtocolError("receive on closed websocket")
	}
	stop := closeOnCancel(ctx, conn)
	defer stop()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return visca.Packet{}, ioError(ctx, "read", err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		_, p, err := decodeFrame(data, w.format)
		if err != nil {
			return visca.Packet{}, err
		}
		w.logger.Debug("received", "packet", p)
		return p, nil
	}
}

// Reconnect closes the websocket and dials a new one
func (w *WebSocket) Reconnect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
	return w.connectLocked(ctx)
}

// Close closes the websocket
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}
