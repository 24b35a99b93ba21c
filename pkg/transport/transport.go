// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport carries VISCA packets over stream (TCP, serial) and
// message (UDP, WebSocket) links.
//
// Transports connect lazily on the first Send and are not safe for concurrent
// exchanges; callers serialize Send/Receive pairs (see camera.Client). Close
// and a context cancellation may come from another goroutine and both abort
// a blocked read by closing the underlying connection.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Thermoquad/periscope/pkg/visca"
)

// Transport moves whole VISCA packets to and from a device
type Transport interface {
	// Send writes one request, connecting first if needed.
	Send(ctx context.Context, p visca.Packet) error
	// Receive blocks until one response packet arrives.
	Receive(ctx context.Context) (visca.Packet, error)
	// Reconnect drops the current connection and opens a fresh one.
	Reconnect(ctx context.Context) error
	// Close drops the current connection. A later Send reconnects.
	Close() error
}

// Networks accepted by Config
const (
	NetworkTCP       = "tcp"
	NetworkUDP       = "udp"
	NetworkSerial    = "serial"
	NetworkWebSocket = "ws"
)

// Default endpoints
const (
	DefaultTCPPort     = 5678
	DefaultUDPPort     = 52381 // VISCA over IP
	DefaultBaudRate    = 9600
	DefaultDialTimeout = 5 * time.Second
)

// Config selects and parameterizes a transport
type Config struct {
	Network     string
	Address     string // host:port, serial device, or ws:// URL
	Format      visca.Format
	BaudRate    int
	DialTimeout time.Duration
}

// Validate checks that the configuration names a usable transport
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("transport: no address for %q", c.Network)
	}
	switch c.Network {
	case NetworkTCP, NetworkSerial:
		if c.Format != visca.FormatRaw {
			return fmt.Errorf("transport: %s links only carry raw framing", c.Network)
		}
	case NetworkUDP, NetworkWebSocket:
	default:
		return fmt.Errorf("transport: unsupported network %q", c.Network)
	}
	return nil
}

// String describes the endpoint for status lines
func (c Config) String() string {
	switch c.Network {
	case NetworkSerial:
		return fmt.Sprintf("Serial: %s @ %d baud", c.Address, c.baudRate())
	case NetworkUDP:
		return fmt.Sprintf("UDP: %s (%s)", c.Address, c.Format)
	case NetworkWebSocket:
		return fmt.Sprintf("WebSocket: %s", c.Address)
	default:
		return fmt.Sprintf("TCP: %s", c.Address)
	}
}

func (c Config) baudRate() int {
	if c.BaudRate == 0 {
		return DefaultBaudRate
	}
	return c.BaudRate
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout == 0 {
		return DefaultDialTimeout
	}
	return c.DialTimeout
}

// Open creates the transport described by cfg. No connection is made until
// the first Send.
func Open(cfg Config, logger *slog.Logger) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Network {
	case NetworkSerial:
		return NewSerial(cfg.Address, cfg.baudRate(), logger), nil
	case NetworkUDP:
		return NewDatagram(cfg.Address, cfg.Format, cfg.dialTimeout(), logger), nil
	case NetworkWebSocket:
		return NewWebSocket(cfg.Address, cfg.Format, cfg.dialTimeout(), logger), nil
	default:
		return NewTCP(cfg.Address, cfg.dialTimeout(), logger), nil
	}
}

// closeOnCancel closes c when ctx is done, forcing any blocked I/O on it to
// return. The returned func detaches the hook.
func closeOnCancel(ctx context.Context, c io.Closer) func() bool {
	return context.AfterFunc(ctx, func() {
		c.Close()
	})
}

// ioError turns an I/O failure into the error reported to callers: the
// context error when the failure was caused by cancellation, otherwise a
// protocol error.
func ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if visca.IsProtocolError(err) {
		return err
	}
	return &visca.ProtocolError{Msg: op + " failed", Err: err}
}
