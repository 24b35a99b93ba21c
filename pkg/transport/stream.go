// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/Thermoquad/periscope/pkg/visca"
)

// Dialer opens the byte stream under a Stream transport
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Stream carries raw VISCA framing over a byte stream. Responses are split
// by a visca.Decoder, so partial and coalesced reads are tolerated.
type Stream struct {
	name   string
	dial   Dialer
	logger *slog.Logger

	mu       sync.Mutex
	conn     io.ReadWriteCloser
	decoder  *visca.Decoder
	attempts uint64
}

// NewStream creates a stream transport over connections made by dial
func NewStream(name string, dial Dialer, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		name:   name,
		dial:   dial,
		logger: logger.With("transport", "stream", "endpoint", name),
	}
}

// NewTCP creates a stream transport to a TCP host:port
func NewTCP(addr string, timeout time.Duration, logger *slog.Logger) *Stream {
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	return NewStream(addr, dial, logger)
}

// NewSerial creates a stream transport over an RS-232 port (8N1)
func NewSerial(portName string, baudRate int, logger *slog.Logger) *Stream {
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		mode := &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
		}
		return port, nil
	}
	return NewStream(portName, dial, logger)
}

// current returns the live connection, dialing when there is none
func (s *Stream) current(ctx context.Context) (io.ReadWriteCloser, *visca.Decoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, s.decoder, nil
	}
	if err := s.connectLocked(ctx); err != nil {
		return nil, nil, err
	}
	return s.conn, s.decoder, nil
}

func (s *Stream) connectLocked(ctx context.Context) error {
	s.attempts++
	s.logger.Info("connecting", "attempt", s.attempts)

	conn, err := s.dial(ctx)
	if err != nil {
		s.logger.Warn("connect failed", "attempt", s.attempts, "err", err)
		return ioError(ctx, "connect "+s.name, err)
	}
	s.conn = conn
	s.decoder = visca.NewDecoder(conn)
	s.logger.Info("connected", "attempt", s.attempts)
	return nil
}

func (s *Stream) closeLocked() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.decoder = nil
	return err
}

// Send writes p followed by its terminator
func (s *Stream) Send(ctx context.Context, p visca.Packet) error {
	conn, _, err := s.current(ctx)
	if err != nil {
		return err
	}
	stop := closeOnCancel(ctx, conn)
	defer stop()

	if _, err := conn.Write(p.AppendWire(nil)); err != nil {
		return ioError(ctx, "write", err)
	}
	s.logger.Debug("sent", "packet", p)
	return nil
}

// Receive reads the next terminated packet
func (s *Stream) Receive(ctx context.Context) (visca.Packet, error) {
	s.mu.Lock()
	conn, decoder := s.conn, s.decoder
	s.mu.Unlock()
	if conn == nil {
		return visca.Packet{}, visca.NewProtocolError("receive on closed stream")
	}
	stop := closeOnCancel(ctx, conn)
	defer stop()

	p, err := decoder.Next()
	if err != nil {
		return visca.Packet{}, ioError(ctx, "read", err)
	}
	s.logger.Debug("received", "packet", p)
	return p, nil
}

// Reconnect closes the stream and dials a new one
func (s *Stream) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return s.connectLocked(ctx)
}

// Close closes the stream
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}
