// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/periscope/pkg/visca"
)

// maxDatagramSize bounds a single received datagram
const maxDatagramSize = 1500

// Datagram carries one VISCA message per UDP datagram, either raw or behind
// the VISCA over IP header.
type Datagram struct {
	addr    string
	format  visca.Format
	timeout time.Duration
	logger  *slog.Logger

	// seq is scoped to this transport, not the process
	seq atomic.Uint32

	mu       sync.Mutex
	conn     net.Conn
	lastSeq  uint32
	attempts uint64
	buf      [maxDatagramSize]byte
}

// NewDatagram creates a UDP transport to host:port
func NewDatagram(addr string, format visca.Format, timeout time.Duration, logger *slog.Logger) *Datagram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Datagram{
		addr:    addr,
		format:  format,
		timeout: timeout,
		logger:  logger.With("transport", "datagram", "endpoint", addr, "framing", format.String()),
	}
}

func (d *Datagram) connectLocked(ctx context.Context) error {
	d.attempts++
	d.logger.Info("connecting", "attempt", d.attempts)

	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "udp", d.addr)
	if err != nil {
		d.logger.Warn("connect failed", "attempt", d.attempts, "err", err)
		return ioError(ctx, "connect "+d.addr, err)
	}
	d.conn = conn
	d.logger.Info("connected", "attempt", d.attempts, "local", conn.LocalAddr().String())
	return nil
}

func (d *Datagram) closeLocked() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// Send writes p as a single datagram
func (d *Datagram) Send(ctx context.Context, p visca.Packet) error {
	d.mu.Lock()
	if d.conn == nil {
		if err := d.connectLocked(ctx); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	conn := d.conn

	var msg visca.Message
	var err error
	if d.format == visca.FormatEncapsulated {
		d.lastSeq = d.seq.Add(1)
		msg, err = visca.NewEncapsulatedMessage(visca.MessageTypeFor(p), d.lastSeq, p)
	} else {
		msg, err = visca.NewRawMessage(p)
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}

	stop := closeOnCancel(ctx, conn)
	defer stop()
	if _, err := conn.Write(msg.Bytes()); err != nil {
		return ioError(ctx, "write", err)
	}
	d.logger.Debug("sent", "packet", p, "seq", msg.Sequence)
	return nil
}

// Receive reads one datagram, which must hold exactly one message
func (d *Datagram) Receive(ctx context.Context) (visca.Packet, error) {
	d.mu.Lock()
	conn, want := d.conn, d.lastSeq
	d.mu.Unlock()
	if conn == nil {
		return visca.Packet{}, visca.NewProtocolError("receive on closed socket")
	}
	stop := closeOnCancel(ctx, conn)
	defer stop()

	n, err := conn.Read(d.buf[:])
	if err != nil {
		return visca.Packet{}, ioError(ctx, "read", err)
	}
	msg, p, err := decodeFrame(d.buf[:n], d.format)
	if err != nil {
		return visca.Packet{}, err
	}
	if d.format == visca.FormatEncapsulated {
		if msg.Type != visca.TypeReply {
			return visca.Packet{}, visca.NewProtocolError("unexpected message type 0x%04X", uint16(msg.Type))
		}
		if msg.Sequence != want {
			return visca.Packet{}, visca.NewProtocolError("sequence mismatch: got %d, want %d", msg.Sequence, want)
		}
	}
	d.logger.Debug("received", "packet", p, "seq", msg.Sequence)
	return p, nil
}

// Reconnect closes the socket and opens a new one
func (d *Datagram) Reconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	return d.connectLocked(ctx)
}

// Close closes the socket
func (d *Datagram) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

// decodeFrame parses a message-oriented frame that must contain exactly
// one terminated message.
func decodeFrame(b []byte, format visca.Format) (visca.Message, visca.Packet, error) {
	msg, err := visca.ParseMessage(b, format)
	if errors.Is(err, visca.ErrIncomplete) {
		return visca.Message{}, visca.Packet{}, visca.NewProtocolError("datagram did not contain a terminated message")
	}
	if err != nil {
		return visca.Message{}, visca.Packet{}, &visca.ProtocolError{Msg: "malformed datagram", Err: err}
	}
	if msg.Len() < len(b) {
		return visca.Message{}, visca.Packet{}, visca.NewProtocolError("datagram contained more than one message")
	}
	p, err := msg.Payload.Packet()
	if err != nil {
		return visca.Message{}, visca.Packet{}, err
	}
	return msg, p, nil
}
