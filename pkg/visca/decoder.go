// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package visca

import (
	"bytes"
	"errors"
	"io"
)

// Decoder splits a continuous byte stream into terminated packets.
// Bytes that arrive after a terminator are kept for the next call, so
// fragmented and coalesced deliveries are both handled.
type Decoder struct {
	r      io.Reader
	buffer [DecoderSize]byte
	n      int
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Reset drops any buffered bytes
func (d *Decoder) Reset() {
	d.n = 0
}

// Buffered returns the number of bytes read but not yet consumed
func (d *Decoder) Buffered() int {
	return d.n
}

// Next returns the next packet from the stream, reading as needed.
func (d *Decoder) Next() (Packet, error) {
	for {
		if i := bytes.IndexByte(d.buffer[:d.n], Terminator); i >= 0 {
			p, err := NewPacket(d.buffer[:i]...)
			// Consume through the terminator even when the packet is bad
			d.n = copy(d.buffer[:], d.buffer[i+1:d.n])
			if err != nil {
				return Packet{}, &ProtocolError{Msg: "invalid packet length", Err: err}
			}
			return p, nil
		}

		if d.n == len(d.buffer) {
			d.n = 0
			return Packet{}, NewProtocolError("read buffer full without terminator")
		}

		n, err := d.r.Read(d.buffer[d.n:])
		d.n += n
		if n > 0 {
			continue
		}
		if err == nil || errors.Is(err, io.EOF) {
			return Packet{}, NewProtocolError("stream closed")
		}
		return Packet{}, &ProtocolError{Msg: "read failed", Err: err}
	}
}
