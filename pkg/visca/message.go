// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package visca

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Message is a payload together with its framing.
//
// Encapsulated messages (VISCA over IP) carry an 8-byte header:
//
//	Offset | Size | Type | Name
//	     0 |    2 | u16  | message type
//	     2 |    2 | u16  | payload length (header excluded)
//	     4 |    4 | u32  | sequence number
//
// Raw messages are the bare payload, which ends with 0xFF.
type Message struct {
	Format   Format
	Type     MessageType
	Sequence uint32
	Payload  Payload
}

// NewRawMessage frames p without a header
func NewRawMessage(p Packet) (Message, error) {
	payload, err := p.Payload()
	if err != nil {
		return Message{}, err
	}
	return Message{Format: FormatRaw, Payload: payload}, nil
}

// NewEncapsulatedMessage frames p behind a VISCA over IP header
func NewEncapsulatedMessage(t MessageType, seq uint32, p Packet) (Message, error) {
	payload, err := p.Payload()
	if err != nil {
		return Message{}, err
	}
	return Message{Format: FormatEncapsulated, Type: t, Sequence: seq, Payload: payload}, nil
}

// MessageTypeFor returns the header type matching a request packet:
// inquiries use TypeInquiry, everything else TypeCommand.
func MessageTypeFor(p Packet) MessageType {
	if b, err := p.Byte(1); err == nil && b == CategoryInquiry {
		return TypeInquiry
	}
	return TypeCommand
}

// HasHeader reports whether the message is serialized with a header
func (m Message) HasHeader() bool {
	return m.Format == FormatEncapsulated
}

// Len returns the number of bytes the message occupies on the wire
func (m Message) Len() int {
	if m.HasHeader() {
		return m.Payload.Len() + HeaderSize
	}
	return m.Payload.Len()
}

// MarshalTo writes the message into buf and returns the number of bytes written
func (m Message) MarshalTo(buf []byte) (int, error) {
	n := m.Len()
	if len(buf) < n {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, len(buf))
	}
	off := 0
	if m.HasHeader() {
		binary.BigEndian.PutUint16(buf[0:2], uint16(m.Type))
		binary.BigEndian.PutUint16(buf[2:4], uint16(m.Payload.Len()))
		binary.BigEndian.PutUint32(buf[4:8], m.Sequence)
		off = HeaderSize
	}
	for i := 0; i < m.Payload.Len(); i++ {
		buf[off+i] = m.Payload.at(i)
	}
	return n, nil
}

// Bytes returns the wire form of the message
func (m Message) Bytes() []byte {
	buf := make([]byte, m.Len())
	m.MarshalTo(buf)
	return buf
}

// ParseMessage parses one message from the start of b.
// It returns ErrIncomplete when b does not yet hold a whole message; the
// caller should supply more bytes. The number of bytes consumed is the
// returned message's Len.
func ParseMessage(b []byte, format Format) (Message, error) {
	switch format {
	case FormatRaw:
		i := bytes.IndexByte(b, Terminator)
		if i < 0 {
			return Message{}, ErrIncomplete
		}
		payload, err := NewPayload(b[:i+1])
		if err != nil {
			return Message{}, err
		}
		return Message{Format: FormatRaw, Payload: payload}, nil

	case FormatEncapsulated:
		if len(b) < minEncapsulatedSize {
			return Message{}, ErrIncomplete
		}
		t := MessageType(binary.BigEndian.Uint16(b[0:2]))
		length := int(binary.BigEndian.Uint16(b[2:4]))
		seq := binary.BigEndian.Uint32(b[4:8])
		if len(b) < HeaderSize+length {
			return Message{}, ErrIncomplete
		}
		payload, err := NewPayload(b[HeaderSize : HeaderSize+length])
		if err != nil {
			return Message{}, err
		}
		return Message{Format: FormatEncapsulated, Type: t, Sequence: seq, Payload: payload}, nil

	default:
		return Message{}, fmt.Errorf("visca: unknown message format %d", format)
	}
}
