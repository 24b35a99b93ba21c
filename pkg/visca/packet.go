// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package visca

import (
	"fmt"
	"strings"
)

// block is the shared fixed-capacity storage of Packet and Payload: up to 16
// bytes packed little-end-first into two 64-bit words.
type block struct {
	words  [2]uint64
	length uint8
}

func newBlock(b []byte) (block, error) {
	if len(b) < 1 || len(b) > MaxPacketSize {
		return block{}, fmt.Errorf("%w: length %d not in [1,%d]", ErrOutOfRange, len(b), MaxPacketSize)
	}
	var blk block
	for i, v := range b {
		blk.put(i, v)
	}
	blk.length = uint8(len(b))
	return blk, nil
}

func (b *block) put(i int, v byte) {
	shift := uint(i%8) * 8
	b.words[i/8] = b.words[i/8]&^(0xFF<<shift) | uint64(v)<<shift
}

func (b block) at(i int) byte {
	return byte(b.words[i/8] >> (uint(i%8) * 8))
}

// Len returns the number of bytes held
func (b block) Len() int {
	return int(b.length)
}

// Byte returns the byte at index i
func (b block) Byte(i int) (byte, error) {
	if i < 0 || i >= int(b.length) {
		return 0, fmt.Errorf("%w: byte %d of %d", ErrOutOfRange, i, b.length)
	}
	return b.at(i), nil
}

// Int16 decodes the nibble-encoded 16-bit value stored in bytes i..i+3
func (b block) Int16(i int) (int16, error) {
	if i < 0 || i+4 > int(b.length) {
		return 0, fmt.Errorf("%w: int16 at %d of %d", ErrOutOfRange, i, b.length)
	}
	var v uint16
	for k := 0; k < 4; k++ {
		v = v<<4 | uint16(b.at(i+k)&0x0F)
	}
	return int16(v), nil
}

func (b block) withByte(i int, v byte) (block, error) {
	if i < 0 || i >= int(b.length) {
		return b, fmt.Errorf("%w: byte %d of %d", ErrOutOfRange, i, b.length)
	}
	b.put(i, v)
	return b, nil
}

func (b block) withInt16(i int, v int16) (block, error) {
	if i < 0 || i+4 > int(b.length) {
		return b, fmt.Errorf("%w: int16 at %d of %d", ErrOutOfRange, i, b.length)
	}
	for k, n := range AppendInt16(nil, v) {
		b.put(i+k, n)
	}
	return b, nil
}

// Bytes returns a copy of the held bytes
func (b block) Bytes() []byte {
	out := make([]byte, b.length)
	for i := range out {
		out[i] = b.at(i)
	}
	return out
}

// String renders the bytes as lowercase hex separated by '-'
func (b block) String() string {
	var sb strings.Builder
	for i := 0; i < int(b.length); i++ {
		if i > 0 {
			sb.WriteByte('-')
		}
		fmt.Fprintf(&sb, "%02x", b.at(i))
	}
	return sb.String()
}

// AppendInt16 appends v as four nibble-bytes, most significant nibble first.
func AppendInt16(dst []byte, v int16) []byte {
	u := uint16(v)
	return append(dst, byte(u>>12&0xF), byte(u>>8&0xF), byte(u>>4&0xF), byte(u&0xF))
}

// Packet is one VISCA protocol unit without its 0xFF terminator.
// The terminator is implied and is not counted by Len.
type Packet struct {
	block
}

// NewPacket creates a packet from 1 to 16 bytes
func NewPacket(b ...byte) (Packet, error) {
	blk, err := newBlock(b)
	if err != nil {
		return Packet{}, err
	}
	return Packet{blk}, nil
}

// MustPacket is like NewPacket but panics on invalid input.
// Intended for fixed command tables.
func MustPacket(b ...byte) Packet {
	p, err := NewPacket(b...)
	if err != nil {
		panic(fmt.Sprintf("visca: %v", err))
	}
	return p
}

// IsZero reports whether p is the zero value (no bytes)
func (p Packet) IsZero() bool {
	return p.length == 0
}

// Kind returns the reply kind of a response packet, or 0 when p is shorter
// than two bytes.
func (p Packet) Kind() ReplyKind {
	if p.length < 2 {
		return 0
	}
	return ReplyKind(p.at(1) >> 4)
}

// AppendWire appends the packet bytes followed by the terminator
func (p Packet) AppendWire(dst []byte) []byte {
	for i := 0; i < int(p.length); i++ {
		dst = append(dst, p.at(i))
	}
	return append(dst, Terminator)
}

// Payload returns the terminated wire form of p as a Payload
func (p Packet) Payload() (Payload, error) {
	return NewPayload(p.AppendWire(make([]byte, 0, MaxPacketSize+1)))
}

// Payload is the content of a packet or encapsulated message, independent of
// framing. Payloads taken from the wire keep their 0xFF terminator.
type Payload struct {
	block
}

// NewPayload creates a payload from 1 to 16 bytes
func NewPayload(b []byte) (Payload, error) {
	blk, err := newBlock(b)
	if err != nil {
		return Payload{}, err
	}
	return Payload{blk}, nil
}

// WithByteSet returns a copy of p with byte i set to v
func (p Payload) WithByteSet(i int, v byte) (Payload, error) {
	blk, err := p.withByte(i, v)
	if err != nil {
		return p, err
	}
	return Payload{blk}, nil
}

// WithInt16Set returns a copy of p with v nibble-encoded into bytes i..i+3
func (p Payload) WithInt16Set(i int, v int16) (Payload, error) {
	blk, err := p.withInt16(i, v)
	if err != nil {
		return p, err
	}
	return Payload{blk}, nil
}

// Terminated reports whether the last byte is the 0xFF terminator
func (p Payload) Terminated() bool {
	return p.length > 0 && p.at(int(p.length)-1) == Terminator
}

// Packet strips the terminator and returns the packet it frames
func (p Payload) Packet() (Packet, error) {
	if !p.Terminated() {
		return Packet{}, NewProtocolError("payload %s is not terminated", p)
	}
	if p.length == 1 {
		return Packet{}, NewProtocolError("empty packet")
	}
	b := p.block
	b.length--
	b.put(int(b.length), 0)
	return Packet{b}, nil
}
