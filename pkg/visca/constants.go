// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package visca implements the VISCA pan/tilt/zoom camera control wire format.
//
// VISCA packets are short (at most 16 bytes) and always end with a 0xFF
// terminator. This package provides the packet and payload value types, raw and
// encapsulated (VISCA over IP) message framing, a stream decoder that tolerates
// fragmented delivery, and helpers for classifying and formatting responses.
package visca

// Framing
const (
	Terminator = 0xFF

	MaxPacketSize = 16 // bytes held by a Packet or Payload
	HeaderSize    = 8  // encapsulated header: type, length, sequence
	DecoderSize   = 256

	// minEncapsulatedSize is the shortest buffer ParseMessage will look at
	// in encapsulated mode.
	minEncapsulatedSize = 10
)

// Address and category bytes of a request
const (
	AddressCamera1 = 0x81
	AddressReply   = 0x90

	CategoryCommand = 0x01
	CategoryInquiry = 0x09
)

// Command groups (third request byte)
const (
	GroupInterface = 0x00
	GroupCamera    = 0x04
	GroupPanTilt   = 0x06
)

// ReplyKind is the high nibble of the second response byte
type ReplyKind byte

// Reply kinds
const (
	ReplyAck       ReplyKind = 0x4
	ReplyCompleted ReplyKind = 0x5
	ReplyError     ReplyKind = 0x6
)

// ErrorCode is the third byte of a device error response
type ErrorCode byte

// Error codes reported by the device
const (
	ErrorMessageLength ErrorCode = 0x01
	ErrorSyntax        ErrorCode = 0x02
	ErrorBufferFull    ErrorCode = 0x03
	ErrorCanceled      ErrorCode = 0x04
	ErrorNoSocket      ErrorCode = 0x05
	ErrorNotExecutable ErrorCode = 0x41
)

// PowerState values returned by the power inquiry
type PowerState byte

const (
	PowerOn    PowerState = 0x02
	PowerOff   PowerState = 0x03
	PowerError PowerState = 0x04
)

// MessageType is the first field of an encapsulated (VISCA over IP) header
type MessageType uint16

// Message types
const (
	TypeCommand        MessageType = 0x0100
	TypeInquiry        MessageType = 0x0110
	TypeReply          MessageType = 0x0111
	TypeDeviceSetting  MessageType = 0x0120
	TypeControlCommand MessageType = 0x0200
	TypeControlReply   MessageType = 0x0201
)

// Format selects how a Message is framed on the wire
type Format int

const (
	FormatRaw Format = iota
	FormatEncapsulated
)

// String returns the configuration name of the format
func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatEncapsulated:
		return "encapsulated"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name as accepted by String
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "raw", "":
		return FormatRaw, true
	case "encapsulated", "ip":
		return FormatEncapsulated, true
	}
	return FormatRaw, false
}

// Hardware position limits
const (
	PanMin  = -2448
	PanMax  = 2448
	TiltMin = -432
	TiltMax = 1296
	ZoomMin = 0
	ZoomMax = 16384
)

// Drive speed limits
const (
	PanSpeedMax  = 0x18
	TiltSpeedMax = 0x17
	ZoomSpeedMax = 0x07
)
