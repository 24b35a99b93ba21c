// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package visca

import (
	"fmt"
)

// FormatPacket formats a request or response packet into a human-readable line
func FormatPacket(p Packet) string {
	if p.IsZero() {
		return "(empty)"
	}
	first, _ := p.Byte(0)
	if first&0xF0 == AddressReply {
		return fmt.Sprintf("%s %s", p, formatReply(p))
	}
	return fmt.Sprintf("%s %s", p, FormatCommand(p))
}

func formatReply(p Packet) string {
	switch p.Kind() {
	case ReplyAck:
		return "ACK"
	case ReplyCompleted:
		if p.Len() > 2 {
			return fmt.Sprintf("COMPLETED data=%d bytes", p.Len()-2)
		}
		return "COMPLETED"
	case ReplyError:
		code, _ := p.Byte(2)
		return "ERROR " + FormatErrorCode(ErrorCode(code))
	default:
		return "UNKNOWN_REPLY"
	}
}

// FormatCommand returns the name of the command or inquiry a request packet encodes
func FormatCommand(p Packet) string {
	b := p.Bytes()
	if len(b) < 3 {
		return "UNKNOWN"
	}
	key := [3]byte{b[1], b[2], 0}
	if len(b) > 3 {
		key[2] = b[3]
	}

	switch key {
	case [3]byte{CategoryCommand, GroupCamera, 0x00}:
		if len(b) > 4 && b[4] == byte(PowerOff) {
			return "POWER_OFF"
		}
		return "POWER_ON"
	case [3]byte{CategoryCommand, GroupCamera, 0x07}:
		return "ZOOM_DRIVE"
	case [3]byte{CategoryCommand, GroupCamera, 0x47}:
		return "ZOOM_DIRECT"
	case [3]byte{CategoryCommand, GroupPanTilt, 0x01}:
		return "PAN_TILT_DRIVE"
	case [3]byte{CategoryCommand, GroupPanTilt, 0x02}:
		return "PAN_TILT_ABSOLUTE"
	case [3]byte{CategoryCommand, GroupPanTilt, 0x03}:
		return "PAN_TILT_RELATIVE"
	case [3]byte{CategoryCommand, GroupPanTilt, 0x04}:
		return "PAN_TILT_HOME"
	case [3]byte{CategoryCommand, GroupPanTilt, 0x05}:
		return "PAN_TILT_RESET"
	case [3]byte{CategoryInquiry, GroupCamera, 0x00}:
		return "POWER_INQUIRY"
	case [3]byte{CategoryInquiry, GroupCamera, 0x47}:
		return "ZOOM_POSITION_INQUIRY"
	case [3]byte{CategoryInquiry, GroupPanTilt, 0x12}:
		return "PAN_TILT_POSITION_INQUIRY"
	}
	return "UNKNOWN"
}

// FormatReplyKind returns the name of a reply kind
func FormatReplyKind(k ReplyKind) string {
	switch k {
	case ReplyAck:
		return "ACK"
	case ReplyCompleted:
		return "COMPLETED"
	case ReplyError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%X)", byte(k))
	}
}

// FormatErrorCode returns the name of a device error code
func FormatErrorCode(c ErrorCode) string {
	switch c {
	case ErrorMessageLength:
		return "MESSAGE_LENGTH"
	case ErrorSyntax:
		return "SYNTAX"
	case ErrorBufferFull:
		return "COMMAND_BUFFER_FULL"
	case ErrorCanceled:
		return "COMMAND_CANCELED"
	case ErrorNoSocket:
		return "NO_SOCKET"
	case ErrorNotExecutable:
		return "NOT_EXECUTABLE"
	default:
		return fmt.Sprintf("0x%02X", byte(c))
	}
}

// FormatPowerState returns the name of a power state
func FormatPowerState(s PowerState) string {
	switch s {
	case PowerOn:
		return "ON"
	case PowerOff:
		return "STANDBY"
	case PowerError:
		return "ERROR"
	default:
		return fmt.Sprintf("0x%02X", byte(s))
	}
}
