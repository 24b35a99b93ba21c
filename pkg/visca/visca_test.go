// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package visca

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// ============================================================
// Packet / Payload Tests
// ============================================================

func TestNewPacket_Length(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{"empty", 0, true},
		{"one byte", 1, false},
		{"typical", 5, false},
		{"maximum", 16, false},
		{"too long", 17, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytes.Repeat([]byte{0x01}, tt.length)
			p, err := NewPacket(b...)
			if tt.wantErr {
				if !errors.Is(err, ErrOutOfRange) {
					t.Errorf("NewPacket(len=%d) error = %v, want ErrOutOfRange", tt.length, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPacket(len=%d) failed: %v", tt.length, err)
			}
			if p.Len() != tt.length {
				t.Errorf("Len() = %d, want %d", p.Len(), tt.length)
			}
		})
	}
}

func TestPacket_ByteAccess(t *testing.T) {
	in := []byte{0x81, 0x01, 0x06, 0x02, 0x18, 0x17, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	p := MustPacket(in...)

	for i, want := range in {
		got, err := p.Byte(i)
		if err != nil {
			t.Fatalf("Byte(%d) failed: %v", i, err)
		}
		if got != want {
			t.Errorf("Byte(%d) = 0x%02X, want 0x%02X", i, got, want)
		}
	}

	if _, err := p.Byte(p.Len()); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Byte(Len()) error = %v, want ErrOutOfRange", err)
	}
	if _, err := p.Byte(-1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Byte(-1) error = %v, want ErrOutOfRange", err)
	}
	if !bytes.Equal(p.Bytes(), in) {
		t.Errorf("Bytes() = %x, want %x", p.Bytes(), in)
	}
}

func TestPacket_Int16(t *testing.T) {
	p := MustPacket(0x90, 0x50, 0x0F, 0x0F, 0x0F, 0x0E, 0x00, 0x01, 0x02, 0x03)

	v, err := p.Int16(2)
	if err != nil {
		t.Fatalf("Int16(2) failed: %v", err)
	}
	if v != -2 {
		t.Errorf("Int16(2) = %d, want -2", v)
	}

	v, err = p.Int16(6)
	if err != nil {
		t.Fatalf("Int16(6) failed: %v", err)
	}
	if v != 0x0123 {
		t.Errorf("Int16(6) = 0x%04X, want 0x0123", v)
	}

	if _, err := p.Int16(7); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Int16(7) error = %v, want ErrOutOfRange (needs 4 bytes of room)", err)
	}
}

func TestAppendInt16(t *testing.T) {
	tests := []struct {
		v    int16
		want []byte
	}{
		{0, []byte{0, 0, 0, 0}},
		{0x1234, []byte{1, 2, 3, 4}},
		{-1, []byte{0xF, 0xF, 0xF, 0xF}},
		{2448, []byte{0x0, 0x9, 0x9, 0x0}},
		{-2448, []byte{0xF, 0x6, 0x7, 0x0}},
		{16384, []byte{0x4, 0x0, 0x0, 0x0}},
	}

	for _, tt := range tests {
		got := AppendInt16(nil, tt.v)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("AppendInt16(%d) = %x, want %x", tt.v, got, tt.want)
		}
	}
}

func TestPayload_WithInt16Set_AllValues(t *testing.T) {
	base, err := NewPayload([]byte{0x90, 0x50, 0, 0, 0, 0, 0xFF})
	if err != nil {
		t.Fatalf("NewPayload failed: %v", err)
	}

	for v := -32768; v <= 32767; v++ {
		p, err := base.WithInt16Set(2, int16(v))
		if err != nil {
			t.Fatalf("WithInt16Set(%d) failed: %v", v, err)
		}
		got, err := p.Int16(2)
		if err != nil {
			t.Fatalf("Int16 failed: %v", err)
		}
		if got != int16(v) {
			t.Fatalf("round trip of %d gave %d", v, got)
		}
	}

	// The original is untouched
	if got, _ := base.Int16(2); got != 0 {
		t.Errorf("base payload mutated: Int16(2) = %d", got)
	}
}

func TestPayload_WithByteSet(t *testing.T) {
	base, _ := NewPayload([]byte{0x81, 0x01, 0xFF})
	p, err := base.WithByteSet(1, 0x09)
	if err != nil {
		t.Fatalf("WithByteSet failed: %v", err)
	}
	if b, _ := p.Byte(1); b != 0x09 {
		t.Errorf("Byte(1) = 0x%02X, want 0x09", b)
	}
	if b, _ := base.Byte(1); b != 0x01 {
		t.Errorf("base Byte(1) = 0x%02X, want 0x01", b)
	}
	if _, err := base.WithByteSet(3, 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("WithByteSet(3) error = %v, want ErrOutOfRange", err)
	}
	if _, err := base.WithInt16Set(0, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("WithInt16Set(0) on 3 bytes error = %v, want ErrOutOfRange", err)
	}
}

func TestPacket_String(t *testing.T) {
	p := MustPacket(0x81, 0x09, 0x04, 0x00)
	if got := p.String(); got != "81-09-04-00" {
		t.Errorf("String() = %q, want %q", got, "81-09-04-00")
	}
}

func TestPacket_PayloadRoundTrip(t *testing.T) {
	p := MustPacket(0x81, 0x01, 0x06, 0x04)
	payload, err := p.Payload()
	if err != nil {
		t.Fatalf("Payload() failed: %v", err)
	}
	if !payload.Terminated() {
		t.Error("Payload() is not terminated")
	}
	if payload.Len() != 5 {
		t.Errorf("payload Len() = %d, want 5", payload.Len())
	}
	back, err := payload.Packet()
	if err != nil {
		t.Fatalf("Packet() failed: %v", err)
	}
	if back != p {
		t.Errorf("Packet() = %s, want %s", back, p)
	}

	unterminated, _ := NewPayload([]byte{0x90, 0x50})
	if _, err := unterminated.Packet(); !IsProtocolError(err) {
		t.Errorf("Packet() of unterminated payload error = %v, want ProtocolError", err)
	}
}

func TestPacket_Kind(t *testing.T) {
	tests := []struct {
		packet Packet
		want   ReplyKind
	}{
		{MustPacket(0x90, 0x41), ReplyAck},
		{MustPacket(0x90, 0x51), ReplyCompleted},
		{MustPacket(0x90, 0x50, 0x02), ReplyCompleted},
		{MustPacket(0x90, 0x60, 0x02), ReplyError},
		{MustPacket(0x90), 0},
	}
	for _, tt := range tests {
		if got := tt.packet.Kind(); got != tt.want {
			t.Errorf("%s Kind() = %d, want %d", tt.packet, got, tt.want)
		}
	}
}

// ============================================================
// Message Framing Tests
// ============================================================

func TestParseMessage_Raw(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantLen int
		wantErr error
	}{
		{"no terminator", []byte{0x90, 0x41}, 0, ErrIncomplete},
		{"empty", nil, 0, ErrIncomplete},
		{"single message", []byte{0x90, 0x41, 0xFF}, 3, nil},
		{"trailing bytes", []byte{0x90, 0x41, 0xFF, 0x90, 0x51, 0xFF}, 3, nil},
		{"too long", append(bytes.Repeat([]byte{0x01}, 16), 0xFF), 0, ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMessage(tt.data, FormatRaw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseMessage() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMessage() failed: %v", err)
			}
			if m.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", m.Len(), tt.wantLen)
			}
			if m.HasHeader() {
				t.Error("raw message reports a header")
			}
		})
	}
}

func TestParseMessage_Encapsulated(t *testing.T) {
	full := []byte{0x01, 0x11, 0x00, 0x03, 0x00, 0x00, 0x00, 0x2A, 0x90, 0x51, 0xFF}

	m, err := ParseMessage(full, FormatEncapsulated)
	if err != nil {
		t.Fatalf("ParseMessage() failed: %v", err)
	}
	if m.Type != TypeReply {
		t.Errorf("Type = 0x%04X, want 0x%04X", m.Type, TypeReply)
	}
	if m.Sequence != 42 {
		t.Errorf("Sequence = %d, want 42", m.Sequence)
	}
	if m.Len() != 11 {
		t.Errorf("Len() = %d, want 11", m.Len())
	}
	if m.Payload.String() != "90-51-ff" {
		t.Errorf("Payload = %s, want 90-51-ff", m.Payload)
	}

	for n := 0; n < len(full); n++ {
		if _, err := ParseMessage(full[:n], FormatEncapsulated); !errors.Is(err, ErrIncomplete) {
			t.Errorf("ParseMessage(%d bytes) error = %v, want ErrIncomplete", n, err)
		}
	}

	// Nine bytes holding a complete one-byte payload are still too short
	nine := []byte{0x01, 0x11, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0xFF}
	if _, err := ParseMessage(nine, FormatEncapsulated); !errors.Is(err, ErrIncomplete) {
		t.Errorf("ParseMessage(9 bytes) error = %v, want ErrIncomplete", err)
	}
}

func TestMessage_MarshalTo(t *testing.T) {
	req := MustPacket(0x81, 0x09, 0x04, 0x00)

	m, err := NewEncapsulatedMessage(MessageTypeFor(req), 7, req)
	if err != nil {
		t.Fatalf("NewEncapsulatedMessage failed: %v", err)
	}
	want := []byte{0x01, 0x10, 0x00, 0x05, 0x00, 0x00, 0x00, 0x07, 0x81, 0x09, 0x04, 0x00, 0xFF}
	if got := m.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("Bytes() = %x, want %x", got, want)
	}

	if _, err := m.MarshalTo(make([]byte, len(want)-1)); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("MarshalTo(short) error = %v, want ErrShortBuffer", err)
	}

	raw, _ := NewRawMessage(req)
	if got := raw.Bytes(); !bytes.Equal(got, want[HeaderSize:]) {
		t.Errorf("raw Bytes() = %x, want %x", got, want[HeaderSize:])
	}

	back, err := ParseMessage(want, FormatEncapsulated)
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if back != m {
		t.Errorf("ParseMessage() = %+v, want %+v", back, m)
	}
}

func TestMessageTypeFor(t *testing.T) {
	if got := MessageTypeFor(MustPacket(0x81, 0x09, 0x06, 0x12)); got != TypeInquiry {
		t.Errorf("MessageTypeFor(inquiry) = 0x%04X, want 0x%04X", got, TypeInquiry)
	}
	if got := MessageTypeFor(MustPacket(0x81, 0x01, 0x06, 0x04)); got != TypeCommand {
		t.Errorf("MessageTypeFor(command) = 0x%04X, want 0x%04X", got, TypeCommand)
	}
}

// ============================================================
// Decoder Tests
// ============================================================

// chunkReader hands out its data a few bytes per Read call
type chunkReader struct {
	data  []byte
	chunk int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.chunk
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func TestDecoder_Fragmented(t *testing.T) {
	stream := []byte{0x90, 0x41, 0xFF, 0x90, 0x51, 0xFF, 0x90, 0x50, 0x02, 0xFF}
	want := []string{"90-41", "90-51", "90-50-02"}

	for chunk := 1; chunk <= len(stream); chunk++ {
		d := NewDecoder(&chunkReader{data: stream, chunk: chunk})
		for i, w := range want {
			p, err := d.Next()
			if err != nil {
				t.Fatalf("chunk=%d: Next() #%d failed: %v", chunk, i, err)
			}
			if p.String() != w {
				t.Errorf("chunk=%d: Next() #%d = %s, want %s", chunk, i, p, w)
			}
		}
		if _, err := d.Next(); !IsProtocolError(err) {
			t.Errorf("chunk=%d: Next() at EOF error = %v, want ProtocolError", chunk, err)
		}
	}
}

func TestDecoder_KeepsLeftover(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x90, 0x41, 0xFF, 0x90, 0x51}))
	if _, err := d.Next(); err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if d.Buffered() != 2 {
		t.Errorf("Buffered() = %d, want 2", d.Buffered())
	}
	d.Reset()
	if d.Buffered() != 0 {
		t.Errorf("Buffered() after Reset = %d, want 0", d.Buffered())
	}
}

func TestDecoder_BufferFull(t *testing.T) {
	d := NewDecoder(bytes.NewReader(bytes.Repeat([]byte{0x01}, DecoderSize+10)))
	_, err := d.Next()
	if !IsProtocolError(err) || !strings.Contains(err.Error(), "buffer full") {
		t.Errorf("Next() error = %v, want buffer full ProtocolError", err)
	}
}

func TestDecoder_BareTerminator(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0xFF, 0x90, 0x51, 0xFF}))
	if _, err := d.Next(); !IsProtocolError(err) {
		t.Errorf("Next() on bare terminator error = %v, want ProtocolError", err)
	}
	p, err := d.Next()
	if err != nil {
		t.Fatalf("Next() after bare terminator failed: %v", err)
	}
	if p.String() != "90-51" {
		t.Errorf("Next() = %s, want 90-51", p)
	}
}

// ============================================================
// Validator / Formatter / Statistics Tests
// ============================================================

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		want   []AnomalyType
	}{
		{"power inquiry", MustPacket(0x81, 0x09, 0x04, 0x00), nil},
		{"home", MustPacket(0x81, 0x01, 0x06, 0x04), nil},
		{"bad address", MustPacket(0x82, 0x09, 0x04, 0x00), []AnomalyType{AnomalyAddress}},
		{"short", MustPacket(0x81, 0x09, 0x04), []AnomalyType{AnomalyLength}},
		{"bad category", MustPacket(0x81, 0x02, 0x04, 0x00), []AnomalyType{AnomalyCategory}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateRequest(tt.packet)
			if len(errs) != len(tt.want) {
				t.Fatalf("ValidateRequest() = %v, want %d errors", errs, len(tt.want))
			}
			for i, e := range errs {
				if e.Type != tt.want[i] {
					t.Errorf("error[%d].Type = %d, want %d", i, e.Type, tt.want[i])
				}
			}
		})
	}
}

func TestFormatPacket(t *testing.T) {
	tests := []struct {
		packet Packet
		want   string
	}{
		{MustPacket(0x81, 0x01, 0x04, 0x00, 0x02), "81-01-04-00-02 POWER_ON"},
		{MustPacket(0x81, 0x01, 0x04, 0x00, 0x03), "81-01-04-00-03 POWER_OFF"},
		{MustPacket(0x81, 0x09, 0x06, 0x12), "81-09-06-12 PAN_TILT_POSITION_INQUIRY"},
		{MustPacket(0x90, 0x41), "90-41 ACK"},
		{MustPacket(0x90, 0x60, 0x02), "90-60-02 ERROR SYNTAX"},
		{MustPacket(0x90, 0x50, 0x02), "90-50-02 COMPLETED data=1 bytes"},
	}
	for _, tt := range tests {
		if got := FormatPacket(tt.packet); got != tt.want {
			t.Errorf("FormatPacket() = %q, want %q", got, tt.want)
		}
	}
}

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	s.Update(nil)
	s.Update(&ResponseError{Response: MustPacket(0x90, 0x60, 0x02)})
	s.Update(NewProtocolError("short response"))

	if s.TotalExchanges != 3 || s.Completed != 1 || s.DeviceErrors != 1 || s.ProtocolErrors != 1 {
		t.Errorf("unexpected counters: %+v", s)
	}
	if s.Errors() != 2 {
		t.Errorf("Errors() = %d, want 2", s.Errors())
	}
	if !strings.Contains(s.String(), "Total Exchanges:        3") {
		t.Errorf("String() missing total line:\n%s", s.String())
	}
	s.Reset()
	if s.TotalExchanges != 0 {
		t.Errorf("TotalExchanges after Reset = %d, want 0", s.TotalExchanges)
	}
}

func TestResponseError_Code(t *testing.T) {
	err := &ResponseError{Response: MustPacket(0x90, 0x61, 0x41)}
	if err.Code() != ErrorNotExecutable {
		t.Errorf("Code() = 0x%02X, want 0x%02X", err.Code(), ErrorNotExecutable)
	}
	if !strings.Contains(err.Error(), "NOT_EXECUTABLE") {
		t.Errorf("Error() = %q, want NOT_EXECUTABLE", err.Error())
	}
}
