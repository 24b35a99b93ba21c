// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/periscope/pkg/visca"
)

var (
	powerInquiry = visca.MustPacket(0x81, 0x09, 0x04, 0x00)
	powerReply   = visca.MustPacket(0x90, 0x50, 0x02)
	ackReply     = visca.MustPacket(0x90, 0x41)
)

// ============================================================
// Config
// ============================================================

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"tcp", Config{Network: NetworkTCP, Address: "cam:5678"}, false},
		{"serial", Config{Network: NetworkSerial, Address: "/dev/ttyUSB0"}, false},
		{"udp encapsulated", Config{Network: NetworkUDP, Address: "cam:52381", Format: visca.FormatEncapsulated}, false},
		{"ws", Config{Network: NetworkWebSocket, Address: "ws://gw/visca"}, false},
		{"no address", Config{Network: NetworkTCP}, true},
		{"unknown network", Config{Network: "ipx", Address: "x"}, true},
		{"tcp encapsulated", Config{Network: NetworkTCP, Address: "cam:5678", Format: visca.FormatEncapsulated}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := Config{Network: NetworkSerial, Address: "/dev/ttyUSB0"}
	if got, want := cfg.String(), "Serial: /dev/ttyUSB0 @ 9600 baud"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestOpen(t *testing.T) {
	tr, err := Open(Config{Network: NetworkUDP, Address: "127.0.0.1:1", Format: visca.FormatEncapsulated}, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, ok := tr.(*Datagram); !ok {
		t.Errorf("Open() = %T, want *Datagram", tr)
	}
	if _, err := Open(Config{Network: "ipx", Address: "x"}, nil); err == nil {
		t.Error("Open() with unknown network should fail")
	}
}

// ============================================================
// Stream
// ============================================================

// tcpServer accepts connections and hands each one to serve
func tcpServer(t *testing.T, serve func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				serve(conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestStream_FragmentedResponse(t *testing.T) {
	addr := tcpServer(t, func(conn net.Conn) {
		buf := make([]byte, 32)
		conn.Read(buf)
		// ack and completion split across writes, coalesced at the boundary
		conn.Write([]byte{0x90})
		time.Sleep(5 * time.Millisecond)
		conn.Write([]byte{0x41, 0xFF, 0x90, 0x50})
		time.Sleep(5 * time.Millisecond)
		conn.Write([]byte{0x02, 0xFF})
	})

	s := NewTCP(addr, time.Second, nil)
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Send(ctx, powerInquiry); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	for _, want := range []visca.Packet{ackReply, powerReply} {
		got, err := s.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive() failed: %v", err)
		}
		if got != want {
			t.Errorf("Receive() = %s, want %s", got, want)
		}
	}
}

func TestStream_CancelUnblocksReceive(t *testing.T) {
	addr := tcpServer(t, func(conn net.Conn) {
		buf := make([]byte, 32)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	})

	s := NewTCP(addr, time.Second, nil)
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := s.Send(ctx, powerInquiry); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	_, err := s.Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Receive() error = %v, want DeadlineExceeded", err)
	}
}

func TestStream_PeerClose(t *testing.T) {
	addr := tcpServer(t, func(conn net.Conn) {})

	s := NewTCP(addr, time.Second, nil)
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Send(ctx, powerInquiry); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	_, err := s.Receive(ctx)
	if !visca.IsProtocolError(err) {
		t.Errorf("Receive() error = %v, want protocol error", err)
	}
}

func TestStream_Reconnect(t *testing.T) {
	accepted := make(chan struct{}, 4)
	addr := tcpServer(t, func(conn net.Conn) {
		accepted <- struct{}{}
		buf := make([]byte, 32)
		conn.Read(buf)
	})

	s := NewTCP(addr, time.Second, nil)
	defer s.Close()
	ctx := context.Background()

	if err := s.Send(ctx, powerInquiry); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if err := s.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect() failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-accepted:
		case <-time.After(time.Second):
			t.Fatalf("connection %d not accepted", i+1)
		}
	}
}

func TestStream_ReceiveBeforeSend(t *testing.T) {
	s := NewTCP("127.0.0.1:1", time.Second, nil)
	if _, err := s.Receive(context.Background()); !visca.IsProtocolError(err) {
		t.Errorf("Receive() error = %v, want protocol error", err)
	}
}

// ============================================================
// Datagram
// ============================================================

// udpServer answers each datagram with the frames returned by reply
func udpServer(t *testing.T, reply func(req []byte) [][]byte) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			for _, frame := range reply(append([]byte(nil), buf[:n]...)) {
				pc.WriteTo(frame, from)
			}
		}
	}()
	return pc.LocalAddr().String()
}

func encapsulate(t visca.MessageType, seq uint32, body ...byte) []byte {
	frame := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(t))
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(body)))
	binary.BigEndian.PutUint32(frame[4:8], seq)
	return append(frame, body...)
}

func TestDatagram_Encapsulated(t *testing.T) {
	addr := udpServer(t, func(req []byte) [][]byte {
		seq := binary.BigEndian.Uint32(req[4:8])
		return [][]byte{
			encapsulate(visca.TypeReply, seq, 0x90, 0x50, 0x02, 0xFF),
		}
	})

	d := NewDatagram(addr, visca.FormatEncapsulated, time.Second, nil)
	defer d.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := d.Send(ctx, powerInquiry); err != nil {
			t.Fatalf("Send() #%d failed: %v", i, err)
		}
		got, err := d.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive() #%d failed: %v", i, err)
		}
		if got != powerReply {
			t.Errorf("Receive() #%d = %s, want %s", i, got, powerReply)
		}
	}
}

func TestDatagram_Raw(t *testing.T) {
	addr := udpServer(t, func(req []byte) [][]byte {
		if req[len(req)-1] != 0xFF {
			return nil
		}
		return [][]byte{{0x90, 0x50, 0x02, 0xFF}}
	})

	d := NewDatagram(addr, visca.FormatRaw, time.Second, nil)
	defer d.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.Send(ctx, powerInquiry); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	got, err := d.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() failed: %v", err)
	}
	if got != powerReply {
		t.Errorf("Receive() = %s, want %s", got, powerReply)
	}
}

func TestDatagram_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		frame func(seq uint32) []byte
		want  string
	}{
		{
			name:  "sequence mismatch",
			frame: func(seq uint32) []byte { return encapsulate(visca.TypeReply, seq+7, 0x90, 0x41, 0xFF) },
			want:  "sequence mismatch",
		},
		{
			name:  "wrong type",
			frame: func(seq uint32) []byte { return encapsulate(visca.TypeCommand, seq, 0x90, 0x41, 0xFF) },
			want:  "unexpected message type",
		},
		{
			name:  "unterminated payload",
			frame: func(seq uint32) []byte { return encapsulate(visca.TypeReply, seq, 0x90, 0x41) },
			want:  "not terminated",
		},
		{
			name: "trailing bytes",
			frame: func(seq uint32) []byte {
				return append(encapsulate(visca.TypeReply, seq, 0x90, 0x41, 0xFF), 0x00)
			},
			want: "more than one message",
		},
		{
			name:  "truncated",
			frame: func(seq uint32) []byte { return encapsulate(visca.TypeReply, seq, 0x90)[:9] },
			want:  "did not contain a terminated message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := udpServer(t, func(req []byte) [][]byte {
				return [][]byte{tt.frame(binary.BigEndian.Uint32(req[4:8]))}
			})
			d := NewDatagram(addr, visca.FormatEncapsulated, time.Second, nil)
			defer d.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			if err := d.Send(ctx, powerInquiry); err != nil {
				t.Fatalf("Send() failed: %v", err)
			}
			_, err := d.Receive(ctx)
			if !visca.IsProtocolError(err) {
				t.Fatalf("Receive() error = %v, want protocol error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Receive() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestDatagram_Timeout(t *testing.T) {
	addr := udpServer(t, func(req []byte) [][]byte { return nil })

	d := NewDatagram(addr, visca.FormatRaw, time.Second, nil)
	defer d.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := d.Send(ctx, powerInquiry); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if _, err := d.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Receive() error = %v, want DeadlineExceeded", err)
	}
}

// ============================================================
// WebSocket
// ============================================================

func TestWebSocket_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if data[len(data)-1] != 0xFF {
				continue
			}
			conn.WriteMessage(websocket.TextMessage, []byte("hello"))
			conn.WriteMessage(websocket.BinaryMessage, []byte{0x90, 0x41, 0xFF})
			conn.WriteMessage(websocket.BinaryMessage, []byte{0x90, 0x50, 0x02, 0xFF})
		}
	}))
	defer srv.Close()

	w := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), visca.FormatRaw, time.Second, nil)
	defer w.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := w.Send(ctx, powerInquiry); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	for _, want := range []visca.Packet{ackReply, powerReply} {
		got, err := w.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive() failed: %v", err)
		}
		if got != want {
			t.Errorf("Receive() = %s, want %s", got, want)
		}
	}
}

func TestWebSocket_BadScheme(t *testing.T) {
	w := NewWebSocket("http://localhost/visca", visca.FormatRaw, time.Second, nil)
	if err := w.Send(context.Background(), powerInquiry); err == nil {
		t.Error("Send() with http:// URL should fail")
	}
}
