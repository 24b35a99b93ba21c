// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Thermoquad/periscope/pkg/visca"
)

type sessionKey struct{}

// Session is one client connection to the device
type Session struct {
	ID     uuid.UUID
	Remote string
}

func withSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) uuid.UUID {
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok {
		return s.ID
	}
	return uuid.Nil
}

func (d *Device) openSession(transport, remote string) *Session {
	s := &Session{ID: uuid.New(), Remote: remote}
	d.sessionsOpened.Add(1)
	d.sessionsActive.Add(1)
	d.sessionsCounter.Inc()
	d.logger.Info("session opened", "session", s.ID.String(), "transport", transport, "remote", remote)
	return s
}

func (d *Device) closeSession(s *Session) {
	d.sessionsActive.Add(-1)
	d.logger.Info("session closed", "session", s.ID.String(), "remote", s.Remote)
}

// ============================================================
// TCP
// ============================================================

// ServeTCP accepts stream connections on ln until ctx is done. Each
// connection is a session carrying raw framing.
func (d *Device) ServeTCP(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	d.logger.Info("listening", "transport", "tcp", "addr", ln.Addr().String())
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn runs one stream session until the peer disconnects or ctx is
// done.
func (d *Device) ServeConn(ctx context.Context, conn io.ReadWriteCloser) {
	remote := "stream"
	if nc, ok := conn.(net.Conn); ok {
		remote = nc.RemoteAddr().String()
	}
	s := d.openSession("stream", remote)
	defer d.closeSession(s)

	ctx, cancel := context.WithCancel(withSession(ctx, s))
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	reply := func(p visca.Packet) error {
		_, err := conn.Write(p.AppendWire(nil))
		return err
	}
	decoder := visca.NewDecoder(conn)
	for {
		req, err := decoder.Next()
		if errors.Is(err, visca.ErrOutOfRange) {
			// Bare terminator or oversized packet: answer and keep going
			d.logger.Debug("bad framing", "session", s.ID.String(), "err", err)
			if err := reply(replySyntaxError); err != nil {
				return
			}
			continue
		}
		if err != nil {
			d.logger.Debug("stream ended", "session", s.ID.String(), "err", err)
			return
		}
		if err := d.Handle(ctx, req, reply); err != nil {
			d.logger.Debug("reply failed", "session", s.ID.String(), "err", err)
			return
		}
	}
}

// ============================================================
// UDP
// ============================================================

// ServeUDP answers datagrams on pc until ctx is done. Each remote address is
// its own session. Encapsulated replies echo the request sequence number.
func (d *Device) ServeUDP(ctx context.Context, pc net.PacketConn, format visca.Format) error {
	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()

	d.logger.Info("listening", "transport", "udp", "addr", pc.LocalAddr().String(), "framing", format.String())
	sessions := make(map[string]*Session)
	defer func() {
		for _, s := range sessions {
			d.closeSession(s)
		}
	}()

	buf := make([]byte, 1500)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s, ok := sessions[addr.String()]
		if !ok {
			s = d.openSession("udp", addr.String())
			sessions[addr.String()] = s
		}
		d.serveDatagram(withSession(ctx, s), pc, addr, buf[:n], format)
	}
}

func (d *Device) serveDatagram(ctx context.Context, pc net.PacketConn, addr net.Addr, b []byte, format visca.Format) {
	msg, err := visca.ParseMessage(b, format)
	var seq uint32
	if err == nil {
		seq = msg.Sequence
	}
	reply := func(p visca.Packet) error {
		var out visca.Message
		var err error
		if format == visca.FormatEncapsulated {
			out, err = visca.NewEncapsulatedMessage(visca.TypeReply, seq, p)
		} else {
			out, err = visca.NewRawMessage(p)
		}
		if err != nil {
			return err
		}
		_, err = pc.WriteTo(out.Bytes(), addr)
		return err
	}

	var req visca.Packet
	if err == nil {
		req, err = msg.Payload.Packet()
	}
	if err != nil {
		d.logger.Debug("bad datagram", "remote", addr.String(), "err", err)
		if err := reply(replySyntaxError); err != nil {
			d.logger.Debug("reply failed", "remote", addr.String(), "err", err)
		}
		return
	}
	if err := d.Handle(ctx, req, reply); err != nil {
		d.logger.Debug("reply failed", "remote", addr.String(), "err", err)
	}
}

// ============================================================
// WebSocket
// ============================================================

// WebSocketHandler returns an HTTP handler that upgrades to a websocket and
// serves one session per connection, one raw VISCA message per binary frame.
func (d *Device) WebSocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.logger.Warn("websocket upgrade failed", "err", err)
			return
		}
		d.serveWebSocket(r.Context(), conn)
	})
}

func (d *Device) serveWebSocket(ctx context.Context, conn *websocket.Conn) {
	s := d.openSession("websocket", conn.RemoteAddr().String())
	defer d.closeSession(s)
	defer conn.Close()

	ctx, cancel := context.WithCancel(withSession(ctx, s))
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	reply := func(p visca.Packet) error {
		return conn.WriteMessage(websocket.BinaryMessage, p.AppendWire(nil))
	}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.logger.Debug("websocket ended", "session", s.ID.String(), "err", err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		msg, err := visca.ParseMessage(data, visca.FormatRaw)
		var req visca.Packet
		if err == nil && msg.Len() != len(data) {
			err = visca.NewProtocolError("frame contained more than one message")
		}
		if err == nil {
			req, err = msg.Payload.Packet()
		}
		if err != nil {
			d.logger.Debug("bad frame", "session", s.ID.String(), "err", err)
			if err := reply(replySyntaxError); err != nil {
				return
			}
			continue
		}
		if err := d.Handle(ctx, req, reply); err != nil {
			return
		}
	}
}
