// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"context"
	"fmt"
	"sync"

	"github.com/Thermoquad/periscope/pkg/visca"
)

// Loopback is an in-memory transport to a Device. Each connection is a
// session; Reconnect starts a new one and abandons any request still being
// handled on the old one.
type Loopback struct {
	device *Device

	mu      sync.Mutex
	session *Session
	replies chan visca.Packet
	cancel  context.CancelFunc
	ctx     context.Context
}

// NewLoopback creates a loopback transport to d. The first Send connects.
func NewLoopback(d *Device) *Loopback {
	return &Loopback{device: d}
}

func (l *Loopback) connectLocked() {
	l.session = l.device.openSession("loopback", "loopback")
	l.replies = make(chan visca.Packet, 8)
	l.ctx, l.cancel = context.WithCancel(withSession(context.Background(), l.session))
}

func (l *Loopback) closeLocked() {
	if l.session == nil {
		return
	}
	l.cancel()
	l.device.closeSession(l.session)
	l.session = nil
}

// Send hands req to the device, which answers asynchronously
func (l *Loopback) Send(ctx context.Context, req visca.Packet) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	l.mu.Lock()
	if l.session == nil {
		l.connectLocked()
	}
	sessCtx, replies := l.ctx, l.replies
	l.mu.Unlock()

	go l.device.Handle(sessCtx, req, func(p visca.Packet) error {
		select {
		case replies <- p:
			return nil
		case <-sessCtx.Done():
			return sessCtx.Err()
		}
	})
	return nil
}

// Receive waits for the next reply on the current session. Cancellation
// ends the session, like closing a socket.
func (l *Loopback) Receive(ctx context.Context) (visca.Packet, error) {
	l.mu.Lock()
	if l.session == nil {
		l.mu.Unlock()
		return visca.Packet{}, visca.NewProtocolError("receive on closed loopback")
	}
	sessCtx, replies := l.ctx, l.replies
	l.mu.Unlock()

	select {
	case p := <-replies:
		return p, nil
	case <-sessCtx.Done():
		return visca.Packet{}, visca.NewProtocolError("loopback closed")
	case <-ctx.Done():
		l.Close()
		return visca.Packet{}, fmt.Errorf("read: %w", ctx.Err())
	}
}

// Reconnect ends the current session and starts a new one
func (l *Loopback) Reconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
	l.connectLocked()
	return nil
}

// Close ends the current session
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
	return nil
}
