// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/periscope/pkg/visca"
)

var errMalformed = errors.New("malformed request")

// command is an entry of the command table. parse validates the request and
// returns the action to run between the ack and the completion.
type command struct {
	always bool // accepted while powered off
	parse  func(d *Device, req visca.Packet) (func(ctx context.Context) error, error)
}

// inquiry builds the reply to an inquiry
type inquiry func(d *Device, req visca.Packet) (visca.Packet, error)

// commandKey returns the (group, item) bytes a request is dispatched on
func commandKey(req visca.Packet) [2]byte {
	group, _ := req.Byte(2)
	item, _ := req.Byte(3)
	return [2]byte{group, item}
}

var commands = map[[2]byte]command{
	{visca.GroupCamera, 0x00}:  {always: true, parse: (*Device).parsePower},
	{visca.GroupCamera, 0x07}:  {parse: (*Device).parseZoomDrive},
	{visca.GroupCamera, 0x47}:  {parse: (*Device).parseZoomDirect},
	{visca.GroupPanTilt, 0x01}: {parse: (*Device).parseDrive},
	{visca.GroupPanTilt, 0x02}: {parse: (*Device).parseAbsolute},
	{visca.GroupPanTilt, 0x03}: {parse: (*Device).parseRelative},
	{visca.GroupPanTilt, 0x04}: {parse: (*Device).parseHome},
	{visca.GroupPanTilt, 0x05}: {parse: (*Device).parseHome},
}

var inquiries = map[[2]byte]inquiry{
	{visca.GroupCamera, 0x00}:  (*Device).inquirePower,
	{visca.GroupCamera, 0x47}:  (*Device).inquireZoom,
	{visca.GroupPanTilt, 0x12}: (*Device).inquirePosition,
}

func expectLen(req visca.Packet, n int) error {
	if req.Len() != n {
		return fmt.Errorf("%w: %d bytes, want %d", errMalformed, req.Len(), n)
	}
	return nil
}

// ============================================================
// Commands
// ============================================================

func (d *Device) parsePower(req visca.Packet) (func(context.Context) error, error) {
	if err := expectLen(req, 5); err != nil {
		return nil, err
	}
	b, _ := req.Byte(4)
	state := visca.PowerState(b)
	if state != visca.PowerOn && state != visca.PowerOff {
		return nil, fmt.Errorf("%w: power state 0x%02X", errMalformed, b)
	}
	return func(ctx context.Context) error {
		if state == visca.PowerOff {
			d.stopAll()
		}
		d.power.Store(uint32(state))
		return nil
	}, nil
}

func (d *Device) parseZoomDrive(req visca.Packet) (func(context.Context) error, error) {
	if err := expectLen(req, 5); err != nil {
		return nil, err
	}
	b, _ := req.Byte(4)
	var v int32
	switch {
	case b == 0x00:
	case b == 0x02:
		v = zoomSpeed(2)
	case b == 0x03:
		v = -zoomSpeed(2)
	case b&0xF0 == 0x20:
		v = zoomSpeed(b & 0x0F)
	case b&0xF0 == 0x30:
		v = -zoomSpeed(b & 0x0F)
	default:
		return nil, fmt.Errorf("%w: zoom drive 0x%02X", errMalformed, b)
	}
	return func(ctx context.Context) error {
		d.zoomVel.Store(v)
		return nil
	}, nil
}

// zoomSpeed maps the 0..7 speed nibble to a non-zero velocity
func zoomSpeed(p byte) int32 {
	return int32(min(p, visca.ZoomSpeedMax)) + 1
}

func (d *Device) parseZoomDirect(req visca.Packet) (func(context.Context) error, error) {
	if err := expectLen(req, 8); err != nil {
		return nil, err
	}
	target, _ := req.Int16(4)
	return func(ctx context.Context) error {
		return d.move(ctx, axisMove{
			pos:    &d.zoom,
			vel:    &d.zoomVel,
			target: clamp(int32(target), visca.ZoomMin, visca.ZoomMax),
			step:   zoomStep,
		})
	}, nil
}

// panSign and tiltSign decode drive direction bytes. Anything other than
// the two directions means no motion on that axis.
func panSign(b byte) int32 {
	switch b {
	case 0x01: // left
		return -1
	case 0x02: // right
		return 1
	}
	return 0
}

func tiltSign(b byte) int32 {
	switch b {
	case 0x01: // up
		return 1
	case 0x02: // down
		return -1
	}
	return 0
}

func (d *Device) parseDrive(req visca.Packet) (func(context.Context) error, error) {
	if err := expectLen(req, 8); err != nil {
		return nil, err
	}
	b := req.Bytes()
	panVel := panSign(b[6]) * int32(min(b[4], visca.PanSpeedMax))
	tiltVel := tiltSign(b[7]) * int32(min(b[5], visca.TiltSpeedMax))
	return func(ctx context.Context) error {
		d.panVel.Store(panVel)
		d.tiltVel.Store(tiltVel)
		return nil
	}, nil
}

// positionArgs decodes "VV WW Y*4 Z*4" from a pan/tilt move request
func positionArgs(req visca.Packet) (panSpeed, tiltSpeed int32, pan, tilt int16, err error) {
	if err = expectLen(req, 14); err != nil {
		return
	}
	b := req.Bytes()
	panSpeed = int32(max(min(b[4], visca.PanSpeedMax), 1))
	tiltSpeed = int32(max(min(b[5], visca.TiltSpeedMax), 1))
	pan, _ = req.Int16(6)
	tilt, _ = req.Int16(10)
	return
}

func (d *Device) parseAbsolute(req visca.Packet) (func(context.Context) error, error) {
	panSpeed, tiltSpeed, pan, tilt, err := positionArgs(req)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return d.movePanTilt(ctx, int32(pan), int32(tilt), panSpeed, tiltSpeed)
	}, nil
}

func (d *Device) parseRelative(req visca.Packet) (func(context.Context) error, error) {
	panSpeed, tiltSpeed, dPan, dTilt, err := positionArgs(req)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		d.panVel.Store(0)
		d.tiltVel.Store(0)
		pan := d.pan.Load() + int32(dPan)
		tilt := d.tilt.Load() + int32(dTilt)
		return d.movePanTilt(ctx, pan, tilt, panSpeed, tiltSpeed)
	}, nil
}

func (d *Device) parseHome(req visca.Packet) (func(context.Context) error, error) {
	if err := expectLen(req, 4); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return d.movePanTilt(ctx, 0, 0, visca.PanSpeedMax, visca.TiltSpeedMax)
	}, nil
}

func (d *Device) movePanTilt(ctx context.Context, pan, tilt, panSpeed, tiltSpeed int32) error {
	return d.move(ctx,
		axisMove{
			pos:    &d.pan,
			vel:    &d.panVel,
			target: clamp(pan, visca.PanMin, visca.PanMax),
			step:   panSpeed * moveScale,
		},
		axisMove{
			pos:    &d.tilt,
			vel:    &d.tiltVel,
			target: clamp(tilt, visca.TiltMin, visca.TiltMax),
			step:   tiltSpeed * moveScale,
		},
	)
}

func (d *Device) stopAll() {
	d.panVel.Store(0)
	d.tiltVel.Store(0)
	d.zoomVel.Store(0)
}

type axisMove struct {
	pos, vel     *atomic.Int32
	target, step int32
}

// move steps each axis toward its target once per tick until all have
// arrived. Velocity is zeroed first so the motion loop leaves the axes alone.
func (d *Device) move(ctx context.Context, axes ...axisMove) error {
	for _, a := range axes {
		a.vel.Store(0)
	}
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		done := true
		for _, a := range axes {
			p := a.pos.Load()
			switch {
			case p < a.target:
				p = min(p+a.step, a.target)
			case p > a.target:
				p = max(p-a.step, a.target)
			}
			a.pos.Store(p)
			if p != a.target {
				done = false
			}
		}
		if done {
			return nil
		}
	}
}

// ============================================================
// Inquiries
// ============================================================

func inquiryReply(data ...byte) (visca.Packet, error) {
	return visca.NewPacket(append([]byte{visca.AddressReply, 0x50}, data...)...)
}

func (d *Device) inquirePower(req visca.Packet) (visca.Packet, error) {
	if err := expectLen(req, 4); err != nil {
		return visca.Packet{}, err
	}
	return inquiryReply(byte(d.powerState()))
}

func (d *Device) inquireZoom(req visca.Packet) (visca.Packet, error) {
	if err := expectLen(req, 4); err != nil {
		return visca.Packet{}, err
	}
	return inquiryReply(visca.AppendInt16(nil, int16(d.zoom.Load()))...)
}

func (d *Device) inquirePosition(req visca.Packet) (visca.Packet, error) {
	if err := expectLen(req, 4); err != nil {
		return visca.Packet{}, err
	}
	data := visca.AppendInt16(nil, int16(d.pan.Load()))
	data = visca.AppendInt16(data, int16(d.tilt.Load()))
	return inquiryReply(data...)
}
