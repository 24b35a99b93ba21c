// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Thermoquad/periscope/pkg/visca"
)

// Controller defaults
const (
	DefaultCommandTimeout    = 5 * time.Second
	DefaultPowerPollInterval = time.Second
	DefaultPowerPollAttempts = 30
)

// ErrPowerOnTimeout is returned by PowerOn when the camera never reports On
var ErrPowerOnTimeout = errors.New("camera did not report power on")

// Sender performs one VISCA exchange. *Client implements it.
type Sender interface {
	Send(ctx context.Context, req visca.Packet) (visca.Packet, error)
}

// PanTilt is a pan/tilt position or offset in device units
type PanTilt struct {
	Pan  int16
	Tilt int16
}

// Speed is a pan/tilt drive speed. Values are clamped to 1..0x18 (pan) and
// 1..0x17 (tilt).
type Speed struct {
	Pan  byte
	Tilt byte
}

// MaxSpeed is the fastest pan/tilt speed
var MaxSpeed = Speed{Pan: visca.PanSpeedMax, Tilt: visca.TiltSpeedMax}

func (s Speed) bytes() (byte, byte) {
	return max(min(s.Pan, visca.PanSpeedMax), 1), max(min(s.Tilt, visca.TiltSpeedMax), 1)
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithCommandTimeout sets the timeout applied to each exchange
func WithCommandTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.timeout = d }
}

// WithPowerPoll sets how PowerOn waits for the camera to come up
func WithPowerPoll(interval time.Duration, attempts int) ControllerOption {
	return func(c *Controller) {
		c.pollInterval = interval
		c.pollAttempts = attempts
	}
}

// WithControllerLogger sets the controller logger
func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// Controller builds camera commands and inquiries
type Controller struct {
	sender       Sender
	timeout      time.Duration
	pollInterval time.Duration
	pollAttempts int
	logger       *slog.Logger
}

// NewController creates a controller sending through s
func NewController(s Sender, opts ...ControllerOption) *Controller {
	c := &Controller{
		sender:       s,
		timeout:      DefaultCommandTimeout,
		pollInterval: DefaultPowerPollInterval,
		pollAttempts: DefaultPowerPollAttempts,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// send performs one exchange under the per-call timeout
func (c *Controller) send(ctx context.Context, b ...byte) (visca.Packet, error) {
	req, err := visca.NewPacket(b...)
	if err != nil {
		return visca.Packet{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.sender.Send(ctx, req)
}

func (c *Controller) command(ctx context.Context, b ...byte) error {
	_, err := c.send(ctx, b...)
	return err
}

// inquire sends an inquiry and checks the reply carries n data bytes
func (c *Controller) inquire(ctx context.Context, n int, b ...byte) (visca.Packet, error) {
	resp, err := c.send(ctx, b...)
	if err != nil {
		return visca.Packet{}, err
	}
	if resp.Len() != 2+n {
		return visca.Packet{}, visca.NewProtocolError("inquiry reply %s has %d data bytes, want %d", resp, resp.Len()-2, n)
	}
	return resp, nil
}

// Raw sends an arbitrary request and returns the completion
func (c *Controller) Raw(ctx context.Context, req visca.Packet) (visca.Packet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.sender.Send(ctx, req)
}

// ============================================================
// Power
// ============================================================

// PowerOn switches the camera on and waits until it reports On. The status
// is polled up to the configured number of attempts.
func (c *Controller) PowerOn(ctx context.Context) error {
	if err := c.command(ctx, visca.AddressCamera1, visca.CategoryCommand, visca.GroupCamera, 0x00, byte(visca.PowerOn)); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		state, err := c.PowerStatus(ctx)
		if err == nil && state == visca.PowerOn {
			c.logger.Debug("camera powered on", "attempts", attempt)
			return nil
		}
		lastErr = err
		if err == nil {
			lastErr = fmt.Errorf("power state %s", visca.FormatPowerState(state))
		}
		c.logger.Debug("waiting for power on", "attempt", attempt, "status", lastErr)

		if attempt == c.pollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrPowerOnTimeout, c.pollAttempts, lastErr)
}

// PowerOff puts the camera in standby
func (c *Controller) PowerOff(ctx context.Context) error {
	return c.command(ctx, visca.AddressCamera1, visca.CategoryCommand, visca.GroupCamera, 0x00, byte(visca.PowerOff))
}

// PowerStatus reports the power state
func (c *Controller) PowerStatus(ctx context.Context) (visca.PowerState, error) {
	resp, err := c.inquire(ctx, 1, visca.AddressCamera1, visca.CategoryInquiry, visca.GroupCamera, 0x00)
	if err != nil {
		return 0, err
	}
	b, _ := resp.Byte(2)
	return visca.PowerState(b), nil
}

// ============================================================
// Zoom
// ============================================================

// Zoom reports the zoom position
func (c *Controller) Zoom(ctx context.Context) (int16, error) {
	resp, err := c.inquire(ctx, 4, visca.AddressCamera1, visca.CategoryInquiry, visca.GroupCamera, 0x47)
	if err != nil {
		return 0, err
	}
	return resp.Int16(2)
}

// SetZoom moves the zoom to pos and returns once it arrives
func (c *Controller) SetZoom(ctx context.Context, pos int16) error {
	if pos < visca.ZoomMin || pos > visca.ZoomMax {
		return fmt.Errorf("%w: zoom %d not in [%d,%d]", visca.ErrOutOfRange, pos, visca.ZoomMin, visca.ZoomMax)
	}
	b := []byte{visca.AddressCamera1, visca.CategoryCommand, visca.GroupCamera, 0x47}
	return c.command(ctx, visca.AppendInt16(b, pos)...)
}

// ContinuousZoom starts zooming at speed in [-8,8]: positive zooms in
// (tele), negative out (wide), zero stops.
func (c *Controller) ContinuousZoom(ctx context.Context, speed int8) error {
	var drive byte
	switch {
	case speed > 0:
		drive = 0x20 | byte(min(int(speed), visca.ZoomSpeedMax+1)-1)
	case speed < 0:
		drive = 0x30 | byte(min(-int(speed), visca.ZoomSpeedMax+1)-1)
	}
	return c.command(ctx, visca.AddressCamera1, visca.CategoryCommand, visca.GroupCamera, 0x07, drive)
}

// ============================================================
// Pan/tilt
// ============================================================

// PanTilt reports the pan/tilt position
func (c *Controller) PanTilt(ctx context.Context) (PanTilt, error) {
	resp, err := c.inquire(ctx, 8, visca.AddressCamera1, visca.CategoryInquiry, visca.GroupPanTilt, 0x12)
	if err != nil {
		return PanTilt{}, err
	}
	pan, _ := resp.Int16(2)
	tilt, _ := resp.Int16(6)
	return PanTilt{Pan: pan, Tilt: tilt}, nil
}

// SetPanTilt moves to an absolute position and returns once it arrives
func (c *Controller) SetPanTilt(ctx context.Context, pos PanTilt, speed Speed) error {
	if pos.Pan < visca.PanMin || pos.Pan > visca.PanMax || pos.Tilt < visca.TiltMin || pos.Tilt > visca.TiltMax {
		return fmt.Errorf("%w: pan/tilt (%d,%d)", visca.ErrOutOfRange, pos.Pan, pos.Tilt)
	}
	return c.command(ctx, positionRequest(0x02, pos, speed)...)
}

// RelativePanTilt moves by an offset from the current position. The camera
// stops at its limits.
func (c *Controller) RelativePanTilt(ctx context.Context, delta PanTilt, speed Speed) error {
	return c.command(ctx, positionRequest(0x03, delta, speed)...)
}

func positionRequest(item byte, pos PanTilt, speed Speed) []byte {
	vv, ww := speed.bytes()
	b := []byte{visca.AddressCamera1, visca.CategoryCommand, visca.GroupPanTilt, item, vv, ww}
	b = visca.AppendInt16(b, pos.Pan)
	return visca.AppendInt16(b, pos.Tilt)
}

// ContinuousPanTilt starts moving at the given velocities. Positive pan
// moves right, positive tilt moves up, zero stops the axis. Magnitudes are
// drive speeds.
func (c *Controller) ContinuousPanTilt(ctx context.Context, pan, tilt int8) error {
	vv, ww := Speed{Pan: abs8(pan), Tilt: abs8(tilt)}.bytes()

	xx, yy := byte(0x03), byte(0x03)
	switch {
	case pan < 0:
		xx = 0x01
	case pan > 0:
		xx = 0x02
	}
	switch {
	case tilt > 0:
		yy = 0x01
	case tilt < 0:
		yy = 0x02
	}
	return c.command(ctx, visca.AddressCamera1, visca.CategoryCommand, visca.GroupPanTilt, 0x01, vv, ww, xx, yy)
}

func abs8(v int8) byte {
	if v < 0 {
		return byte(-int(v))
	}
	return byte(v)
}

// Home moves pan/tilt to the home position
func (c *Controller) Home(ctx context.Context) error {
	return c.command(ctx, visca.AddressCamera1, visca.CategoryCommand, visca.GroupPanTilt, 0x04)
}

// Reset re-initializes pan/tilt
func (c *Controller) Reset(ctx context.Context) error {
	return c.command(ctx, visca.AddressCamera1, visca.CategoryCommand, visca.GroupPanTilt, 0x05)
}

// Stop halts continuous pan/tilt and zoom
func (c *Controller) Stop(ctx context.Context) error {
	if err := c.ContinuousPanTilt(ctx, 0, 0); err != nil {
		return err
	}
	return c.ContinuousZoom(ctx, 0)
}
