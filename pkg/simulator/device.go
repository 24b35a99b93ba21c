// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simulator implements a fake VISCA camera.
//
// A Device answers requests the way a pan/tilt/zoom camera does: commands are
// acknowledged, executed and completed; inquiries report the current state.
// Position moves take time, advancing once per tick toward their target, and a
// background loop applies the continuous (jog) velocity on the same cadence.
// The device can be served over TCP, UDP and WebSocket, or used in-process
// through a Loopback transport.
package simulator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Thermoquad/periscope/pkg/visca"
)

const (
	// DefaultTick is the motion cadence
	DefaultTick = 20 * time.Millisecond

	// Position units advanced per tick, per unit of speed or velocity
	moveScale    = 4
	jogScale     = 2
	zoomJogScale = 64
	zoomStep     = 256

	defaultHistoryLimit = 1024
)

// Fixed responses
var (
	replyAck           = visca.MustPacket(visca.AddressReply, 0x41)
	replyCompleted     = visca.MustPacket(visca.AddressReply, 0x51)
	replySyntaxError   = visca.MustPacket(visca.AddressReply, 0x60, byte(visca.ErrorSyntax))
	replyNotExecutable = visca.MustPacket(visca.AddressReply, 0x61, byte(visca.ErrorNotExecutable))
)

// Request is one entry of the device's request history
type Request struct {
	Session uuid.UUID
	Time    time.Time
	Packet  visca.Packet
}

// Option configures a Device
type Option func(*Device)

// WithLogger sets the device logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) { d.logger = logger }
}

// WithTick sets the motion cadence
func WithTick(tick time.Duration) Option {
	return func(d *Device) { d.tick = tick }
}

// WithBootDelay makes the device refuse inquiries and motion commands for
// the given time after creation, like a camera that was just powered.
func WithBootDelay(delay time.Duration) Option {
	return func(d *Device) { d.bootDelay = delay }
}

// WithPosition sets the starting position
func WithPosition(pan, tilt, zoom int16) Option {
	return func(d *Device) {
		d.pan.Store(clamp(int32(pan), visca.PanMin, visca.PanMax))
		d.tilt.Store(clamp(int32(tilt), visca.TiltMin, visca.TiltMax))
		d.zoom.Store(clamp(int32(zoom), visca.ZoomMin, visca.ZoomMax))
	}
}

// WithPower sets the starting power state
func WithPower(state visca.PowerState) Option {
	return func(d *Device) { d.power.Store(uint32(state)) }
}

// WithHistoryLimit bounds the request history. Zero disables it.
func WithHistoryLimit(n int) Option {
	return func(d *Device) { d.historyLimit = n }
}

// Device is a simulated camera
type Device struct {
	logger       *slog.Logger
	tick         time.Duration
	bootDelay    time.Duration
	historyLimit int
	started      time.Time

	// mu serializes request handling
	mu sync.Mutex

	// Motion state is shared with the background loop
	pan, tilt, zoom          atomic.Int32
	panVel, tiltVel, zoomVel atomic.Int32
	power                    atomic.Uint32

	closed         atomic.Bool
	sessionsOpened atomic.Uint64
	sessionsActive atomic.Int64
	requests       atomic.Uint64

	historyMu sync.Mutex
	history   []Request

	registry        *prometheus.Registry
	requestsByName  *prometheus.CounterVec
	sessionsCounter prometheus.Counter
}

// NewDevice creates a powered-on device at the home position and starts its
// motion loop. Call Close to stop it.
func NewDevice(opts ...Option) *Device {
	d := &Device{
		logger:       slog.Default(),
		tick:         DefaultTick,
		historyLimit: defaultHistoryLimit,
		started:      time.Now(),
	}
	d.power.Store(uint32(visca.PowerOn))
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "simulator")
	d.initMetrics()

	go d.motionLoop()
	return d
}

// Close stops the motion loop. The loop notices on its next tick.
func (d *Device) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *Device) motionLoop() {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	for range ticker.C {
		if d.closed.Load() {
			d.logger.Debug("motion loop stopped")
			return
		}
		jog(&d.pan, &d.panVel, jogScale, visca.PanMin, visca.PanMax)
		jog(&d.tilt, &d.tiltVel, jogScale, visca.TiltMin, visca.TiltMax)
		jog(&d.zoom, &d.zoomVel, zoomJogScale, visca.ZoomMin, visca.ZoomMax)
	}
}

// jog applies one tick of velocity to a position, stopping at the bounds
func jog(pos, vel *atomic.Int32, scale, lo, hi int32) {
	v := vel.Load()
	if v == 0 {
		return
	}
	p := pos.Load() + v*scale
	if p <= lo || p >= hi {
		p = clamp(p, lo, hi)
		vel.Store(0)
	}
	pos.Store(p)
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (d *Device) booted() bool {
	return time.Since(d.started) >= d.bootDelay
}

// Handle processes one request, delivering each response packet through
// reply. Requests are handled one at a time. The returned error is non-nil
// only when reply fails or ctx ends during a move.
func (d *Device) Handle(ctx context.Context, req visca.Packet, reply func(visca.Packet) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	session := sessionFrom(ctx)
	d.record(session, req)
	name := visca.FormatCommand(req)
	d.requestsByName.WithLabelValues(name).Inc()
	logger := d.logger.With("session", session.String(), "request", req.String())

	if anomalies := visca.ValidateRequest(req); len(anomalies) > 0 {
		logger.Debug("rejected request", "reason", anomalies[0].Message)
		return reply(replySyntaxError)
	}

	category, _ := req.Byte(1)
	key := commandKey(req)
	if category == visca.CategoryInquiry {
		handler, ok := inquiries[key]
		if !ok || !d.booted() {
			logger.Debug("inquiry not executable", "command", name)
			return reply(replyNotExecutable)
		}
		resp, err := handler(d, req)
		if err != nil {
			logger.Debug("malformed inquiry", "err", err)
			return reply(replySyntaxError)
		}
		logger.Debug("inquiry", "command", name, "response", resp.String())
		return reply(resp)
	}

	cmd, ok := commands[key]
	if !ok || (!cmd.always && (!d.booted() || d.powerState() != visca.PowerOn)) {
		logger.Debug("command not executable", "command", name)
		return reply(replyNotExecutable)
	}
	run, err := cmd.parse(d, req)
	if err != nil {
		logger.Debug("malformed command", "command", name, "err", err)
		return reply(replySyntaxError)
	}
	if err := reply(replyAck); err != nil {
		return err
	}
	logger.Debug("executing", "command", name)
	if err := run(ctx); err != nil {
		logger.Info("command interrupted", "command", name, "err", err)
		return err
	}
	return reply(replyCompleted)
}

func (d *Device) powerState() visca.PowerState {
	return visca.PowerState(d.power.Load())
}

func (d *Device) record(session uuid.UUID, req visca.Packet) {
	d.requests.Add(1)
	if d.historyLimit <= 0 {
		return
	}
	d.historyMu.Lock()
	defer d.historyMu.Unlock()
	if len(d.history) >= d.historyLimit {
		d.history = append(d.history[:0], d.history[1:]...)
	}
	d.history = append(d.history, Request{Session: session, Time: time.Now(), Packet: req})
}

// History returns a copy of the requests handled so far, oldest first
func (d *Device) History() []Request {
	d.historyMu.Lock()
	defer d.historyMu.Unlock()
	return append([]Request(nil), d.history...)
}

// Sessions returns the number of sessions opened since creation
func (d *Device) Sessions() uint64 {
	return d.sessionsOpened.Load()
}

// State is a snapshot of the simulated camera
type State struct {
	Power          string `json:"power"`
	Booted         bool   `json:"booted"`
	Pan            int16  `json:"pan"`
	Tilt           int16  `json:"tilt"`
	Zoom           int16  `json:"zoom"`
	PanVelocity    int8   `json:"pan_velocity"`
	TiltVelocity   int8   `json:"tilt_velocity"`
	ZoomVelocity   int8   `json:"zoom_velocity"`
	Requests       uint64 `json:"requests"`
	SessionsOpened uint64 `json:"sessions_opened"`
	SessionsActive int64  `json:"sessions_active"`
}

// State returns the current simulated state
func (d *Device) State() State {
	return State{
		Power:          visca.FormatPowerState(d.powerState()),
		Booted:         d.booted(),
		Pan:            int16(d.pan.Load()),
		Tilt:           int16(d.tilt.Load()),
		Zoom:           int16(d.zoom.Load()),
		PanVelocity:    int8(d.panVel.Load()),
		TiltVelocity:   int8(d.tiltVel.Load()),
		ZoomVelocity:   int8(d.zoomVel.Load()),
		Requests:       d.requests.Load(),
		SessionsOpened: d.sessionsOpened.Load(),
		SessionsActive: d.sessionsActive.Load(),
	}
}

func (d *Device) initMetrics() {
	d.registry = prometheus.NewRegistry()
	factory := promauto.With(d.registry)

	d.requestsByName = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "periscope",
		Subsystem: "simulator",
		Name:      "requests_total",
		Help:      "Requests handled by the simulated camera, by command.",
	}, []string{"command"})
	d.sessionsCounter = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "periscope",
		Subsystem: "simulator",
		Name:      "sessions_total",
		Help:      "Client sessions opened.",
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "periscope",
		Subsystem: "simulator",
		Name:      "active_sessions",
		Help:      "Client sessions currently open.",
	}, func() float64 { return float64(d.sessionsActive.Load()) })

	for name, v := range map[string]*atomic.Int32{
		"pan_position":  &d.pan,
		"tilt_position": &d.tilt,
		"zoom_position": &d.zoom,
	} {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "periscope",
			Subsystem: "simulator",
			Name:      name,
			Help:      "Current simulated " + strings.TrimSuffix(name, "_position") + " position.",
		}, func() float64 { return float64(v.Load()) })
	}
}

// Registry returns the registry holding the device metrics
func (d *Device) Registry() *prometheus.Registry {
	return d.registry
}
