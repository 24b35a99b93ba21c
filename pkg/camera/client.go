// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package camera drives a VISCA camera over a transport.
//
// Client runs the request/response exchange: one request on the wire at a
// time, acknowledgements skipped, and a fresh connection after any exchange
// that did not end in a completion. Controller builds the individual camera
// commands on top of it.
package camera

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Thermoquad/periscope/pkg/transport"
	"github.com/Thermoquad/periscope/pkg/visca"
)

const (
	// DefaultReconnectTimeout bounds the reconnect after a failed exchange
	DefaultReconnectTimeout = 5 * time.Second

	tracerName = "github.com/Thermoquad/periscope/pkg/camera"
)

// Exchange describes one completed call to Client.Send
type Exchange struct {
	Start       time.Time
	Duration    time.Duration
	Request     visca.Packet
	Response    visca.Packet // last packet received; zero when none arrived
	Err         error
	Reconnected bool
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records exchanges in m
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer sets the tracer used for exchange spans. The default is the
// global OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// WithObserver calls fn after every exchange, while the exchange lock is
// still held. fn must not call back into the client.
func WithObserver(fn func(Exchange)) Option {
	return func(c *Client) { c.observers = append(c.observers, fn) }
}

// WithReconnectTimeout bounds the reconnect that follows a failed exchange
func WithReconnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.reconnectTimeout = d }
}

// Client serializes VISCA exchanges over a transport
type Client struct {
	transport        transport.Transport
	logger           *slog.Logger
	metrics          *Metrics
	tracer           trace.Tracer
	observers        []func(Exchange)
	reconnectTimeout time.Duration

	mu sync.Mutex
}

// NewClient creates a client over t. The client owns t from then on.
func NewClient(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		transport:        t,
		logger:           slog.Default(),
		reconnectTimeout: DefaultReconnectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	c.logger = c.logger.With("component", "camera")
	return c
}

// Send performs one exchange and returns the completion packet.
//
// Acknowledgements are consumed silently. A device error response is
// returned as *visca.ResponseError; any other unexpected reply as
// *visca.ProtocolError; cancellation and timeouts as errors wrapping the
// context error. On every error the transport is reconnected before Send
// returns, so the next exchange starts on a clean stream.
func (c *Client) Send(ctx context.Context, req visca.Packet) (visca.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	command := visca.FormatCommand(req)
	ctx, span := c.tracer.Start(ctx, "visca.exchange",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("visca.command", command),
			attribute.String("visca.request", req.String()),
		),
	)
	defer span.End()

	ex := Exchange{Start: time.Now(), Request: req}
	ex.Response, ex.Err = c.exchange(ctx, req)
	if ex.Err != nil {
		ex.Reconnected = c.reconnect(ex.Err)
	}
	ex.Duration = time.Since(ex.Start)

	if ex.Err != nil {
		span.RecordError(ex.Err)
		span.SetStatus(codes.Error, ex.Err.Error())
		c.logger.Debug("exchange failed", "command", command, "request", req.String(), "err", ex.Err)
	} else {
		span.SetAttributes(attribute.String("visca.response", ex.Response.String()))
		span.SetStatus(codes.Ok, "")
		c.logger.Debug("exchange", "command", command, "request", req.String(), "response", ex.Response.String())
	}
	c.metrics.observe(command, ex)
	for _, fn := range c.observers {
		fn(ex)
	}

	if ex.Err != nil {
		return visca.Packet{}, ex.Err
	}
	return ex.Response, nil
}

// exchange writes req and reads until a terminal reply
func (c *Client) exchange(ctx context.Context, req visca.Packet) (visca.Packet, error) {
	if err := c.transport.Send(ctx, req); err != nil {
		return visca.Packet{}, err
	}
	for {
		resp, err := c.transport.Receive(ctx)
		if err != nil {
			return visca.Packet{}, err
		}
		if resp.Len() < 2 {
			return resp, visca.NewProtocolError("short response %s", resp)
		}
		switch resp.Kind() {
		case visca.ReplyAck:
			continue
		case visca.ReplyCompleted:
			return resp, nil
		case visca.ReplyError:
			return resp, &visca.ResponseError{Response: resp}
		default:
			return resp, visca.NewProtocolError("invalid response %s", resp)
		}
	}
}

// reconnect replaces the connection after a failed exchange. It runs on a
// context detached from the caller, whose context may already be done.
func (c *Client) reconnect(cause error) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.reconnectTimeout)
	defer cancel()

	c.logger.Info("reconnecting after failed exchange", "cause", cause)
	if c.metrics != nil {
		c.metrics.reconnects.Inc()
	}
	if err := c.transport.Reconnect(ctx); err != nil {
		// The next Send connects lazily
		c.logger.Warn("reconnect failed", "err", err)
		c.transport.Close()
		return false
	}
	return true
}

// Close closes the transport
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport.Close()
}
