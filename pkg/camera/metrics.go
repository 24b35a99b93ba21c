// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package camera

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Thermoquad/periscope/pkg/visca"
)

// Exchange results used as metric labels
const (
	ResultCompleted     = "completed"
	ResultDeviceError   = "device_error"
	ResultProtocolError = "protocol_error"
	ResultTimeout       = "timeout"
	ResultCanceled      = "canceled"
	ResultOther         = "other"
)

// Metrics holds the prometheus collectors of a Client
type Metrics struct {
	exchanges  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	reconnects prometheus.Counter
}

// NewMetrics creates the client collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		exchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "periscope",
			Subsystem: "camera",
			Name:      "exchanges_total",
			Help:      "VISCA exchanges by command and result.",
		}, []string{"command", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "periscope",
			Subsystem: "camera",
			Name:      "exchange_duration_seconds",
			Help:      "Time from request write to terminal reply.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"command"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "periscope",
			Subsystem: "camera",
			Name:      "reconnects_total",
			Help:      "Transport reconnects after failed exchanges.",
		}),
	}
}

func (m *Metrics) observe(command string, ex Exchange) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(command, Result(ex.Err)).Inc()
	m.duration.WithLabelValues(command).Observe(ex.Duration.Seconds())
}

// Result classifies the error returned by Client.Send
func Result(err error) string {
	switch {
	case err == nil:
		return ResultCompleted
	case visca.IsResponseError(err):
		return ResultDeviceError
	case visca.IsProtocolError(err):
		return ResultProtocolError
	case errors.Is(err, context.DeadlineExceeded):
		return ResultTimeout
	case errors.Is(err, context.Canceled):
		return ResultCanceled
	default:
		return ResultOther
	}
}
