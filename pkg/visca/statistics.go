// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package visca

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Statistics tracks exchange outcomes and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalExchanges uint64
	Completed      uint64
	DeviceErrors   uint64
	ProtocolErrors uint64
	Timeouts       uint64
	OtherErrors    uint64

	// Rates (calculated)
	ExchangeRate float64 // exchanges/sec
	ErrorRate    float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one exchange
func (s *Statistics) Update(err error) {
	s.TotalExchanges++

	switch {
	case err == nil:
		s.Completed++
	case IsResponseError(err):
		s.DeviceErrors++
	case IsProtocolError(err):
		s.ProtocolErrors++
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.Timeouts++
	default:
		s.OtherErrors++
	}

	s.LastUpdateTime = time.Now()
}

// Errors returns the number of exchanges that did not complete
func (s *Statistics) Errors() uint64 {
	return s.DeviceErrors + s.ProtocolErrors + s.Timeouts + s.OtherErrors
}

// CalculateRates calculates exchange and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.ExchangeRate = float64(s.TotalExchanges) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var completedPercent float64
	if s.TotalExchanges > 0 {
		completedPercent = float64(s.Completed) * 100.0 / float64(s.TotalExchanges)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Exchanges: %8d\n", s.TotalExchanges)
	result += fmt.Sprintf("Completed:       %8d (%.1f%%)\n", s.Completed, completedPercent)

	if s.DeviceErrors > 0 {
		result += fmt.Sprintf("Device Errors:   %8d\n", s.DeviceErrors)
	}
	if s.ProtocolErrors > 0 {
		result += fmt.Sprintf("Protocol Errors: %8d\n", s.ProtocolErrors)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.OtherErrors > 0 {
		result += fmt.Sprintf("Other Errors:    %8d\n", s.OtherErrors)
	}

	result += fmt.Sprintf("Exchange Rate:   %8.1f /sec\n", s.ExchangeRate)
	result += fmt.Sprintf("Error Rate:      %8.1f /sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
