// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package visca

import "fmt"

// AnomalyType represents the ways a request can be malformed
type AnomalyType int

const (
	AnomalyLength AnomalyType = iota
	AnomalyAddress
	AnomalyCategory
)

// ValidationError represents a request validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// minRequestSize is the shortest well-formed request without its terminator
// (address, category, group, item).
const minRequestSize = 4

// ValidateRequest checks the framing bytes a camera inspects before dispatching
// a request. Returns a slice of validation errors (empty if the request is valid)
func ValidateRequest(p Packet) []ValidationError {
	errors := []ValidationError{}

	if p.Len() < minRequestSize {
		errors = append(errors, ValidationError{
			Type:    AnomalyLength,
			Message: fmt.Sprintf("request too short (%d bytes, minimum %d)", p.Len(), minRequestSize),
			Details: map[string]interface{}{"length": p.Len(), "minimum": minRequestSize},
		})
	}

	if addr, err := p.Byte(0); err != nil || addr != AddressCamera1 {
		errors = append(errors, ValidationError{
			Type:    AnomalyAddress,
			Message: fmt.Sprintf("invalid address byte 0x%02X", addr),
			Details: map[string]interface{}{"address": addr},
		})
	}

	if cat, err := p.Byte(1); err == nil && cat != CategoryCommand && cat != CategoryInquiry {
		errors = append(errors, ValidationError{
			Type:    AnomalyCategory,
			Message: fmt.Sprintf("invalid category byte 0x%02X", cat),
			Details: map[string]interface{}{"category": cat},
		})
	}

	return errors
}
