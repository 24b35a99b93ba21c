// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records VISCA exchanges to a CBOR stream and reads them
// back. A capture file is a sequence of CBOR maps, one per exchange:
//
//	Key | Type   | Field
//	  1 | bytes  | session id (16 bytes)
//	  2 | string | start time, RFC 3339
//	  3 | bytes  | request packet
//	  4 | bytes  | response packet (absent when none arrived)
//	  5 | string | result (see camera.Result)
//	  6 | string | error text
//	  7 | int    | duration in nanoseconds
//	  8 | bool   | transport was reconnected
package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/Thermoquad/periscope/pkg/camera"
	"github.com/Thermoquad/periscope/pkg/visca"
)

// Record is one captured exchange
type Record struct {
	Session     uuid.UUID     `cbor:"1,keyasint"`
	Time        time.Time     `cbor:"2,keyasint"`
	Request     []byte        `cbor:"3,keyasint"`
	Response    []byte        `cbor:"4,keyasint,omitempty"`
	Result      string        `cbor:"5,keyasint"`
	Error       string        `cbor:"6,keyasint,omitempty"`
	Duration    time.Duration `cbor:"7,keyasint"`
	Reconnected bool          `cbor:"8,keyasint,omitempty"`
}

// NewRecord converts an exchange into a record
func NewRecord(session uuid.UUID, ex camera.Exchange) Record {
	rec := Record{
		Session:     session,
		Time:        ex.Start,
		Request:     ex.Request.Bytes(),
		Result:      camera.Result(ex.Err),
		Duration:    ex.Duration,
		Reconnected: ex.Reconnected,
	}
	if !ex.Response.IsZero() {
		rec.Response = ex.Response.Bytes()
	}
	if ex.Err != nil {
		rec.Error = ex.Err.Error()
	}
	return rec
}

// RequestPacket returns the captured request
func (r Record) RequestPacket() (visca.Packet, error) {
	return visca.NewPacket(r.Request...)
}

// ResponsePacket returns the captured response, or the zero Packet when none
// arrived
func (r Record) ResponsePacket() (visca.Packet, error) {
	if len(r.Response) == 0 {
		return visca.Packet{}, nil
	}
	return visca.NewPacket(r.Response...)
}

// String formats the record as a single line
func (r Record) String() string {
	line := fmt.Sprintf("%s %-12s", r.Time.Format("15:04:05.000"), r.Result)
	if req, err := r.RequestPacket(); err == nil {
		line += " " + visca.FormatPacket(req)
	} else {
		line += fmt.Sprintf(" (bad request % x)", r.Request)
	}
	if resp, err := r.ResponsePacket(); err == nil && !resp.IsZero() {
		line += " -> " + visca.FormatPacket(resp)
	}
	line += fmt.Sprintf(" [%s]", r.Duration.Round(time.Microsecond))
	if r.Error != "" {
		line += " error: " + r.Error
	}
	if r.Reconnected {
		line += " (reconnected)"
	}
	return line
}

var encMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// Recorder writes records to a stream. It is safe for concurrent use.
type Recorder struct {
	session uuid.UUID
	logger  *slog.Logger

	mu    sync.Mutex
	enc   *cbor.Encoder
	count uint64
	err   error
}

// NewRecorder creates a recorder writing to w under a new session id
func NewRecorder(w io.Writer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		session: uuid.New(),
		enc:     encMode.NewEncoder(w),
	}
	r.logger = logger.With("component", "capture", "session", r.session.String())
	return r
}

// Session returns the id stamped on every record
func (r *Recorder) Session() uuid.UUID {
	return r.session
}

// Record writes one exchange. After the first write error every call
// returns that error.
func (r *Recorder) Record(ex camera.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if err := r.enc.Encode(NewRecord(r.session, ex)); err != nil {
		r.err = fmt.Errorf("capture write failed: %w", err)
		return r.err
	}
	r.count++
	return nil
}

// Observe records ex and logs failures. Pass it to camera.WithObserver.
func (r *Recorder) Observe(ex camera.Exchange) {
	if err := r.Record(ex); err != nil {
		r.logger.Warn("exchange not captured", "err", err)
	}
}

// Count returns the number of records written
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write error
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Reader reads records from a capture stream
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a reader over r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to decode capture record: %w", err)
	}
	return rec, nil
}
