// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/periscope/pkg/camera"
	"github.com/Thermoquad/periscope/pkg/simulator"
	"github.com/Thermoquad/periscope/pkg/visca"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordRoundTrip(t *testing.T) {
	start := time.Date(2025, 3, 14, 15, 9, 26, 535000000, time.UTC)
	exchanges := []camera.Exchange{
		{
			Start:    start,
			Duration: 3 * time.Millisecond,
			Request:  visca.MustPacket(0x81, 0x09, 0x04, 0x00),
			Response: visca.MustPacket(0x90, 0x50, 0x02),
		},
		{
			Start:       start.Add(time.Second),
			Duration:    time.Millisecond,
			Request:     visca.MustPacket(0x81, 0x01, 0x04, 0x99),
			Response:    visca.MustPacket(0x90, 0x61, 0x41),
			Err:         &visca.ResponseError{Response: visca.MustPacket(0x90, 0x61, 0x41)},
			Reconnected: true,
		},
		{
			Start:       start.Add(2 * time.Second),
			Duration:    5 * time.Second,
			Request:     visca.MustPacket(0x81, 0x01, 0x06, 0x04),
			Err:         context.DeadlineExceeded,
			Reconnected: true,
		},
	}

	var buf bytes.Buffer
	rec := NewRecorder(&buf, quietLogger())
	for _, ex := range exchanges {
		if err := rec.Record(ex); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}
	if rec.Count() != uint64(len(exchanges)) {
		t.Errorf("Count() = %d, want %d", rec.Count(), len(exchanges))
	}

	r := NewReader(&buf)
	for i, ex := range exchanges {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next() #%d failed: %v", i, err)
		}
		if got.Session != rec.Session() {
			t.Errorf("#%d Session = %s, want %s", i, got.Session, rec.Session())
		}
		if !got.Time.Equal(ex.Start) {
			t.Errorf("#%d Time = %v, want %v", i, got.Time, ex.Start)
		}
		if got.Duration != ex.Duration {
			t.Errorf("#%d Duration = %v, want %v", i, got.Duration, ex.Duration)
		}
		if req, _ := got.RequestPacket(); req != ex.Request {
			t.Errorf("#%d Request = %s, want %s", i, req, ex.Request)
		}
		if resp, _ := got.ResponsePacket(); resp != ex.Response {
			t.Errorf("#%d Response = %s, want %s", i, resp, ex.Response)
		}
		if got.Result != camera.Result(ex.Err) {
			t.Errorf("#%d Result = %s, want %s", i, got.Result, camera.Result(ex.Err))
		}
		if got.Reconnected != ex.Reconnected {
			t.Errorf("#%d Reconnected = %v, want %v", i, got.Reconnected, ex.Reconnected)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf, quietLogger())
	rec.Record(camera.Exchange{Start: time.Now(), Request: visca.MustPacket(0x81, 0x09, 0x04, 0x00)})

	data := buf.Bytes()
	r := NewReader(bytes.NewReader(data[:len(data)-3]))
	_, err := r.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("Next() on truncated record = %v, want decode error", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRecorder_StickyError(t *testing.T) {
	rec := NewRecorder(failingWriter{}, quietLogger())
	ex := camera.Exchange{Request: visca.MustPacket(0x81, 0x09, 0x04, 0x00)}

	if err := rec.Record(ex); err == nil {
		t.Fatal("Record() should fail on a failing writer")
	}
	rec.Observe(ex)
	if rec.Err() == nil || rec.Count() != 0 {
		t.Errorf("Err() = %v, Count() = %d, want error and no records", rec.Err(), rec.Count())
	}
}

func TestRecordString(t *testing.T) {
	rec := Record{
		Time:     time.Date(2025, 1, 2, 3, 4, 5, 6000000, time.UTC),
		Request:  []byte{0x81, 0x09, 0x04, 0x00},
		Response: []byte{0x90, 0x50, 0x02},
		Result:   camera.ResultCompleted,
		Duration: 1500 * time.Microsecond,
	}
	want := "03:04:05.006 completed    81-09-04-00 POWER_INQUIRY -> 90-50-02 COMPLETED data=1 bytes [1.5ms]"
	if got := rec.String(); got != want {
		t.Errorf("String() =\n%q\nwant\n%q", got, want)
	}
}

func TestRecorderAsObserver(t *testing.T) {
	d := simulator.NewDevice(simulator.WithTick(time.Millisecond), simulator.WithLogger(quietLogger()))
	defer d.Close()

	var buf bytes.Buffer
	rec := NewRecorder(&buf, quietLogger())
	c := camera.NewClient(simulator.NewLoopback(d),
		camera.WithLogger(quietLogger()),
		camera.WithObserver(rec.Observe),
	)
	defer c.Close()
	ctrl := camera.NewController(c)
	ctx := context.Background()

	ctrl.PowerStatus(ctx)
	ctrl.Home(ctx)
	c.Send(ctx, visca.MustPacket(0x81, 0x01, 0x04, 0x99, 0x00))

	var lines []string
	r := NewReader(&buf)
	for {
		got, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		lines = append(lines, got.String())
	}
	if len(lines) != 3 {
		t.Fatalf("captured %d records, want 3", len(lines))
	}
	for i, want := range []string{"POWER_INQUIRY", "PAN_TILT_HOME", "NOT_EXECUTABLE"} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("record %d = %q, want it to mention %s", i, lines[i], want)
		}
	}
}
