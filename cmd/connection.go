// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/Thermoquad/periscope/pkg/camera"
	"github.com/Thermoquad/periscope/pkg/capture"
	"github.com/Thermoquad/periscope/pkg/transport"
	"github.com/Thermoquad/periscope/pkg/visca"
)

// withDefaultPort appends port to addr when addr names only a host
func withDefaultPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

// transportConfig builds the transport configuration from the connection
// flags. Exactly one connection mode must be given.
func transportConfig() (transport.Config, error) {
	var cfg transport.Config
	modes := 0
	if tcpAddr != "" {
		cfg = transport.Config{Network: transport.NetworkTCP, Address: withDefaultPort(tcpAddr, transport.DefaultTCPPort)}
		modes++
	}
	if udpAddr != "" {
		cfg = transport.Config{Network: transport.NetworkUDP, Address: withDefaultPort(udpAddr, transport.DefaultUDPPort), Format: visca.FormatEncapsulated}
		modes++
	}
	if portName != "" {
		cfg = transport.Config{Network: transport.NetworkSerial, Address: portName, BaudRate: baudRate}
		modes++
	}
	if wsURL != "" {
		cfg = transport.Config{Network: transport.NetworkWebSocket, Address: wsURL}
		modes++
	}
	switch modes {
	case 0:
		return cfg, fmt.Errorf("one of --tcp, --udp, --port or --url must be specified")
	case 1:
	default:
		return cfg, fmt.Errorf("only one of --tcp, --udp, --port or --url may be specified")
	}

	if framing != "" {
		format, ok := visca.ParseFormat(framing)
		if !ok {
			return cfg, fmt.Errorf("unknown framing %q (use raw or encapsulated)", framing)
		}
		cfg.Format = format
	}
	cfg.DialTimeout = commandTimeout
	return cfg, cfg.Validate()
}

// cameraSession is an open client plus the capture file feeding from it
type cameraSession struct {
	client   *camera.Client
	ctrl     *camera.Controller
	connInfo string

	captureFile *os.File
	recorder    *capture.Recorder
}

// openSession opens the configured transport and wraps it in a client and
// controller. Extra client options are applied after the defaults.
func openSession(log *slog.Logger, opts ...camera.Option) (*cameraSession, error) {
	cfg, err := transportConfig()
	if err != nil {
		return nil, err
	}
	t, err := transport.Open(cfg, log)
	if err != nil {
		return nil, err
	}

	s := &cameraSession{connInfo: cfg.String()}
	clientOpts := []camera.Option{camera.WithLogger(log)}
	if capturePath != "" {
		f, err := os.OpenFile(capturePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("failed to open capture file: %w", err)
		}
		s.captureFile = f
		s.recorder = capture.NewRecorder(f, log)
		clientOpts = append(clientOpts, camera.WithObserver(s.recorder.Observe))
	}

	s.client = camera.NewClient(t, append(clientOpts, opts...)...)
	s.ctrl = camera.NewController(s.client,
		camera.WithCommandTimeout(commandTimeout),
		camera.WithControllerLogger(log),
	)
	return s, nil
}

// Close closes the transport and flushes the capture file
func (s *cameraSession) Close() error {
	err := s.client.Close()
	if s.captureFile != nil {
		if cerr := s.captureFile.Close(); err == nil {
			err = cerr
		}
		logger.Info("capture closed", "path", capturePath, "records", s.recorder.Count())
	}
	return err
}

// parsePacket parses hex bytes given as one or more arguments. Spaces,
// dashes and colons between bytes are ignored, and a trailing FF terminator
// is dropped.
func parsePacket(args []string) (visca.Packet, error) {
	joined := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', ':':
			return -1
		}
		return r
	}, strings.Join(args, ""))
	joined = strings.TrimPrefix(strings.ToLower(joined), "0x")

	b, err := hex.DecodeString(joined)
	if err != nil {
		return visca.Packet{}, fmt.Errorf("invalid hex packet %q: %v", strings.Join(args, " "), err)
	}
	if n := len(b); n > 1 && b[n-1] == visca.Terminator {
		b = b[:n-1]
	}
	return visca.NewPacket(b...)
}

// parseInt16 parses a decimal or 0x-prefixed position value
func parseInt16(s string) (int16, error) {
	v, err := strconv.ParseInt(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %v", s, err)
	}
	return int16(v), nil
}
