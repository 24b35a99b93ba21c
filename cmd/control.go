// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/periscope/pkg/camera"
)

var controlMetricsAddr string

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for jogging a camera",
	Long: `Drive a camera from an interactive terminal UI.

Features:
  - Live power, pan/tilt and zoom readout
  - Continuous pan/tilt and zoom from the keyboard
  - Home, reset and power commands
  - Raw packet entry
  - Exchange statistics and an event log

Keys:
  arrows       jog pan/tilt (press again to keep going)
  space        stop all motion
  + / -        zoom in / out
  z            stop zoom
  [ / ]        jog speed down / up
  H / R        home / reset
  p            toggle power
  tab          switch to the raw packet field
  q            quit (motion is stopped on exit)

With --metrics the exchange metrics are served for Prometheus while the TUI
runs.`,
	Args: cobra.NoArgs,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().StringVar(&controlMetricsAddr, "metrics", "", "Serve exchange metrics on this address (e.g. :9100)")
}

func runControl(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("control needs an interactive terminal")
	}

	// Log lines would tear the alt screen; failures reach the event log
	// through the exchange observer instead
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	var p *tea.Program
	opts := []camera.Option{
		camera.WithObserver(func(ex camera.Exchange) {
			p.Send(exchangeMsg(ex))
		}),
	}

	if controlMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, camera.WithMetrics(camera.NewMetrics(reg)))
		srv := &http.Server{
			Addr:              controlMetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		defer srv.Close()
		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
		case <-time.After(50 * time.Millisecond):
		}
	}

	s, err := openSession(quiet, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	m := initialControlModel(s.ctrl, s.connInfo)
	p = tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	// Leave the camera still
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := s.ctrl.Stop(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "stop on exit failed: %v\n", err)
	}
	return nil
}
