// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/Thermoquad/periscope/pkg/simulator"
	"github.com/Thermoquad/periscope/pkg/transport"
	"github.com/Thermoquad/periscope/pkg/visca"
)

var (
	simTCPListen  string
	simUDPListen  string
	simUDPFraming string
	simSerialPort string
	simAdminAddr  string
	simBootDelay  time.Duration
	simTick       time.Duration
	simStandby    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated VISCA camera",
	Long: `Run a simulated pan/tilt/zoom camera that answers VISCA requests.

The simulator listens on TCP (raw framing) and UDP (encapsulated framing by
default) and can also serve a serial port. Moves run in real time, so an
absolute move completes only once the simulated head arrives.

The admin HTTP server exposes:
  /healthz   liveness
  /state     JSON snapshot of position, velocity and power
  /history   recent requests with their session ids
  /metrics   Prometheus metrics
  /visca     VISCA over WebSocket (binary frames)

Pass an empty address to disable a listener.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simTCPListen, "listen-tcp", ":"+strconv.Itoa(transport.DefaultTCPPort), "TCP listen address")
	simulateCmd.Flags().StringVar(&simUDPListen, "listen-udp", ":"+strconv.Itoa(transport.DefaultUDPPort), "UDP listen address")
	simulateCmd.Flags().StringVar(&simUDPFraming, "udp-framing", "encapsulated", "UDP framing: raw or encapsulated")
	simulateCmd.Flags().StringVar(&simSerialPort, "serial", "", "Also serve this serial port (uses --baud)")
	simulateCmd.Flags().StringVar(&simAdminAddr, "admin", ":8080", "Admin HTTP listen address")
	simulateCmd.Flags().DurationVar(&simBootDelay, "boot-delay", 0, "Time the camera takes to boot after power on")
	simulateCmd.Flags().DurationVar(&simTick, "tick", simulator.DefaultTick, "Motion update interval")
	simulateCmd.Flags().BoolVar(&simStandby, "standby", false, "Start in standby instead of powered on")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	udpFormat, ok := visca.ParseFormat(simUDPFraming)
	if !ok {
		return fmt.Errorf("unknown --udp-framing %q", simUDPFraming)
	}

	opts := []simulator.Option{
		simulator.WithLogger(logger),
		simulator.WithTick(simTick),
		simulator.WithBootDelay(simBootDelay),
	}
	if simStandby {
		opts = append(opts, simulator.WithPower(visca.PowerOff))
	}
	d := simulator.NewDevice(opts...)
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Periscope - Camera Simulator\n")

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
		stop()
	}
	run := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				fail(err)
			}
		}()
	}

	if simTCPListen != "" {
		ln, err := net.Listen("tcp", simTCPListen)
		if err != nil {
			return fmt.Errorf("failed to listen on TCP %s: %w", simTCPListen, err)
		}
		fmt.Printf("TCP:    %s (raw)\n", ln.Addr())
		run(func() error { return d.ServeTCP(ctx, ln) })
	}

	if simUDPListen != "" {
		pc, err := net.ListenPacket("udp", simUDPListen)
		if err != nil {
			return fmt.Errorf("failed to listen on UDP %s: %w", simUDPListen, err)
		}
		fmt.Printf("UDP:    %s (%s)\n", pc.LocalAddr(), udpFormat)
		run(func() error { return d.ServeUDP(ctx, pc, udpFormat) })
	}

	if simSerialPort != "" {
		port, err := serial.Open(simSerialPort, &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return fmt.Errorf("failed to open serial port %s: %w", simSerialPort, err)
		}
		fmt.Printf("Serial: %s @ %d baud\n", simSerialPort, baudRate)
		run(func() error {
			d.ServeConn(ctx, port)
			return nil
		})
	}

	if simAdminAddr != "" {
		srv := &http.Server{
			Addr:              simAdminAddr,
			Handler:           d.AdminRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		fmt.Printf("Admin:  http://%s\n", simAdminAddr)
		run(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		context.AfterFunc(ctx, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
	}

	fmt.Printf("Press Ctrl+C to exit\n\n")
	<-ctx.Done()
	wg.Wait()

	s := d.State()
	fmt.Printf("Served %d requests over %d sessions\n", s.Requests, s.SessionsOpened)
	return firstErr
}
