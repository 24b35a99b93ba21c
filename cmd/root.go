// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Network connection flags
	tcpAddr string
	udpAddr string
	framing string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL string

	// Exchange flags
	commandTimeout time.Duration
	capturePath    string
	logLevel       string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "periscope",
	Short: "VISCA PTZ Camera Toolkit",
	Long: `Periscope - A CLI tool for driving and simulating VISCA pan/tilt/zoom cameras.

Provides one-shot camera commands, a raw packet sender, an interactive jog
controller, and a protocol-conformant camera simulator.

Connection modes:
  TCP:       --tcp host[:port]           (raw framing, default port 5678)
  UDP:       --udp host[:port]           (VISCA over IP, default port 52381)
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path

Every connection flag also reads a PERISCOPE_* environment variable
(PERISCOPE_TCP, PERISCOPE_UDP, PERISCOPE_PORT, PERISCOPE_URL,
PERISCOPE_FRAMING, PERISCOPE_LOG_LEVEL) when the flag is not given.`,
	Version:      "0.3.0",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger()
	},
}

func init() {
	// Network connection flags
	rootCmd.PersistentFlags().StringVar(&tcpAddr, "tcp", os.Getenv("PERISCOPE_TCP"), "Camera TCP address (host[:port])")
	rootCmd.PersistentFlags().StringVar(&udpAddr, "udp", os.Getenv("PERISCOPE_UDP"), "Camera UDP address (host[:port])")
	rootCmd.PersistentFlags().StringVar(&framing, "framing", envDefault("PERISCOPE_FRAMING", ""), "Message framing: raw or encapsulated (default raw, encapsulated for --udp)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", os.Getenv("PERISCOPE_PORT"), "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", os.Getenv("PERISCOPE_URL"), "WebSocket URL (ws:// or wss://)")

	// Exchange flags
	rootCmd.PersistentFlags().DurationVar(&commandTimeout, "timeout", 5*time.Second, "Timeout for each exchange")
	rootCmd.PersistentFlags().StringVar(&capturePath, "capture", "", "Append every exchange to this CBOR capture file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envDefault("PERISCOPE_LOG_LEVEL", "warn"), "Log level: debug, info, warn, error")
}

func envDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// setupLogger installs the process logger at the configured level
func setupLogger() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %v", logLevel, err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
