// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/periscope/pkg/camera"
	"github.com/Thermoquad/periscope/pkg/visca"
)

var (
	sendRepeat   int
	sendInterval time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send HEX...",
	Short: "Send a raw VISCA packet and print the reply",
	Long: `Send a raw VISCA packet and print the completion.

The packet is given as hex bytes, with or without separators and with or
without the trailing FF terminator:

  periscope --tcp cam1 send 81 09 04 00
  periscope --tcp cam1 send 81-01-06-04-ff

With --repeat the exchange is run several times and a statistics summary is
printed at the end.

Exit codes:
  0 - Every exchange completed
  1 - The camera returned an error reply
  2 - Connection, protocol or timeout error`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVarP(&sendRepeat, "repeat", "n", 1, "Number of times to send the packet")
	sendCmd.Flags().DurationVar(&sendInterval, "interval", 0, "Pause between repeated sends")
}

func runSend(cmd *cobra.Command, args []string) error {
	req, err := parsePacket(args)
	if err != nil {
		return err
	}
	for _, v := range visca.ValidateRequest(req) {
		fmt.Fprintf(os.Stderr, "warning: %s\n", v.Error())
	}

	stats := visca.NewStatistics()
	s, err := openSession(logger, camera.WithObserver(func(ex camera.Exchange) {
		stats.Update(ex.Err)
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Periscope - Send\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Request:    %s\n\n", visca.FormatPacket(req))

	var lastErr error
	for i := 0; i < sendRepeat && ctx.Err() == nil; i++ {
		if i > 0 && sendInterval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(sendInterval):
			}
		}

		start := time.Now()
		resp, err := s.ctrl.Raw(ctx, req)
		elapsed := time.Since(start).Round(time.Microsecond)
		if err != nil {
			lastErr = err
			fmt.Printf("[ERROR] %v (%s)\n", err, elapsed)
			continue
		}
		fmt.Printf("%s (%s)\n", visca.FormatPacket(resp), elapsed)
	}

	if sendRepeat > 1 {
		fmt.Printf("\n%s", stats.String())
	}

	switch {
	case lastErr == nil:
		return nil
	case visca.IsResponseError(lastErr):
		s.Close()
		os.Exit(1)
	default:
		s.Close()
		os.Exit(2)
	}
	return nil
}
