// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/periscope/pkg/capture"
)

var captureErrorsOnly bool

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Inspect exchange capture files",
	Long: `Inspect capture files written with --capture.

Every command that talks to a camera accepts --capture FILE and appends one
CBOR record per exchange to FILE.`,
}

var captureDumpCmd = &cobra.Command{
	Use:   "dump FILE",
	Short: "Print every exchange in a capture file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCaptureDump,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.AddCommand(captureDumpCmd)
	captureDumpCmd.Flags().BoolVar(&captureErrorsOnly, "errors", false, "Only print exchanges that did not complete")
}

func runCaptureDump(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	r := capture.NewReader(f)
	sessions := make(map[string]int)
	total, shown := 0, 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", total+1, err)
		}
		total++

		id := rec.Session.String()
		if _, ok := sessions[id]; !ok {
			sessions[id] = len(sessions) + 1
		}
		if captureErrorsOnly && rec.Error == "" {
			continue
		}
		shown++
		fmt.Printf("#%-3d %s\n", sessions[id], rec.String())
	}

	fmt.Printf("\n%d of %d exchanges shown, %d capture session(s)\n", shown, total, len(sessions))
	return nil
}
