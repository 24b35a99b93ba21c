// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Periscope - VISCA PTZ Camera Toolkit
//
// A CLI tool for driving VISCA pan/tilt/zoom cameras over TCP, UDP, serial
// or WebSocket links, and for simulating one.

package main

import (
	"os"

	"github.com/Thermoquad/periscope/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
