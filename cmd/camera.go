// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/periscope/pkg/camera"
	"github.com/Thermoquad/periscope/pkg/visca"
)

var (
	panValue    string
	tiltValue   string
	panSpeed    int
	tiltSpeed   int
	zoomSpeed   int
	powerNoWait bool
)

// withController opens a session, runs fn with an interrupt-aware context,
// and closes the session
func withController(fn func(ctx context.Context, ctrl *camera.Controller) error) error {
	s, err := openSession(logger)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return fn(ctx, s.ctrl)
}

//////////////////////////////////////////////////////////////
// Power
//////////////////////////////////////////////////////////////

var powerCmd = &cobra.Command{
	Use:   "power on|off|status",
	Short: "Switch the camera on or off, or report its power state",
	Long: `Switch the camera on or off, or report its power state.

"power on" waits until the camera reports ON, polling the power status once a
second. Use --no-wait to return as soon as the command completes.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, ctrl *camera.Controller) error {
			switch args[0] {
			case "on":
				if powerNoWait {
					_, err := ctrl.Raw(ctx, visca.MustPacket(visca.AddressCamera1, visca.CategoryCommand, visca.GroupCamera, 0x00, byte(visca.PowerOn)))
					return err
				}
				if err := ctrl.PowerOn(ctx); err != nil {
					return err
				}
				fmt.Println("Power: ON")
			case "off":
				if err := ctrl.PowerOff(ctx); err != nil {
					return err
				}
				fmt.Println("Power: STANDBY")
			case "status":
				state, err := ctrl.PowerStatus(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Power: %s\n", visca.FormatPowerState(state))
			default:
				return fmt.Errorf("unknown power action %q (use on, off or status)", args[0])
			}
			return nil
		})
	},
}

//////////////////////////////////////////////////////////////
// Zoom
//////////////////////////////////////////////////////////////

var zoomCmd = &cobra.Command{
	Use:   "zoom [get|set POS|in|out|stop]",
	Short: "Report or drive the zoom position",
	Long: `Report or drive the zoom position.

  zoom            report the zoom position
  zoom set POS    move to POS (0..16384) and wait for it to arrive
  zoom in         zoom towards tele at --speed until "zoom stop"
  zoom out        zoom towards wide at --speed until "zoom stop"
  zoom stop       stop a continuous zoom`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := "get"
		if len(args) > 0 {
			action = args[0]
		}
		if action == "set" && len(args) != 2 {
			return fmt.Errorf("zoom set needs a position")
		}
		return withController(func(ctx context.Context, ctrl *camera.Controller) error {
			switch action {
			case "get":
				pos, err := ctrl.Zoom(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Zoom: %d\n", pos)
				return nil
			case "set":
				pos, err := parseInt16(args[1])
				if err != nil {
					return err
				}
				return ctrl.SetZoom(ctx, pos)
			case "in":
				return ctrl.ContinuousZoom(ctx, int8(max(min(zoomSpeed, 8), 1)))
			case "out":
				return ctrl.ContinuousZoom(ctx, -int8(max(min(zoomSpeed, 8), 1)))
			case "stop":
				return ctrl.ContinuousZoom(ctx, 0)
			}
			return fmt.Errorf("unknown zoom action %q", action)
		})
	},
}

//////////////////////////////////////////////////////////////
// Pan/tilt
//////////////////////////////////////////////////////////////

var panTiltCmd = &cobra.Command{
	Use:   "pantilt [get|set|move|jog]",
	Short: "Report or drive the pan/tilt position",
	Long: `Report or drive the pan/tilt position.

  pantilt                              report the position
  pantilt set  --pan P --tilt T        move to an absolute position
  pantilt move --pan P --tilt T        move by an offset
  pantilt jog  --pan P --tilt T        drive continuously; values are signed
                                       speeds, positive is right/up

Pan and tilt accept decimal or 0x-prefixed values; negative values are fine
after the flag (--pan -900). --speed-pan and --speed-tilt set the drive speed
for set and move.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := "get"
		if len(args) > 0 {
			action = args[0]
		}
		var pos camera.PanTilt
		if action != "get" {
			var err error
			if pos.Pan, err = parseInt16(panValue); err != nil {
				return err
			}
			if pos.Tilt, err = parseInt16(tiltValue); err != nil {
				return err
			}
		}
		speed := camera.Speed{Pan: byte(max(min(panSpeed, 0xFF), 0)), Tilt: byte(max(min(tiltSpeed, 0xFF), 0))}

		return withController(func(ctx context.Context, ctrl *camera.Controller) error {
			switch action {
			case "get":
				pos, err := ctrl.PanTilt(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Pan: %d  Tilt: %d\n", pos.Pan, pos.Tilt)
				return nil
			case "set":
				return ctrl.SetPanTilt(ctx, pos, speed)
			case "move":
				return ctrl.RelativePanTilt(ctx, pos, speed)
			case "jog":
				return ctrl.ContinuousPanTilt(ctx, clampInt8(pos.Pan), clampInt8(pos.Tilt))
			}
			return fmt.Errorf("unknown pantilt action %q", action)
		})
	},
}

func clampInt8(v int16) int8 {
	return int8(max(min(v, 127), -128))
}

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Move pan/tilt to the home position",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, ctrl *camera.Controller) error {
			return ctrl.Home(ctx)
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Re-initialize pan/tilt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, ctrl *camera.Controller) error {
			return ctrl.Reset(ctx)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop continuous pan/tilt and zoom",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, ctrl *camera.Controller) error {
			return ctrl.Stop(ctx)
		})
	},
}

func init() {
	powerCmd.Flags().BoolVar(&powerNoWait, "no-wait", false, "Do not wait for the camera to report ON")

	zoomCmd.Flags().IntVar(&zoomSpeed, "speed", 4, "Continuous zoom speed (1-8)")

	panTiltCmd.Flags().StringVar(&panValue, "pan", "0", "Pan position, offset or jog speed")
	panTiltCmd.Flags().StringVar(&tiltValue, "tilt", "0", "Tilt position, offset or jog speed")
	panTiltCmd.Flags().IntVar(&panSpeed, "speed-pan", visca.PanSpeedMax, "Pan drive speed (1-"+strconv.Itoa(visca.PanSpeedMax)+")")
	panTiltCmd.Flags().IntVar(&tiltSpeed, "speed-tilt", visca.TiltSpeedMax, "Tilt drive speed (1-"+strconv.Itoa(visca.TiltSpeedMax)+")")

	rootCmd.AddCommand(powerCmd, zoomCmd, panTiltCmd, homeCmd, resetCmd, stopCmd)
}
