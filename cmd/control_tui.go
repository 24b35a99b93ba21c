// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/periscope/pkg/camera"
	"github.com/Thermoquad/periscope/pkg/visca"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	statusPollInterval = 500 * time.Millisecond
	defaultJogSpeed    = 8
	defaultZoomSpeed   = 4
	maxZoomSpeed       = 8
)

// Focus states
const (
	focusJog = iota
	focusRaw
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// cameraStatus is the last polled camera state
type cameraStatus struct {
	power    visca.PowerState
	position camera.PanTilt
	zoom     int16
	polledAt time.Time
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	ctrl     *camera.Controller
	connInfo string

	// Polled state
	status    cameraStatus
	hasStatus bool
	statusErr error
	polling   bool

	// Motion requested from the keyboard
	panDir    int8
	tiltDir   int8
	zoomDir   int8
	jogSpeed  int8
	zoomSpeed int8

	// Monitoring
	stats         *visca.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int

	// Raw packet entry
	rawInput     textinput.Model
	focusedField int

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type statusTickMsg time.Time

type statusMsg struct {
	status cameraStatus
	err    error
}

// exchangeMsg is sent by the client observer after every exchange
type exchangeMsg camera.Exchange

type commandDoneMsg struct {
	label string
	err   error
}

type rawReplyMsg struct {
	request  visca.Packet
	response visca.Packet
	err      error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(ctrl *camera.Controller, connInfo string) controlModel {
	ti := textinput.New()
	ti.Placeholder = "81 09 04 00"
	ti.CharLimit = 64
	ti.Width = 48

	return controlModel{
		ctrl:          ctrl,
		connInfo:      connInfo,
		jogSpeed:      defaultJogSpeed,
		zoomSpeed:     defaultZoomSpeed,
		stats:         visca.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		rawInput:      ti,
		focusedField:  focusJog,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(m.pollStatus(), statusTickCmd())
}

func statusTickCmd() tea.Cmd {
	return tea.Tick(statusPollInterval, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case statusTickMsg:
		m.stats.CalculateRates()
		if m.polling {
			return m, statusTickCmd()
		}
		m.polling = true
		return m, tea.Batch(m.pollStatus(), statusTickCmd())

	case statusMsg:
		m.polling = false
		if msg.err != nil {
			if m.statusErr == nil {
				m.addLogEntry(fmt.Sprintf("Status poll failed: %v", msg.err), true)
			}
			m.statusErr = msg.err
			return m, nil
		}
		if m.statusErr != nil {
			m.addLogEntry("Status poll recovered", false)
		}
		m.statusErr = nil
		m.status = msg.status
		m.hasStatus = true

	case exchangeMsg:
		m.stats.Update(msg.Err)
		if msg.Reconnected {
			m.addLogEntry(fmt.Sprintf("%s: %v (reconnected)", visca.FormatCommand(msg.Request), msg.Err), true)
		}

	case commandDoneMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.label, msg.err), true)
		} else {
			m.addLogEntry(msg.label, false)
		}

	case rawReplyMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", visca.FormatPacket(msg.request), msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("%s -> %s", msg.request, visca.FormatPacket(msg.response)), false)
		}
	}

	if m.focusedField == focusRaw {
		var cmd tea.Cmd
		m.rawInput, cmd = m.rawInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "tab", "shift+tab":
		return m.toggleFocus(), nil
	}

	if m.focusedField == focusRaw {
		switch msg.String() {
		case "esc":
			return m.toggleFocus(), nil
		case "enter":
			return m.sendRaw()
		}
		var cmd tea.Cmd
		m.rawInput, cmd = m.rawInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "left":
		m.panDir = -1
		return m, m.jog()
	case "right":
		m.panDir = 1
		return m, m.jog()
	case "up":
		m.tiltDir = 1
		return m, m.jog()
	case "down":
		m.tiltDir = -1
		return m, m.jog()

	case " ":
		m.panDir, m.tiltDir, m.zoomDir = 0, 0, 0
		return m, m.run("Stop", m.ctrl.Stop)

	case "+", "=":
		m.zoomDir = 1
		return m, m.zoom()
	case "-":
		m.zoomDir = -1
		return m, m.zoom()
	case "z":
		m.zoomDir = 0
		return m, m.zoom()

	case "[":
		m.jogSpeed = max(m.jogSpeed-1, 1)
		return m, m.jog()
	case "]":
		m.jogSpeed = min(m.jogSpeed+1, visca.TiltSpeedMax)
		return m, m.jog()
	case "{":
		m.zoomSpeed = max(m.zoomSpeed-1, 1)
		return m, m.zoom()
	case "}":
		m.zoomSpeed = min(m.zoomSpeed+1, maxZoomSpeed)
		return m, m.zoom()

	case "H":
		m.panDir, m.tiltDir = 0, 0
		return m, m.run("Home", m.ctrl.Home)
	case "R":
		m.panDir, m.tiltDir = 0, 0
		return m, m.run("Reset", m.ctrl.Reset)

	case "p":
		if m.hasStatus && m.status.power == visca.PowerOn {
			return m, m.run("Power off", m.ctrl.PowerOff)
		}
		m.addLogEntry("Powering on...", false)
		return m, m.run("Power on", m.ctrl.PowerOn)
	}
	return m, nil
}

func (m controlModel) toggleFocus() controlModel {
	if m.focusedField == focusJog {
		m.focusedField = focusRaw
		m.rawInput.Focus()
	} else {
		m.focusedField = focusJog
		m.rawInput.Blur()
	}
	return m
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// run performs one controller call in the background
func (m controlModel) run(label string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return commandDoneMsg{label: label, err: fn(context.Background())}
	}
}

// jog applies the current pan/tilt direction at the current speed. Moving
// axes stay silent in the event log; only failures are logged.
func (m controlModel) jog() tea.Cmd {
	if m.panDir == 0 && m.tiltDir == 0 {
		return nil
	}
	ctrl, pan, tilt := m.ctrl, m.panDir*m.jogSpeed, m.tiltDir*m.jogSpeed
	return func() tea.Msg {
		if err := ctrl.ContinuousPanTilt(context.Background(), pan, tilt); err != nil {
			return commandDoneMsg{label: fmt.Sprintf("Jog (%d,%d)", pan, tilt), err: err}
		}
		return nil
	}
}

func (m controlModel) zoom() tea.Cmd {
	ctrl, speed := m.ctrl, m.zoomDir*m.zoomSpeed
	return func() tea.Msg {
		if err := ctrl.ContinuousZoom(context.Background(), speed); err != nil {
			return commandDoneMsg{label: fmt.Sprintf("Zoom %d", speed), err: err}
		}
		return nil
	}
}

func (m controlModel) sendRaw() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.rawInput.Value())
	if text == "" {
		return m, nil
	}
	req, err := parsePacket(strings.Fields(text))
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}
	m.rawInput.SetValue("")

	ctrl := m.ctrl
	return m, func() tea.Msg {
		resp, err := ctrl.Raw(context.Background(), req)
		return rawReplyMsg{request: req, response: resp, err: err}
	}
}

// pollStatus reads power, then position and zoom while the camera is on
func (m controlModel) pollStatus() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx := context.Background()
		var st cameraStatus
		var err error
		if st.power, err = ctrl.PowerStatus(ctx); err != nil {
			return statusMsg{err: err}
		}
		if st.power == visca.PowerOn {
			if st.position, err = ctrl.PanTilt(ctx); err != nil {
				return statusMsg{err: err}
			}
			if st.zoom, err = ctrl.Zoom(ctx); err != nil {
				return statusMsg{err: err}
			}
		}
		st.polledAt = time.Now()
		return statusMsg{status: st}
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Stopping camera...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("PERISCOPE CONTROL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=raw", m.connInfo)))
	s.WriteString("\n\n")

	// Camera status | motion
	statusPanel := boxStyle.Width(36).Render(m.renderStatus(labelStyle, valueStyle, warningStyle, errorStyle))
	motionStyle := boxStyle
	if m.focusedField == focusJog {
		motionStyle = focusedBoxStyle
	}
	motionPanel := motionStyle.Width(max(m.width-36-8, 24)).Render(m.renderMotion(labelStyle, valueStyle, headerStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, statusPanel, " ", motionPanel))
	s.WriteString("\n")

	// Raw packet entry
	rawStyle := boxStyle
	if m.focusedField == focusRaw {
		rawStyle = focusedBoxStyle
	}
	s.WriteString(rawStyle.Width(m.width - 4).Render(labelStyle.Render("Raw: ") + m.rawInput.View()))
	s.WriteString("\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle))
	s.WriteString("\n")

	// Event log
	s.WriteString(m.renderEventLog(labelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderStatus(labelStyle, valueStyle, warningStyle, errorStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("CAMERA"))
	s.WriteString("\n")

	if !m.hasStatus {
		s.WriteString(warningStyle.Render("Waiting for camera..."))
		return s.String()
	}

	power := valueStyle.Render(visca.FormatPowerState(m.status.power))
	if m.status.power != visca.PowerOn {
		power = warningStyle.Render(visca.FormatPowerState(m.status.power))
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Power:"), power))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Pan:  "), valueStyle.Render(fmt.Sprintf("%6d", m.status.position.Pan))))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Tilt: "), valueStyle.Render(fmt.Sprintf("%6d", m.status.position.Tilt))))
	s.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Zoom: "), valueStyle.Render(fmt.Sprintf("%6d", m.status.zoom))))

	if m.statusErr != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("stale: poll failing"))
	}
	return s.String()
}

func (m controlModel) renderMotion(labelStyle, valueStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("MOTION"))
	s.WriteString("\n")

	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Jog: "), valueStyle.Render(jogDirection(m.panDir, m.tiltDir))))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Zoom:"), valueStyle.Render(zoomDirection(m.zoomDir))))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Speed:"), valueStyle.Render(fmt.Sprintf("jog %d/%d  zoom %d/%d", m.jogSpeed, visca.TiltSpeedMax, m.zoomSpeed, maxZoomSpeed))))
	s.WriteString(headerStyle.Render("arrows jog  space stop  +/- zoom  [/] speed  H home  p power"))
	return s.String()
}

func jogDirection(pan, tilt int8) string {
	var parts []string
	switch {
	case tilt > 0:
		parts = append(parts, "up")
	case tilt < 0:
		parts = append(parts, "down")
	}
	switch {
	case pan > 0:
		parts = append(parts, "right")
	case pan < 0:
		parts = append(parts, "left")
	}
	if len(parts) == 0 {
		return "stopped"
	}
	return strings.Join(parts, "-")
}

func zoomDirection(dir int8) string {
	switch {
	case dir > 0:
		return "tele"
	case dir < 0:
		return "wide"
	}
	return "stopped"
}

func (m controlModel) renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var completedPercent, errorPercent float64
	if m.stats.TotalExchanges > 0 {
		completedPercent = float64(m.stats.Completed) * 100.0 / float64(m.stats.TotalExchanges)
		errorPercent = float64(m.stats.Errors()) * 100.0 / float64(m.stats.TotalExchanges)
	}

	errText := valueStyle.Render("0.0%")
	if errorPercent > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Total:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalExchanges)),
		labelStyle.Render("Completed:"), valueStyle.Render(fmt.Sprintf("%.1f%%", completedPercent)),
		labelStyle.Render("Errors:"), errText,
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f ex/s", m.stats.ExchangeRate)),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(labelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	// Whatever height the panels above leave over
	logHeight := max(m.height-22, 4)
	startIdx := max(len(m.errorLog)-logHeight, 0)

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.errorLog[startIdx:] {
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}
