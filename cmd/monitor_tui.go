// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/Thermoquad/resinstat/pkg/coordinator"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	commandTimeout   = 30 * time.Second
	maxMonitorEvents = 100
	eventLogHeight   = 8
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// eventLogEntry is one line of the event log
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	// coord is nil when reading from a bridge; job control is direct mode only
	coord    *coordinator.Coordinator
	connInfo string

	snapshot *coordinator.Snapshot
	lastErr  error

	progress progress.Model
	spinner  spinner.Model

	eventLog      []eventLogEntry
	maxLogEntries int

	// UI state
	width          int
	height         int
	busy           bool
	confirmStop    bool
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type snapshotMsg struct {
	snapshot *coordinator.Snapshot
}

type refreshErrorMsg struct {
	err error
}

type commandResultMsg struct {
	command string
	err     error
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(coord *coordinator.Coordinator, connInfo string) monitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return monitorModel{
		coord:         coord,
		connInfo:      connInfo,
		progress:      progress.New(progress.WithDefaultGradient()),
		spinner:       s,
		maxLogEntries: maxMonitorEvents,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = progressWidth(msg.Width)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.applySnapshot(msg.snapshot)

	case refreshErrorMsg:
		m.lastErr = msg.err
		m.addLogEntry(fmt.Sprintf("Refresh failed: %v", msg.err), true)

	case commandResultMsg:
		m.busy = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.command, msg.err), true)
			return m, nil
		}
		m.addLogEntry(fmt.Sprintf("%s accepted", msg.command), false)
		return m, m.refreshCmd()

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if m.confirmStop {
		m.confirmStop = false
		if key == "y" {
			return m.sendCommand(coordinator.CommandStop)
		}
		m.addLogEntry("Stop cancelled", false)
		return m, nil
	}

	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "r":
		if m.coord == nil {
			return m, nil
		}
		m.addLogEntry("Refreshing", false)
		return m, m.refreshCmd()

	case "p":
		switch m.snapshot.Code() {
		case anycubic.StatusPrinting:
			return m.sendCommand(coordinator.CommandPause)
		case anycubic.StatusPaused:
			return m.sendCommand(coordinator.CommandResume)
		default:
			m.addLogEntry("No print to pause or resume", true)
		}

	case "s":
		if !m.snapshot.Code().HasJob() {
			m.addLogEntry("No print to stop", true)
			return m, nil
		}
		if m.coord == nil {
			m.addLogEntry("Job control is not available through a bridge", true)
			return m, nil
		}
		m.confirmStop = true
	}

	return m, nil
}

// sendCommand runs a job command in the background
func (m monitorModel) sendCommand(command string) (tea.Model, tea.Cmd) {
	if m.coord == nil {
		m.addLogEntry("Job control is not available through a bridge", true)
		return m, nil
	}
	if m.busy {
		m.addLogEntry("Another command is in progress", true)
		return m, nil
	}
	m.busy = true
	m.addLogEntry(fmt.Sprintf("Sending %s", command), false)

	coord := m.coord
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return commandResultMsg{command: command, err: coord.SendCommand(ctx, command, "")}
	}
}

func (m monitorModel) refreshCmd() tea.Cmd {
	if m.coord == nil {
		return nil
	}
	coord := m.coord
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return refreshMsg(ctx, coord)
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
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

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	helpText := "q=quit"
	if m.coord != nil {
		helpText = "q=quit r=refresh p=pause/resume s=stop"
	}
	s.WriteString(titleStyle.Render("RESINSTAT MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", connStatus, helpText)))
	s.WriteString("\n\n")

	if m.confirmStop {
		s.WriteString(warningStyle.Render("Stop the current print? (y/N)"))
		s.WriteString("\n\n")
	}

	if m.snapshot == nil {
		s.WriteString(m.spinner.View())
		s.WriteString(warningStyle.Render(" Waiting for printer data..."))
		s.WriteString("\n\n")
	} else {
		s.WriteString(m.renderPrinter(labelStyle, valueStyle, headerStyle, boxStyle))
		s.WriteString("\n")
		s.WriteString(m.renderJob(labelStyle, valueStyle, headerStyle, boxStyle))
		s.WriteString("\n")
	}

	s.WriteString(m.renderEventLog(labelStyle, warningStyle, headerStyle, boxStyle))
	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderPrinter(labelStyle, valueStyle, headerStyle, boxStyle lipgloss.Style) string {
	snap := m.snapshot
	var content strings.Builder

	content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Name:"), valueStyle.Render(snap.Name),
		labelStyle.Render("State:"), valueStyle.Render(snap.StateLabel())))
	if snap.Info != nil {
		content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			labelStyle.Render("Model:"), valueStyle.Render(snap.Info.Model),
			labelStyle.Render("Firmware:"), valueStyle.Render(snap.Info.FirmwareVersion),
			labelStyle.Render("Wi-Fi:"), valueStyle.Render(snap.Info.WifiSSID)))
	}
	content.WriteString(fmt.Sprintf("%s %s   %s",
		labelStyle.Render("Files:"), valueStyle.Render(fmt.Sprintf("%d", len(snap.Files))),
		headerStyle.Render("updated "+snap.LastRead.Local().Format("15:04:05"))))
	if m.coord != nil {
		stats := m.coord.Statistics()
		content.WriteString(headerStyle.Render(fmt.Sprintf(" | %d refreshes, %d failed", stats.Total, stats.Errors())))
	}

	return m.box(boxStyle).Render(content.String())
}

func (m monitorModel) renderJob(labelStyle, valueStyle, headerStyle, boxStyle lipgloss.Style) string {
	snap := m.snapshot
	var content strings.Builder
	content.WriteString(labelStyle.Render("JOB"))
	content.WriteString("\n")

	pct, hasPct := snap.JobPercentage()
	if !hasPct {
		content.WriteString(headerStyle.Render("  (no print in progress)"))
		return m.box(boxStyle).Render(content.String())
	}

	if snap.Status.Job != nil {
		job := snap.Status.Job
		content.WriteString(fmt.Sprintf("%s %s (%s)\n",
			labelStyle.Render("File:"), valueStyle.Render(job.FileName), job.FileNumber))
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			labelStyle.Render("Layer:"), valueStyle.Render(fmt.Sprintf("%d/%d", job.CurrentLayer, job.TotalLayers)),
			labelStyle.Render("Resin:"), valueStyle.Render(strings.TrimSpace(job.Resin+" "+job.Material))))
		content.WriteString(fmt.Sprintf("%s %s",
			labelStyle.Render("Remaining:"), valueStyle.Render(anycubic.FormatDuration(job.TimeRemaining))))
		if finish, ok := snap.EstimatedFinish(); ok {
			content.WriteString(fmt.Sprintf("   %s %s",
				labelStyle.Render("ETA:"), valueStyle.Render(finish.Local().Format("15:04"))))
		}
		content.WriteString("\n")
	}
	content.WriteString(m.progress.ViewAs(float64(pct) / 100))

	return m.box(boxStyle).Render(content.String())
}

func (m monitorModel) renderEventLog(labelStyle, warningStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	startIdx := len(m.eventLog) - eventLogHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05")),
				style.Render(icon),
				entry.message))
		}
	}

	return m.box(boxStyle).Render(s.String())
}

func (m monitorModel) box(style lipgloss.Style) lipgloss.Style {
	if m.width > 4 {
		return style.Width(m.width - 4)
	}
	return style
}

func progressWidth(termWidth int) int {
	w := termWidth - 8
	if w > 60 {
		w = 60
	}
	if w < 10 {
		w = 10
	}
	return w
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

// applySnapshot stores snap and logs state changes
func (m *monitorModel) applySnapshot(snap *coordinator.Snapshot) {
	if snap == nil {
		return
	}
	prev := m.snapshot
	m.snapshot = snap
	m.lastErr = nil

	if prev == nil {
		m.addLogEntry(fmt.Sprintf("Connected: %s", snap.StateLabel()), false)
		return
	}
	if prev.Code() != snap.Code() {
		m.addLogEntry(fmt.Sprintf("State changed: %s -> %s", prev.StateLabel(), snap.StateLabel()), false)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}
