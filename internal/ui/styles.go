// Package ui provides consistent styling and components for the waykms CLI
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	// Primary colors
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorInfo      = lipgloss.Color("86")  // Cyan

	// Neutral colors
	ColorText      = lipgloss.Color("252") // Light gray
	ColorSubtle    = lipgloss.Color("241") // Medium gray
	ColorMuted     = lipgloss.Color("238") // Dark gray
	ColorHighlight = lipgloss.Color("255") // White

	// Status colors
	ColorConnected    = ColorSuccess
	ColorDisconnected = ColorError
	ColorActive       = ColorPrimary
	ColorInactive     = ColorSubtle
)

// Base styles - building blocks for other styles
var (
	TextStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	SubheaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSubtle).
			Padding(1, 2)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)

	ControlKeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	ControlDescStyle = lipgloss.NewStyle().
				Foreground(ColorText)
)

// Connection indicators
var (
	ConnectedIndicator = lipgloss.NewStyle().
				Foreground(ColorConnected).
				Render("●")

	DisconnectedIndicator = lipgloss.NewStyle().
				Foreground(ColorDisconnected).
				Render("○")
)

// Icons shared by every command
var (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "!"
	IconSetup   = "»"
	IconPhase   = "·"
	IconArrow   = "→"
)

// FormatControl renders a key binding hint.
func FormatControl(key, desc string) string {
	return ControlKeyStyle.Render(key) + " - " + ControlDescStyle.Render(desc)
}

// FormatStatus prefixes status with a connection indicator.
func FormatStatus(connected bool, status string) string {
	indicator := DisconnectedIndicator
	if connected {
		indicator = ConnectedIndicator
	}
	return indicator + " " + status
}

// FormatAppHeader renders a command title with an optional subtitle.
func FormatAppHeader(title, subtitle string) string {
	header := HeaderStyle.Render(InfoStyle.Render(IconSetup) + " " + title)
	if subtitle != "" {
		header += "  " + SubtleStyle.Render(subtitle)
	}
	return header + "\n" + CreateSeparator(50, "─")
}

// FormatPhase renders a section heading.
func FormatPhase(phase string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(ColorInfo).Render(InfoStyle.Render(IconPhase) + " " + phase)
}

// FormatResult renders the outcome of one step.
func FormatResult(success bool, step, message string) string {
	icon, style := SuccessStyle.Render(IconSuccess), SuccessStyle
	if !success {
		icon, style = ErrorStyle.Render(IconError), ErrorStyle
	}
	result := "   " + icon + " " + step
	if message != "" {
		result += " - " + style.Render(message)
	}
	return result
}

// FormatDisplayState colours a display state name.
func FormatDisplayState(state string) string {
	switch state {
	case "active":
		return SuccessStyle.Render(state)
	case "preparing", "stopping":
		return WarningStyle.Render(state)
	default:
		return SubtleStyle.Render(state)
	}
}

// FormatCRTCMask renders a possible-CRTC bitmask as a list of indices.
func FormatCRTCMask(mask uint32) string {
	var idx []string
	for i := 0; i < 32; i++ {
		if mask&(1<<i) != 0 {
			idx = append(idx, fmt.Sprint(i))
		}
	}
	if len(idx) == 0 {
		return "-"
	}
	return strings.Join(idx, ",")
}

// CreateSeparator creates a horizontal line separator
func CreateSeparator(width int, char string) string {
	if width <= 0 {
		width = 50
	}
	if char == "" {
		char = "─"
	}
	return lipgloss.NewStyle().
		Foreground(ColorSubtle).
		Render(strings.Repeat(char, width))
}
