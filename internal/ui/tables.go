package ui

import (
	"fmt"
	"strings"

	"github.com/bnema/waykms/internal/backend"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorSubtle)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return lipgloss.NewStyle().
					Foreground(ColorPrimary).
					Bold(true).
					Padding(0, 1)
			case col == 0:
				return lipgloss.NewStyle().
					Foreground(ColorInfo).
					Bold(true).
					Padding(0, 1)
			default:
				return lipgloss.NewStyle().
					Foreground(ColorText).
					Padding(0, 1)
			}
		}).
		Headers(headers...)
}

func yesNo(v bool) string {
	if v {
		return SuccessStyle.Render("yes")
	}
	return SubtleStyle.Render("no")
}

// CapabilitiesLine summarises a card's capability bits on one line.
func CapabilitiesLine(info *backend.CardInfo) string {
	parts := []string{
		"commit " + info.Commit,
		"modifiers " + yesNo(info.Caps.Modifiers),
		"prime import " + yesNo(info.Caps.PrimeImport),
		"prime export " + yesNo(info.Caps.PrimeExport),
	}
	return strings.Join(parts, SubtleStyle.Render("  │  "))
}

// ConnectorTable renders the connectors of a card. Only the preferred mode
// and the mode count are shown unless verbose is set.
func ConnectorTable(info *backend.CardInfo, verbose bool) string {
	var rows [][]string
	for _, c := range info.Connectors {
		status := FormatStatus(c.Connected, "disconnected")
		if c.Connected {
			status = FormatStatus(true, "connected")
		}
		if c.NonDesktop {
			status += SubtleStyle.Render(" (non-desktop)")
		}
		preferred := "-"
		if m := c.Preferred(); m != nil {
			preferred = m.String()
		}
		modes := fmt.Sprint(len(c.Modes))
		if verbose && len(c.Modes) > 0 {
			names := make([]string, 0, len(c.Modes))
			for i := range c.Modes {
				names = append(names, c.Modes[i].String())
			}
			modes = strings.Join(names, "\n")
		}
		rows = append(rows, []string{c.Name, fmt.Sprint(c.ID), status, preferred, modes})
	}
	return newTable("CONNECTOR", "ID", "STATUS", "PREFERRED", "MODES").Rows(rows...).String()
}

// PlaneTable renders the planes of a card.
func PlaneTable(info *backend.CardInfo) string {
	var rows [][]string
	for _, p := range info.Planes {
		rows = append(rows, []string{
			fmt.Sprint(p.ID),
			p.Type,
			FormatCRTCMask(p.PossibleCrtcs),
			fmt.Sprint(p.Formats),
			fmt.Sprint(p.Modifiers),
		})
	}
	return newTable("PLANE", "TYPE", "CRTCS", "FORMATS", "MODIFIERS").Rows(rows...).String()
}

// OutputTable renders a backend output snapshot.
func OutputTable(outputs []backend.OutputInfo) string {
	var rows [][]string
	for _, o := range outputs {
		mode := o.Mode
		if mode == "" {
			mode = "-"
		}
		crtc := "-"
		if o.CrtcID != 0 {
			crtc = fmt.Sprintf("%d/%d", o.CrtcID, o.PlaneID)
		}
		rows = append(rows, []string{
			o.Name,
			o.GPU,
			FormatDisplayState(o.State.String()),
			mode,
			crtc,
			fmt.Sprintf("%d/%d/%d", o.Commits, o.Flips, o.Skipped),
			fmt.Sprint(o.Locked),
		})
	}
	return newTable("OUTPUT", "GPU", "STATE", "MODE", "CRTC/PLANE", "COMMITS/FLIPS/SKIPPED", "LOCKED").Rows(rows...).String()
}
