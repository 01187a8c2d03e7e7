package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/waykms/internal/backend"
	"github.com/bnema/waykms/internal/udev"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const maxWatchEvents = 12

// UeventMsg carries one hot-plug event into the watch model.
type UeventMsg struct {
	Event udev.Event
	At    time.Time
}

// CardsMsg replaces the card snapshot shown by the watch model.
type CardsMsg struct {
	Cards []*backend.CardInfo
	Err   error
}

// ProbeFunc takes a fresh snapshot of every card.
type ProbeFunc func() ([]*backend.CardInfo, error)

// WatchModel shows the connectors of every card and the udev events that
// touch them, re-probing after each event.
type WatchModel struct {
	probe   ProbeFunc
	spinner spinner.Model
	cards   []*backend.CardInfo
	events  []UeventMsg
	err     error
	probing bool
	width   int
}

// NewWatchModel creates a watch view that refreshes through probe.
func NewWatchModel(probe ProbeFunc) *WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle
	return &WatchModel{probe: probe, spinner: s, probing: true}
}

func (m *WatchModel) probeCmd() tea.Cmd {
	probe := m.probe
	return func() tea.Msg {
		cards, err := probe()
		return CardsMsg{Cards: cards, Err: err}
	}
}

func (m *WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.probeCmd())
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.probing = true
			return m, m.probeCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case UeventMsg:
		m.events = append(m.events, msg)
		if len(m.events) > maxWatchEvents {
			m.events = m.events[len(m.events)-maxWatchEvents:]
		}
		m.probing = true
		return m, m.probeCmd()

	case CardsMsg:
		m.probing = false
		m.cards, m.err = msg.Cards, msg.Err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *WatchModel) View() string {
	var b strings.Builder

	status := "watching"
	if m.probing {
		status = "probing"
	}
	b.WriteString(FormatAppHeader("DRM HOT-PLUG", m.spinner.View()+" "+status))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render(IconError+" "+m.err.Error()) + "\n\n")
	}
	for _, c := range m.cards {
		b.WriteString(SubheaderStyle.Render(c.Path) + "  " + CapabilitiesLine(c) + "\n")
		b.WriteString(ConnectorTable(c, false) + "\n\n")
	}

	b.WriteString(FormatPhase("Events") + "\n")
	if len(m.events) == 0 {
		b.WriteString(SubtleStyle.Render("  no events yet") + "\n")
	}
	for _, ev := range m.events {
		line := fmt.Sprintf("  %s %-7s %s", ev.At.Format("15:04:05"), ev.Event.Action, ev.Event.DevNode())
		if ev.Event.Hotplug() {
			line += InfoStyle.Render(" hotplug")
		}
		b.WriteString(TextStyle.Render(line) + "\n")
	}

	b.WriteString("\n" + FormatControl("r", "re-probe") + "  " + FormatControl("q", "quit"))
	return b.String()
}

// Events returns the events seen so far, oldest first.
func (m *WatchModel) Events() []UeventMsg { return m.events }

// Cards returns the last snapshot.
func (m *WatchModel) Cards() []*backend.CardInfo { return m.cards }
