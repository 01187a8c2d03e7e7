// Package setup runs the interactive output configuration.
package setup

import (
	"fmt"

	"github.com/bnema/waykms/internal/backend"
	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/drm"
	"github.com/bnema/waykms/internal/logger"
	"github.com/charmbracelet/huh"
)

const preferredMode = "preferred"

// OutputChoice is what the form collects for one connector.
type OutputChoice struct {
	Name    string
	Enabled bool
	Mode    string
}

// OutputSetup asks which connected outputs to light and in which mode, then
// writes the [[outputs]] section.
type OutputSetup struct {
	cards []*backend.CardInfo
	// run executes a form; replaced in tests.
	run  func(*huh.Form) error
	save func([]config.OutputConfig) error
}

// NewOutputSetup creates a setup over probed cards.
func NewOutputSetup(cards []*backend.CardInfo) *OutputSetup {
	return &OutputSetup{
		cards: cards,
		run:   func(f *huh.Form) error { return f.Run() },
		save:  config.SetOutputs,
	}
}

// ModeSpec formats m the way the mode key expects it.
func ModeSpec(m *drm.ModeInfo) string {
	return config.ModeSpec{Width: int(m.Hdisplay), Height: int(m.Vdisplay), Refresh: m.RefreshMHz()}.String()
}

// ModeOptions lists the selectable modes of a connector, preferred first.
func ModeOptions(c backend.ConnectorInfo) []huh.Option[string] {
	opts := []huh.Option[string]{huh.NewOption("Preferred", preferredMode)}
	seen := map[string]bool{}
	for i := range c.Modes {
		spec := ModeSpec(&c.Modes[i])
		if seen[spec] {
			continue
		}
		seen[spec] = true
		label := spec
		if c.Modes[i].Preferred() {
			label += " (preferred)"
		}
		opts = append(opts, huh.NewOption(label, spec))
	}
	return opts
}

// matchMode maps a configured mode onto one of the connector's option values.
// A mode the connector does not list is returned unchanged.
func matchMode(c backend.ConnectorInfo, configured string) string {
	want, err := config.ParseMode(configured)
	if err != nil {
		return configured
	}
	if want.IsZero() {
		return preferredMode
	}

	var best *drm.ModeInfo
	for i := range c.Modes {
		m := &c.Modes[i]
		if int(m.Hdisplay) != want.Width || int(m.Vdisplay) != want.Height {
			continue
		}
		switch {
		case best == nil:
			best = m
		case want.Refresh == 0:
			if m.Preferred() && !best.Preferred() {
				best = m
			}
		case abs(m.RefreshMHz()-want.Refresh) < abs(best.RefreshMHz()-want.Refresh):
			best = m
		}
	}
	if best == nil {
		return configured
	}
	return ModeSpec(best)
}

func hasOption(opts []huh.Option[string], value string) bool {
	for _, o := range opts {
		if o.Value == value {
			return true
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// currentChoice seeds the form from the active configuration.
func currentChoice(cfg *config.Config, name string) OutputChoice {
	o := cfg.FindOutput(name)
	mode := o.Mode
	if mode == "" {
		mode = preferredMode
	}
	return OutputChoice{Name: name, Enabled: o.IsEnabled(), Mode: mode}
}

// MergeOutputs replaces the entries named in choices and keeps every other
// entry, wildcard included.
func MergeOutputs(existing []config.OutputConfig, choices []OutputChoice) []config.OutputConfig {
	chosen := make(map[string]bool, len(choices))
	for _, c := range choices {
		chosen[c.Name] = true
	}

	var out []config.OutputConfig
	for _, o := range existing {
		if !chosen[o.Name] {
			out = append(out, o)
		}
	}
	for _, c := range choices {
		o := config.OutputConfig{Name: c.Name}
		if !c.Enabled {
			disabled := false
			o.Enabled = &disabled
		}
		if c.Mode != preferredMode {
			o.Mode = c.Mode
		}
		out = append(out, o)
	}
	return out
}

// Run shows one form group per connected output and saves the result.
func (s *OutputSetup) Run() error {
	cfg := config.Get()

	var choices []*OutputChoice
	configured := map[string]string{}
	var groups []*huh.Group
	for _, card := range s.cards {
		for _, conn := range card.Connectors {
			if !conn.Connected || conn.NonDesktop {
				continue
			}
			c := currentChoice(cfg, conn.Name)
			c.Mode = matchMode(conn, c.Mode)
			configured[conn.Name] = c.Mode
			choices = append(choices, &c)

			opts := ModeOptions(conn)
			if !hasOption(opts, c.Mode) {
				opts = append(opts, huh.NewOption(c.Mode+" (configured)", c.Mode))
			}
			groups = append(groups, huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Enable %s?", conn.Name)).
					Description(card.Path).
					Value(&c.Enabled),
				huh.NewSelect[string]().
					Title("Mode").
					Options(opts...).
					Value(&c.Mode),
			))
		}
	}
	if len(groups) == 0 {
		return fmt.Errorf("no connected outputs found")
	}

	if err := s.run(huh.NewForm(groups...)); err != nil {
		return err
	}

	picked := make([]OutputChoice, 0, len(choices))
	for _, c := range choices {
		if c.Mode == "" {
			c.Mode = configured[c.Name]
		}
		picked = append(picked, *c)
		logger.Debug("output configured", "output", c.Name, "enabled", c.Enabled, "mode", c.Mode)
	}
	return s.save(MergeOutputs(cfg.Outputs, picked))
}
