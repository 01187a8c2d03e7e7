package cmd

import (
	"fmt"
	"strings"

	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/logger"
	"github.com/bnema/waykms/internal/ui"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var listVerbose bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cards, connectors, CRTCs and planes",
	Long: `List every DRM card with its capabilities, connectors and modes, CRTCs
and planes. Cards are opened directly and no output is touched, so this works
next to a running compositor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cards, err := probeCards(config.Get())
		if err != nil && len(cards) == 0 {
			return err
		}
		if err != nil {
			logger.Warn("some cards could not be probed", "err", err)
		}

		var output strings.Builder
		output.WriteString(ui.FormatAppHeader("DRM DEVICES", fmt.Sprintf("%d card(s)", len(cards))))
		output.WriteString("\n\n")

		for _, c := range cards {
			title := c.info.Path
			if c.driver.Name != "" {
				title += fmt.Sprintf(" (%s %d.%d.%d)", c.driver.Name, c.driver.Major, c.driver.Minor, c.driver.Patch)
			}
			if c.bootVGA {
				title += ui.InfoStyle.Render(" boot_vga")
			}
			output.WriteString(ui.SubheaderStyle.Render(title) + "\n")
			output.WriteString(ui.CapabilitiesLine(c.info) + "\n")
			output.WriteString(ui.SubtleStyle.Render(fmt.Sprintf("CRTCs: %v", c.info.CRTCs)) + "\n")
			output.WriteString(ui.ConnectorTable(c.info, listVerbose) + "\n")
			if listVerbose {
				output.WriteString(ui.PlaneTable(c.info) + "\n")
			}
			output.WriteString("\n")
		}

		helpBox := ui.BoxStyle.
			BorderStyle(lipgloss.HiddenBorder()).
			PaddingLeft(0).
			Render(strings.Join([]string{
				ui.InfoStyle.Render("Commands:"),
				"  " + ui.ControlKeyStyle.Render("waykms setup") + " - Choose outputs and modes",
				"  " + ui.ControlKeyStyle.Render("waykms run") + " - Drive the configured outputs",
				"  " + ui.ControlKeyStyle.Render("waykms watch") + " - Follow hot-plug events",
			}, "\n"))
		output.WriteString(helpBox)

		fmt.Println(output.String())
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listVerbose, "verbose", "v", false, "show every mode and the plane table")
	rootCmd.AddCommand(listCmd)
}
