package cmd

import (
	"time"

	"github.com/bnema/waykms/internal/backend"
	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/udev"
	"github.com/bnema/waykms/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow DRM hot-plug events live",
	Long: `Show the connectors of every card and refresh them whenever udev reports
a DRM event. Falls back to polling /dev/dri when the netlink socket is not
available.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		probe := func() ([]*backend.CardInfo, error) {
			cards, err := probeCards(cfg)
			return cardInfos(cards), err
		}

		runner := ui.NewProgramRunner(ui.NewWatchModel(probe), tea.WithAltScreen())

		monitor := udev.NewMonitor()
		if err := monitor.Start(cmd.Context(), func(ev udev.Event) {
			runner.Send(ui.UeventMsg{Event: ev, At: time.Now()})
		}); err != nil {
			return err
		}
		defer monitor.Stop()

		return runner.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
