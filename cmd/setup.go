package cmd

import (
	"fmt"

	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/logger"
	"github.com/bnema/waykms/internal/setup"
	"github.com/bnema/waykms/internal/ui"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Choose which outputs to light and their modes",
	Long: `Probe every card, then ask for each connected output whether it should be
enabled and which mode it should use. The answers are written to the
[[outputs]] section of the configuration file.`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	fmt.Println(ui.FormatAppHeader("waykms setup", ""))

	cards, err := probeCards(config.Get())
	if err != nil && len(cards) == 0 {
		fmt.Println(ui.FormatResult(false, "probe", err.Error()))
		return err
	}
	if err != nil {
		logger.Warn("some cards could not be probed", "err", err)
	}
	fmt.Println(ui.FormatResult(true, "probe", fmt.Sprintf("%d card(s)", len(cards))))

	if err := setup.NewOutputSetup(cardInfos(cards)).Run(); err != nil {
		fmt.Println(ui.FormatResult(false, "outputs", err.Error()))
		return err
	}

	fmt.Println(ui.FormatResult(true, "outputs", "saved to "+config.GetConfigPath()))
	return nil
}
