package commands

import (
	"github.com/spf13/cobra"

	"github.com/gcp-broker/tokenbroker/internal/broker/config"
)

var genconfigCmd = &cobra.Command{
	Use:   "genconfig",
	Short: "Print the environment-variable configuration reference",
	Long: `Print every APP_SETTING_<NAME> environment variable the broker
recognizes, its default (if any), and whether it must be supplied.

There is no config file: every setting is read directly from the process
environment, following the flat namespace documented here.`,
	Run: runGenconfig,
}

func runGenconfig(cmd *cobra.Command, args []string) {
	for _, ref := range config.EnvReference() {
		if ref.Default != nil {
			cmd.Printf("%s%-32s default=%v\n", config.EnvVarPrefix, ref.Name, ref.Default)
		} else {
			cmd.Printf("%s%-32s required\n", config.EnvVarPrefix, ref.Name)
		}
	}
}
