package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/glimt"
)

// NewRootCommand builds the root CLI command.
func NewRootCommand(loader *glimt.Loader) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "glimt",
		Short: "Glimt remote-screen broker",
		Long: "Glimt brokers remote-screen sessions: rooms, screen-access " +
			"permission handshakes, control tokens, and frame/input relay.",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if configFile != "" {
				loader.SetConfigFile(configFile)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCommand(loader))
	return cmd
}
