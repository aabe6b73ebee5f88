package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wavedrop/wavedrop/cmd/wavedrop/config"
)

// Root returns the top level `wavedrop` command with its subcommands attached.
func Root(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "wavedrop",
		Short:         "wavedrop receives files sent through a relay server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(); err != nil {
				return fmt.Errorf("initializing config: %w", err)
			}
			if err := viper.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
				return fmt.Errorf("binding verbose flag: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug information to a file on the format `.wavedrop-[command].log` in the current directory")

	rootCmd.AddCommand(Receive())
	rootCmd.AddCommand(Config())
	rootCmd.AddCommand(Version(version))
	return rootCmd
}
