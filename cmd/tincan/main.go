// Command tincan runs a tincan receiver from a YAML config file or publishes
// a single change event.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configFile string
	envFile    string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "tincan",
		Short: "Change-event fan-out over Redis lists",
		Long: `tincan publishes object change events (create, modify, delete) to every
registered receiver of a channel and runs receivers that dispatch them to
named handlers, retrying failures with linear backoff.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "config file (default ./tincan.yaml or /etc/tincan/tincan.yaml)")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file loaded before the config (default ./.env when present)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(
		newListenCmd(flags),
		newPublishCmd(flags),
	)
	return rootCmd
}
