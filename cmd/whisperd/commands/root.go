// Package commands implements the whisperd command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...commands.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "whisperd",
	Short: "Speech-to-text server for whisper.cpp models",
	Long: `whisperd loads whisper.cpp models and serves transcription and
translation over HTTP and gRPC.

Models listed under services.stt.models in the config file are loaded at
startup and reloaded whenever the file changes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "whisperd", Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
