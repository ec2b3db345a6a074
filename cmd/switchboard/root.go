package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/switchboard/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Switchboard - resilient streaming chat relay",
	Long: `Switchboard relays chat turns between clients and an upstream
conversational-AI provider.

Each request carries one message. Switchboard admits it under concurrency and
rate limits, binds the client to its upstream conversation, opens the answer
stream with retries and circuit breaking, and forwards it to the client as
server-sent events ending in exactly one final or error frame.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
