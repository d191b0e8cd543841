// Package cmd contains the parley command-line interface.
//
// Following the pattern used by kubectl, hugo, and other standard Go CLI
// tools, all application logic is contained in the cmd package, leaving
// main.go as a minimal entry point.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - a terminal client for streaming chat agents",
	Long: `Parley is a terminal client for streaming chat agents.

It streams agent responses over SSE, survives dropped connections and
background generation, and can execute browser and desktop automation
commands the agent requests mid-stream.

Running parley without arguments opens the chat interface.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

var agentFlag string

func init() {
	rootCmd.PersistentFlags().StringVarP(&agentFlag, "agent", "a", "", "agent slug to talk to (overrides config)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
