package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnemo-agent/mnemo/internal/config"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

var (
	debug bool
)

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Mnemo — a personal assistant with long-term memory",
	Long:  `Mnemo is a conversational agent that remembers facts, goals and reminders across sessions.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all subcommands
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", config.IsDebug(), "enable debug logging")
}

func setupLogger(ctx context.Context) (context.Context, func()) {
	isDebug := debug || config.IsDebug()
	return log.NewContextWithLogger(ctx, isDebug)
}
