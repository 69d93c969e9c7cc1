package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mnemo-agent/mnemo/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with Mnemo in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		d := buildDeps(ctx)
		defer shutdownDeps(ctx, d)

		return tui.Run(ctx, d.agent, d.appCfg.DefaultUserID)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// shutdownDeps drains background work and releases storage handles for the
// one-shot commands that bypass the service runner.
func shutdownDeps(ctx context.Context, d *deps) {
	d.pool.Wait()
	for _, c := range d.cleanups {
		_ = c.Shutdown(ctx)
	}
}
