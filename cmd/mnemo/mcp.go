package main

import (
	"github.com/spf13/cobra"

	"github.com/mnemo-agent/mnemo/internal/mcpserver"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the memory tools over MCP on stdio",
	Long:  `Exposes create/search/forget memory, goal and reminder tools to MCP clients such as editors and other agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		d := buildDeps(ctx)
		defer shutdownDeps(ctx, d)

		s, err := mcpserver.New(ctx, d.tools, d.appCfg.DefaultUserID)
		if err != nil {
			log.FromCtx(ctx).Fatal().Err(err).Msg("failed to initialize mcp server")
		}
		return s.ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
