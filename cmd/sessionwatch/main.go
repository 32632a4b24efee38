package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesm/sessionwatch/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sessionwatch",
		Short: "Index and watch coding-agent session logs",
		Long: `sessionwatch indexes the session logs written by the Codex,
Claude Code and Gemini CLIs, keeps the index current as the logs
change, and answers list and detail queries from it.

Environment variables:
  CODEX_HOME, CODEX_SESSIONS_DIR       Codex sessions directory
  CLAUDE_CONFIG_DIR, CLAUDE_PROJECTS_DIR
                                       Claude Code projects directory
  GEMINI_DIR                           Gemini CLI directory
  SESSIONWATCH_DATA_DIR                Data directory (index, config)
  SESSIONWATCH_LOG_LEVEL               Log level
  SESSIONWATCH_DIAG                    Diagnostics on, or a path filter

Data is stored in ~/.sessionwatch/ by default.`,
		SilenceUsage: true,
	}
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(),
				"sessionwatch %s (commit %s, built %s)\n",
				version, commit, buildDate)
		},
	}
}
