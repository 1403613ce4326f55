package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/conversation"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "term-agent [prompt]",
	Short: "Run a coding agent in the terminal",
	Long: `term-agent runs a conversation between you, a language model and a set of
tools: built-in file and shell tools plus any configured MCP servers.

With no prompt and a terminal on stdin it starts an interactive session.
Otherwise it answers one prompt (from the arguments or stdin), streams
events as JSON lines to stderr and prints the answer to stdout.

Examples:
  term-agent                                  # interactive session
  term-agent "list the files in this repo"    # one prompt
  echo "fix the failing test" | term-agent    # prompt from stdin
  term-agent -a reviewer --trace-file run.trace "review main.go"
  term-agent --resume 3f2a "continue"         # continue a recorded run

Exit codes:
  0 ok, 1 error, 2 config error, 3 budget exceeded, 130 cancelled`,
	Args:              cobra.ArbitraryArgs,
	RunE:              runRoot,
	SilenceErrors:     true,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(os.Stderr, debugMode)
	},
}

var (
	configPath string
	debugMode  bool
	runOpts    runFlags
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/term-agent/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Log diagnostics as JSON at debug level")
	addRunFlags(rootCmd, &runOpts)
}

// Execute runs the command tree and exits with the mapped status.
func Execute() {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, conversation.ErrCancelled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
