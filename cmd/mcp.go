package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/config"
	"github.com/samsaffron/term-agent/internal/mcp"
	"github.com/samsaffron/term-agent/internal/toolcall"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Inspect MCP (Model Context Protocol) tool servers",
	Long: `Inspect the tool servers configured in mcp.json.

Examples:
  term-agent mcp list              # start each server and report its status
  term-agent mcp tools             # merged tool catalog
  term-agent mcp tools git         # tools of one server
  term-agent mcp path              # config file location`,
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers and their handshake status",
	RunE:  runMCPList,
}

var mcpToolsCmd = &cobra.Command{
	Use:               "tools [server]",
	Short:             "Show the tool catalog",
	Args:              cobra.MaximumNArgs(1),
	RunE:              runMCPTools,
	ValidArgsFunction: mcpServerCompletion,
}

var mcpPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the MCP configuration file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := mcp.DefaultConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpToolsCmd)
	mcpCmd.AddCommand(mcpPathCmd)
	rootCmd.AddCommand(mcpCmd)
}

// startServers loads mcp.json and handshakes with every enabled server,
// optionally just one.
func startServers(ctx context.Context, only string) (*mcp.Config, *mcp.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	mcpCfg, err := mcp.LoadConfig()
	if err != nil {
		return nil, nil, &config.ConfigError{Field: "mcp", Err: err}
	}
	if only != "" {
		if _, ok := mcpCfg.Servers[only]; !ok {
			return nil, nil, fmt.Errorf("no MCP server named %q", only)
		}
		mcpCfg = mcpCfg.Filter([]string{only})
	}
	client := mcp.NewClient(mcpCfg, mcp.Options{
		HandshakeTimeout:  cfg.HandshakeTimeout,
		TerminateDuration: cfg.CancelGrace,
		Version:           Version,
	})
	client.Discover(ctx)
	return mcpCfg, client, nil
}

func runMCPList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mcpCfg, client, err := startServers(ctx, "")
	if err != nil {
		return err
	}
	defer client.CloseAll(context.WithoutCancel(ctx))

	w := cmd.OutOrStdout()
	if len(mcpCfg.Servers) == 0 {
		path, _ := mcp.DefaultConfigPath()
		fmt.Fprintf(w, "No MCP servers configured.\n\nAdd servers to %s\n", path)
		return nil
	}
	states := make(map[string]mcp.StatusUpdate)
	for _, u := range client.States() {
		states[u.Server] = u
	}
	printServers(w, mcpCfg, states)
	return nil
}

func printServers(w io.Writer, cfg *mcp.Config, states map[string]mcp.StatusUpdate) {
	fmt.Fprintf(w, "Configured MCP servers (%d):\n\n", len(cfg.Servers))
	for _, name := range cfg.ServerNames() {
		sc := cfg.Servers[name]
		status := "disabled"
		if u, ok := states[name]; ok {
			status = string(u.State)
			if u.State.Live() {
				status = fmt.Sprintf("%s, %d tools", u.State, u.Tools)
			}
			if u.Error != "" {
				status += ": " + u.Error
			}
		}
		fmt.Fprintf(w, "  %s (%s)\n", name, status)
		fmt.Fprintf(w, "    command: %s\n", strings.TrimSpace(sc.Command+" "+strings.Join(sc.Args, " ")))
		if len(sc.Env) > 0 {
			fmt.Fprintf(w, "    env: %d variables\n", len(sc.Env))
		}
	}
}

func runMCPTools(cmd *cobra.Command, args []string) error {
	only := ""
	if len(args) > 0 {
		only = args[0]
	}
	ctx := cmd.Context()
	_, client, err := startServers(ctx, only)
	if err != nil {
		return err
	}
	defer client.CloseAll(context.WithoutCancel(ctx))

	printCatalog(cmd.OutOrStdout(), client.Descriptors())
	return nil
}

func printCatalog(w io.Writer, descs []toolcall.Descriptor) {
	if len(descs) == 0 {
		fmt.Fprintln(w, "No tools available.")
		return
	}
	for _, d := range descs {
		fmt.Fprintf(w, "%s  [%s]\n", d.Name, d.Target)
		if d.Description != "" {
			fmt.Fprintf(w, "    %s\n", firstLine(d.Description))
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func mcpServerCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	cfg, err := mcp.LoadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return cfg.ServerNames(), cobra.ShellCompDirectiveNoFileComp
}
