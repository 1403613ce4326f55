package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/agents"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List available agents",
	Long: `List agents from the project (.term-agent/agents), the user config
directory and the built-in set. Earlier sources shadow later ones.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := agents.NewRegistry(agents.RegistryConfig{UseBuiltin: true})
		if err != nil {
			return err
		}
		list, err := registry.List()
		if err != nil {
			return err
		}
		printAgents(cmd.OutOrStdout(), list)
		return nil
	},
}

var agentsShowCmd = &cobra.Command{
	Use:               "show <name>",
	Short:             "Show an agent definition",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: agentFlagCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := loadAgent(args[0])
		if err != nil {
			return err
		}
		printAgent(cmd.OutOrStdout(), agent)
		return nil
	},
}

func init() {
	agentsCmd.AddCommand(agentsShowCmd)
	rootCmd.AddCommand(agentsCmd)
}

func printAgents(w io.Writer, list []*agents.Agent) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No agents found.")
		return
	}
	width := 0
	for _, a := range list {
		width = max(width, len(a.Name))
	}
	for _, a := range list {
		marker := " "
		if a.Name == agents.DefaultAgent {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-*s  %-7s  %s\n", marker, width, a.Name, a.Source.SourceName(), a.Description)
	}
}

func printAgent(w io.Writer, a *agents.Agent) {
	fmt.Fprintf(w, "Name:        %s\n", a.Name)
	fmt.Fprintf(w, "Source:      %s", a.Source.SourceName())
	if a.SourcePath != "" {
		fmt.Fprintf(w, " (%s)", a.SourcePath)
	}
	fmt.Fprintln(w)
	if a.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", a.Description)
	}
	if a.Provider != "" {
		fmt.Fprintf(w, "Provider:    %s\n", a.Provider)
	}
	if a.Model != "" {
		fmt.Fprintf(w, "Model:       %s\n", a.Model)
	}
	if a.ToolMethod != "" {
		fmt.Fprintf(w, "Tool method: %s\n", a.ToolMethod)
	}
	if a.MaxToolRounds > 0 {
		fmt.Fprintf(w, "Max rounds:  %d\n", a.MaxToolRounds)
	}
	if len(a.Tools.Enabled) > 0 {
		fmt.Fprintf(w, "Tools:       %s\n", strings.Join(a.Tools.Enabled, ", "))
	}
	if len(a.Tools.Disabled) > 0 {
		fmt.Fprintf(w, "Disabled:    %s\n", strings.Join(a.Tools.Disabled, ", "))
	}
	if len(a.Shell.Allow) > 0 {
		fmt.Fprintf(w, "Shell allow: %s\n", strings.Join(a.Shell.Allow, ", "))
	}
	if len(a.MCP) > 0 {
		fmt.Fprintf(w, "MCP:         %s\n", strings.Join(a.MCP, ", "))
	}
	if a.SystemPrompt != "" {
		fmt.Fprintf(w, "\nSystem prompt:\n%s\n", strings.TrimRight(a.SystemPrompt, "\n"))
	}
}
