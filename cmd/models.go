package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/config"
	"github.com/samsaffron/term-agent/internal/llm"
)

var modelsCmd = &cobra.Command{
	Use:   "models [name]",
	Short: "Show known models and their context windows",
	Long: `Without arguments, list the curated models per provider kind and the
context-limit table used when max_context_tokens is "auto".

With a model name, show the context window that name resolves to.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		if len(args) == 1 {
			printModelLookup(w, args[0])
			return nil
		}
		printModels(w)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func printModelLookup(w io.Writer, name string) {
	tokens, key := llm.LookupContextLimit(name)
	if key == "" {
		key = "(default)"
	}
	fmt.Fprintf(w, "%s: %d tokens [%s]\n", name, tokens, key)
}

func printModels(w io.Writer) {
	kinds := make([]config.ProviderKind, 0, len(llm.ProviderModels))
	for k := range llm.ProviderModels {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Fprintf(w, "%s: %s\n", k, strings.Join(llm.ProviderModels[k], ", "))
	}

	fmt.Fprintln(w, "\nContext limits:")
	for _, row := range llm.ContextLimits() {
		fmt.Fprintf(w, "  %-20s %9d\n", row.Key, row.Tokens)
	}
	fmt.Fprintf(w, "  %-20s %9d\n", "(default)", llm.DefaultContextLimit)
}
