package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/agents"
	"github.com/samsaffron/term-agent/internal/event"
)

// runFlags holds the flags of a conversation run.
type runFlags struct {
	Agent            string
	Provider         string
	Model            string
	ToolMethod       string
	MaxContextTokens string
	MaxRounds        int
	Trace            bool
	TraceFile        string
	TraceEncoding    string
	TraceCompress    bool
	Seed             string
	Resume           string
	NoTools          bool
	DebugLog         bool
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	flags := cmd.Flags()
	flags.StringVarP(&f.Agent, "agent", "a", "", "Agent to run (default coder)")
	flags.StringVarP(&f.Provider, "provider", "p", "", "Provider index or id from the config")
	flags.StringVar(&f.Model, "model", "", "Override the provider's model")
	flags.StringVar(&f.ToolMethod, "tool-method", "", "How tools reach the model: function_call or chat")
	flags.StringVar(&f.MaxContextTokens, "max-context-tokens", "", "Token budget per request, or auto")
	flags.IntVar(&f.MaxRounds, "max-rounds", 0, "Max tool rounds per prompt")
	flags.BoolVar(&f.Trace, "trace", false, "Write the trace artifact to stdout on exit")
	flags.StringVar(&f.TraceFile, "trace-file", "", "Write the trace artifact to a file")
	flags.StringVar(&f.TraceEncoding, "trace-encoding", "", "Trace payload encoding: json or cbor")
	flags.BoolVar(&f.TraceCompress, "trace-compress", false, "Compress the trace payload with zstd")
	flags.StringVar(&f.Seed, "seed", "", "Start from the conversation in a trace file")
	flags.StringVar(&f.Resume, "resume", "", "Start from a recorded run (id or unique prefix)")
	flags.BoolVar(&f.NoTools, "no-tools", false, "Run without built-in tools or tool servers")
	flags.BoolVar(&f.DebugLog, "debug-log", false, "Log provider traffic as JSONL in the data dir")

	registerCompletion(cmd, "agent", agentFlagCompletion)
	registerCompletion(cmd, "provider", providerFlagCompletion)
	registerCompletion(cmd, "tool-method", fixedCompletion("function_call", "chat"))
	registerCompletion(cmd, "trace-encoding", fixedCompletion(event.EncodingJSON, event.EncodingCBOR))
}

func registerCompletion(cmd *cobra.Command, flag string, fn cobra.CompletionFunc) {
	if err := cmd.RegisterFlagCompletionFunc(flag, fn); err != nil {
		panic("failed to register " + flag + " completion: " + err.Error())
	}
}

func fixedCompletion(values ...string) cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return values, cobra.ShellCompDirectiveNoFileComp
	}
}

func agentFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	registry, err := agents.NewRegistry(agents.RegistryConfig{UseBuiltin: true})
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	names, err := registry.ListNames()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

func providerFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for i, p := range cfg.Providers {
		id := p.ID
		if id == "" {
			id = p.Kind
		}
		out = append(out, id+"\t"+strconv.Itoa(i)+": "+p.Kind+" "+p.Model)
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
