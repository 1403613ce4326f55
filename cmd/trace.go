package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/event"
	"github.com/samsaffron/term-agent/internal/transcript"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect trace artifacts",
	Long: `Inspect the trace artifacts written with --trace or --trace-file.

Examples:
  term-agent trace show run.trace
  term-agent trace verify run.trace`,
}

var traceShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Summarize a trace's turns and events",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceShow,
}

var traceVerifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Check a trace's digest",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

func init() {
	traceCmd.AddCommand(traceShowCmd)
	traceCmd.AddCommand(traceVerifyCmd)
	rootCmd.AddCommand(traceCmd)
}

func runTraceShow(cmd *cobra.Command, args []string) error {
	tr, err := event.ReadFile(args[0])
	if err != nil {
		return err
	}
	printTrace(cmd.OutOrStdout(), tr)
	return nil
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	h, err := event.VerifyHeader(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok %s (%s, %s)\n", h.Digest, h.Encoding, h.Compression)
	return nil
}

// turnPreviewWidth is the column budget for one turn in trace show.
const turnPreviewWidth = 72

func printTrace(w io.Writer, tr event.Trace) {
	f := tr.Final
	fmt.Fprintf(w, "Run:      %s\n", tr.RunID)
	fmt.Fprintf(w, "Provider: %s (%s, %s)\n", f.Provider, f.Model, f.ToolMethod)
	state := f.State
	if f.Reason != "" {
		state += " (" + f.Reason + ")"
	}
	fmt.Fprintf(w, "State:    %s\n", state)
	fmt.Fprintf(w, "Duration: %s\n", tr.Ended.Sub(tr.Started).Round(time.Millisecond))
	fmt.Fprintf(w, "Rounds:   %d\n", f.Rounds)
	fmt.Fprintf(w, "Tokens:   %d in / %d out\n", f.Usage.InputTokens, f.Usage.OutputTokens)
	if f.Budget > 0 {
		fmt.Fprintf(w, "Context:  %d of %d tokens\n", f.Cost(), f.Budget)
	}

	fmt.Fprintf(w, "\nTurns (%d):\n", len(f.Turns))
	for _, t := range f.Turns {
		fmt.Fprintf(w, "  %4d %-11s %s\n", t.Seq, turnLabel(t), runewidth.Truncate(turnPreview(t), turnPreviewWidth, "…"))
	}

	counts := tr.Count()
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	fmt.Fprintf(w, "\nEvents (%d):\n", len(tr.Events))
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-20s %d\n", k, counts[event.Kind(k)])
	}
}

func turnLabel(t transcript.Turn) string {
	if t.Pin != transcript.PinNone && t.Name != "" {
		return string(t.Role) + ":" + t.Name
	}
	return string(t.Role)
}

func turnPreview(t transcript.Turn) string {
	var parts []string
	if text := t.Text(); text != "" {
		parts = append(parts, text)
	}
	for _, c := range t.Message.ToolCalls() {
		parts = append(parts, fmt.Sprintf("→ %s %s", c.Name, c.Arguments))
	}
	for _, r := range t.Message.ToolResults() {
		parts = append(parts, fmt.Sprintf("← %s %s", r.Name, r.Content))
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
