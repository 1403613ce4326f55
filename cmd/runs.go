package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/event"
	"github.com/samsaffron/term-agent/internal/session"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse the run history",
	Long: `List and inspect recorded runs. Recording is enabled with
sessions.enabled in the config.

Examples:
  term-agent runs                      # list recent runs
  term-agent runs list --status budget
  term-agent runs show 3f2a
  term-agent runs export 3f2a run.trace
  term-agent --resume 3f2a "keep going"`,
	RunE: runRunsList,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a run and its trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsExportCmd = &cobra.Command{
	Use:   "export <id> <file>",
	Short: "Write a run's trace artifact to a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunsExport,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

var (
	runsAgent  string
	runsStatus string
	runsLimit  int
	runsJSON   bool
)

var validRunStatuses = []string{
	string(session.StatusActive),
	string(session.StatusComplete),
	string(session.StatusBudget),
	string(session.StatusCancelled),
	string(session.StatusError),
}

func init() {
	for _, c := range []*cobra.Command{runsCmd, runsListCmd} {
		c.Flags().StringVar(&runsAgent, "agent", "", "Filter by agent")
		c.Flags().StringVar(&runsStatus, "status", "", "Filter by status ("+strings.Join(validRunStatuses, ", ")+")")
		c.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")
	}
	runsShowCmd.Flags().BoolVar(&runsJSON, "json", false, "Output the run as JSON")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsExportCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

func openRunStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Sessions.Enabled {
		return nil, errors.New("run history is disabled in config (sessions.enabled)")
	}
	return session.NewStore(session.ConfigFrom(cfg.Sessions))
}

func runRunsList(cmd *cobra.Command, args []string) error {
	if runsStatus != "" && !slices.Contains(validRunStatuses, runsStatus) {
		return fmt.Errorf("invalid status %q: must be one of %v", runsStatus, validRunStatuses)
	}
	store, err := openRunStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cmd.Context(), session.ListOptions{
		Agent:  runsAgent,
		Status: session.RunStatus(runsStatus),
		Limit:  runsLimit,
	})
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	printRuns(cmd.OutOrStdout(), runs, time.Now())
	return nil
}

func printRuns(w io.Writer, runs []session.Run, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	fmt.Fprintf(w, "%-8s %-10s %-24s %-9s %6s %-13s %-8s %s\n",
		"ID", "AGENT", "MODEL", "STATUS", "ROUNDS", "TOKENS", "AGE", "SUMMARY")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, r := range runs {
		fmt.Fprintf(w, "%-8s %-10s %-24s %-9s %6d %-13s %-8s %s\n",
			shortID(r.ID), clipText(r.Agent, 10), clipText(r.Model, 24), r.Status, r.Rounds,
			fmt.Sprintf("%d/%d", r.InputTokens, r.OutputTokens), formatAge(now.Sub(r.CreatedAt)), r.Summary)
	}
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openRunStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	run, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if runsJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	fmt.Fprintf(w, "ID:       %s\n", run.ID)
	fmt.Fprintf(w, "Agent:    %s\n", run.Agent)
	fmt.Fprintf(w, "Provider: %s (%s, %s)\n", run.Provider, run.Model, run.ToolMethod)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintf(w, "Created:  %s\n", run.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Dir:      %s\n", run.CWD)
	fmt.Fprintf(w, "Summary:  %s\n", run.Summary)

	tr, err := loadRunTrace(ctx, store, run.ID)
	if errors.Is(err, session.ErrNoTrace) {
		fmt.Fprintln(w, "\nNo trace recorded.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	printTrace(w, tr)
	return nil
}

func loadRunTrace(ctx context.Context, store session.Store, id string) (event.Trace, error) {
	data, err := store.LoadTrace(ctx, id)
	if err != nil {
		return event.Trace{}, err
	}
	return event.Decode(data)
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	store, err := openRunStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	run, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	data, err := store.LoadTrace(ctx, run.ID)
	if err != nil {
		return err
	}
	if err := event.WriteEncoded(args[1], data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", args[1])
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	store, err := openRunStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	run, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, run.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", shortID(run.ID))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clipText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
