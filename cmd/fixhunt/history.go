package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fixhunt/internal/backends"
	"fixhunt/internal/config"
	"fixhunt/internal/errors"
	"fixhunt/internal/report"
	"fixhunt/internal/storage"
)

type historyOptions struct {
	db          string
	run         string
	commit      string
	pruneBefore string
	limit       int
	format      string
}

func newHistoryCmd(global *globalOptions) *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect runs recorded with --db",
		Long: `List, replay and search runs recorded in a run history database.

Examples:
  fixhunt history --db runs.db                      # List recent runs
  fixhunt history --db runs.db --run 3f2a           # Replay one run
  fixhunt history --db runs.db --commit b5bf0f5b    # Runs that reported a commit
  fixhunt history --db runs.db --prune-before "90 days ago"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, global, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.db, "db", "", "Run history database (default store.path)")
	f.StringVar(&opts.run, "run", "", "Replay the events of this run (ID or unique prefix)")
	f.StringVar(&opts.commit, "commit", "", "Show recorded events naming this commit hash prefix")
	f.StringVar(&opts.pruneBefore, "prune-before", "", "Delete runs started before this date")
	f.IntVarP(&opts.limit, "limit", "n", 20, "Number of runs to list (0 for all)")
	f.StringVar(&opts.format, "format", "text", "Output format (text, json, yaml)")

	return cmd
}

func runHistory(cmd *cobra.Command, global *globalOptions, opts *historyOptions) error {
	cfg, err := config.LoadConfig(config.LoadOptions{RepoRoot: ".", ConfigFile: global.configFile})
	if err != nil {
		return errors.New(errors.ConfigInvalid, "cannot load configuration", err,
			errors.GetSuggestedFixes(errors.ConfigInvalid))
	}

	path := opts.db
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		return errors.New(errors.InputError, "no run history database given", nil, nil).
			WithDetails(map[string]interface{}{"hint": "pass --db or set store.path"})
	}
	if !contains(config.OutputFormats, opts.format) {
		return errors.New(errors.InputError, fmt.Sprintf("unknown output format %q", opts.format), nil, nil)
	}

	flags := cmd.Flags()
	opts.run = strings.TrimSpace(opts.run)
	if flags.Changed("run") && opts.run == "" {
		return errors.New(errors.InputError, "--run needs a run id or id prefix", nil, nil)
	}
	opts.commit = strings.ToLower(strings.TrimSpace(opts.commit))
	if flags.Changed("commit") && !backends.IsHex(opts.commit) {
		return errors.New(errors.InputError, fmt.Sprintf("--commit %q is not a hexadecimal hash prefix", opts.commit), nil, nil)
	}

	logger, closeLogs, err := newLogger(cmd, global, cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	db, err := storage.Open(path, logger)
	if err != nil {
		return errors.New(errors.StoreError, "cannot open run history", err, nil).
			WithDetails(map[string]interface{}{"path": path})
	}
	defer db.Close()

	out := cmd.OutOrStdout()

	switch {
	case opts.pruneBefore != "":
		cutoff, err := backends.ParseSince(opts.pruneBefore, time.Now())
		if err != nil {
			return errors.New(errors.InputError, "invalid --prune-before value", err, nil)
		}
		n, err := db.PruneRuns(cutoff)
		if err != nil {
			return errors.New(errors.StoreError, "cannot prune runs", err, nil)
		}
		fmt.Fprintf(out, "Pruned %d run(s) started before %s\n", n, cutoff.Format(time.RFC3339))
		return nil

	case opts.run != "":
		run, err := db.GetRun(opts.run)
		if err != nil {
			return errors.New(errors.InputError, "cannot find run", err, nil)
		}
		events, err := db.RunEvents(run.ID)
		if err != nil {
			return errors.New(errors.StoreError, "cannot read run events", err, nil)
		}
		return replayRun(out, opts.format, run, events)

	case opts.commit != "":
		events, err := db.FindCommit(opts.commit)
		if err != nil {
			return errors.New(errors.StoreError, "cannot search run history", err, nil)
		}
		return writeCommitEvents(out, opts.format, events)

	default:
		runs, err := db.ListRuns(opts.limit)
		if err != nil {
			return errors.New(errors.StoreError, "cannot list runs", err, nil)
		}
		return writeRuns(out, opts.format, runs)
	}
}

// replayRun renders a recorded run exactly as the live run printed it
func replayRun(w io.Writer, format string, run *storage.Run, events []storage.RecordedEvent) error {
	if format == report.FormatText {
		fmt.Fprintf(w, "# run %s  %s  %s  %s\n", run.ID, run.StartedAt.Local().Format(time.DateTime), run.Status, run.Repo)
	}
	r, err := report.New(format, w, false)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := r.Report(ev.Event); err != nil {
			return err
		}
	}
	return nil
}

func writeCommitEvents(w io.Writer, format string, events []storage.RecordedEvent) error {
	switch format {
	case report.FormatJSON:
		return writeJSON(w, events)
	case report.FormatYAML:
		return yaml.NewEncoder(w).Encode(events)
	}

	if len(events) == 0 {
		fmt.Fprintln(w, "No recorded events name that commit.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tKIND\tCOMMIT\tPARENT\tSUBJECT")
	for _, ev := range events {
		title := ev.Title
		if title == "" {
			title = ev.Subject
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortID(ev.RunID), ev.Kind, backends.ShortHash(ev.Hash), backends.ShortHash(ev.Parent), title)
	}
	return tw.Flush()
}

func writeRuns(w io.Writer, format string, runs []storage.Run) error {
	switch format {
	case report.FormatJSON:
		return writeJSON(w, runs)
	case report.FormatYAML:
		return yaml.NewEncoder(w).Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tSUBJECTS\tFOUND\tNOT FOUND\tFIXERS\tERRORS\tREPO")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			shortID(r.ID), r.StartedAt.Local().Format(time.DateTime), r.Status,
			r.Subjects, r.Found, r.NotFound, r.Fixers, r.BranchErrors, r.Repo)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
