package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fixhunt/internal/backends"
	"fixhunt/internal/backends/git"
	"fixhunt/internal/backends/gogit"
	"fixhunt/internal/config"
	"fixhunt/internal/errors"
	"fixhunt/internal/fixchain"
	"fixhunt/internal/metrics"
	"fixhunt/internal/report"
	"fixhunt/internal/slogutil"
	"fixhunt/internal/storage"
	"fixhunt/internal/subjects"
	"fixhunt/internal/version"
)

// globalOptions are the flags shared by every command
type globalOptions struct {
	configFile string
	verbose    bool
	quiet      bool
}

// runOptions holds the flags of the search itself. Most of them are read
// through viper; the fields exist so cobra has somewhere to parse into.
type runOptions struct {
	branches    []string
	since       string
	ignoreCase  bool
	jobs        int
	noRecursive bool
	format      string
	color       string
	backend     string
	db          string
	metricsFile string
}

func newRootCmd() *cobra.Command {
	global := &globalOptions{}
	opts := &runOptions{}
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "fixhunt [flags] <subjects-file> <repo>",
		Short: "fixhunt - find the commits that fix other commits",
		Long: `fixhunt reads a list of commit subjects, locates each one in a git
repository and reports every commit whose message carries a
"Fixes: <hash>" trailer pointing at it. Fixes of fixes are followed
recursively until the chain ends.

Use "-" as the subjects file to read from standard input. Gzip and zstd
compressed lists are detected automatically.

Examples:
  fixhunt subjects.txt ~/src/linux
  fixhunt -b linux-6.1.y -s 2022-01-01 subjects.txt ~/src/linux
  git log --format=%s v6.1..v6.2 | fixhunt --format=json - ~/src/linux`,
		Args:          cobra.ExactArgs(2),
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(cmd, global, args[0], args[1])
		},
	}
	cmd.SetVersionTemplate("fixhunt version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&global.configFile, "config", "", "Explicit config file (json, yaml or toml)")
	pf.BoolVarP(&global.verbose, "verbose", "v", false, "Verbose diagnostics (debug logging)")
	pf.BoolVarP(&global.quiet, "quiet", "q", false, "Only log errors")

	f := cmd.Flags()
	f.StringArrayVarP(&opts.branches, "branch", "b", nil, "Ref to search (repeatable; default all refs)")
	f.StringVarP(&opts.since, "since", "s", defaults.Search.Since, "Ignore commits older than this date")
	f.BoolVarP(&opts.ignoreCase, "ignore-case", "i", defaults.Search.IgnoreCase, "Case-insensitive subject matching")
	f.IntVarP(&opts.jobs, "jobs", "j", defaults.Workers.Jobs, "Number of concurrent workers")
	f.BoolVar(&opts.noRecursive, "no-recursive", false, "Do not follow fixes of fixes")
	f.StringVar(&opts.format, "format", defaults.Output.Format, "Output format (text, json, yaml)")
	f.StringVar(&opts.color, "color", defaults.Output.Color, "Color text output (auto, always, never)")
	f.StringVar(&opts.backend, "backend", defaults.Backend.Kind, "History backend (git, gogit)")
	f.StringVar(&opts.db, "db", "", "Record the run in this SQLite history database")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format")

	cmd.AddCommand(newHistoryCmd(global))
	cmd.AddCommand(newConfigCmd(global))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig resolves the effective configuration for repoRoot
func loadConfig(cmd *cobra.Command, global *globalOptions, repoRoot string) (*config.Config, error) {
	cfg, err := config.LoadConfig(config.LoadOptions{
		RepoRoot:   repoRoot,
		ConfigFile: global.configFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, errors.New(errors.ConfigInvalid, "cannot load configuration", err,
			errors.GetSuggestedFixes(errors.ConfigInvalid))
	}

	// Flags without a config key of their own
	if f := cmd.Flags().Lookup("no-recursive"); f != nil && f.Changed {
		cfg.Search.Recursive = false
	}
	if f := cmd.Flags().Lookup("color"); f != nil && f.Changed {
		cfg.Output.Color = f.Value.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.New(errors.ConfigInvalid, "invalid configuration", err,
			errors.GetSuggestedFixes(errors.ConfigInvalid))
	}
	return cfg, nil
}

// newLogger builds the process logger; the returned func closes log files
func newLogger(cmd *cobra.Command, global *globalOptions, cfg *config.Config) (*slog.Logger, func(), error) {
	factory := slogutil.NewLoggerFactory(cfg.Logging, cmd.ErrOrStderr()).WithFlags(global.verbose, global.quiet)
	logger, err := factory.Logger()
	if err != nil {
		return nil, nil, errors.New(errors.ConfigInvalid, "cannot open log file", err, nil).
			WithDetails(map[string]interface{}{"file": cfg.Logging.File})
	}
	return logger, func() { _ = factory.Close() }, nil
}

// headReader is implemented by backends that can resolve HEAD
type headReader interface {
	Head(ctx context.Context) (string, error)
}

// openBackend creates the configured history backend for repo
func openBackend(repo string, cfg config.BackendConfig, logger *slog.Logger) (backends.Backend, error) {
	switch backends.BackendID(cfg.Kind) {
	case backends.BackendGit:
		return git.NewGitAdapter(repo, cfg, logger)
	case backends.BackendGoGit:
		timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
		return gogit.Open(repo, timeout, logger)
	default:
		return nil, errors.New(errors.ConfigInvalid, fmt.Sprintf("unknown backend %q", cfg.Kind), nil,
			errors.GetSuggestedFixes(errors.ConfigInvalid))
	}
}

// runRecord is the subset of options stored with a recorded run
type runRecord struct {
	Branches   []string `json:"branches,omitempty"`
	Since      string   `json:"since"`
	IgnoreCase bool     `json:"ignoreCase"`
	Recursive  bool     `json:"recursive"`
	Jobs       int      `json:"jobs"`
}

func runFind(cmd *cobra.Command, global *globalOptions, subjectsFile, repo string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd, global, repo)
	if err != nil {
		return err
	}

	logger, closeLogs, err := newLogger(cmd, global, cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	subjectList, err := subjects.Load(subjectsFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	scope, err := backends.NewScope(cfg.Search.Branches, cfg.Search.Since, cfg.Search.IgnoreCase, time.Now())
	if err != nil {
		return errors.New(errors.ConfigInvalid, "invalid --since value", err,
			errors.GetSuggestedFixes(errors.ConfigInvalid))
	}

	backend, err := openBackend(repo, cfg.Backend, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	limited := backends.NewLimiter(backend, backends.LimitConfig{
		MaxInFlight:      cfg.Backend.MaxInFlight,
		QueriesPerSecond: cfg.Backend.QueriesPerSecond,
	}, m)

	// A repository that cannot be queried at all aborts before any branch starts
	if err := limited.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.CodeOf(err) == errors.InternalError {
			err = errors.New(errors.BackendUnavailable, "repository cannot be queried", err,
				errors.GetSuggestedFixes(errors.BackendUnavailable))
		}
		return err
	}

	stdout := cmd.OutOrStdout()
	stdoutFile, _ := stdout.(*os.File)
	out, err := report.New(cfg.Output.Format, stdout, report.UseColor(cfg.Output.Color, stdoutFile))
	if err != nil {
		return errors.New(errors.ConfigInvalid, "invalid output format", err, nil)
	}
	reporters := report.Multi{out, m}

	var (
		db       *storage.DB
		recorder *storage.Recorder
		run      *storage.Run
	)
	if cfg.Store.Path != "" {
		db, err = storage.Open(cfg.Store.Path, logger)
		if err != nil {
			return errors.New(errors.StoreError, "cannot open run history", err, nil).
				WithDetails(map[string]interface{}{"path": cfg.Store.Path})
		}
		defer db.Close()

		run = &storage.Run{
			Repo:         repo,
			Backend:      string(limited.ID()),
			SubjectsFile: subjectsFile,
			OptionsJSON:  encodeRunRecord(cfg),
			Subjects:     len(subjectList),
		}
		if hr, ok := backend.(headReader); ok {
			if head, err := hr.Head(ctx); err == nil {
				run.Head = head
			} else {
				logger.Debug("cannot resolve HEAD", "error", err)
			}
		}
		if err := db.CreateRun(run); err != nil {
			return errors.New(errors.StoreError, "cannot record run", err, nil)
		}
		recorder = storage.NewRecorder(db, run.ID)
		reporters = append(reporters, recorder)
		logger.Info("recording run", "run", run.ID, "db", cfg.Store.Path)
	}

	resolver := fixchain.NewResolver(limited, fixchain.ResolverOptions{
		Scope:     scope,
		Recursive: cfg.Search.Recursive,
	}, logger)
	scheduler := fixchain.NewScheduler(resolver, logger, fixchain.SchedulerConfig{
		Workers: cfg.Workers.Jobs,
	})

	summary, runErr := scheduler.Run(ctx, subjectList, reporters)

	if recorder != nil {
		if err := recorder.Flush(); err != nil && runErr == nil {
			runErr = errors.New(errors.StoreError, "cannot record events", err, nil)
		}
		if err := db.FinishRun(run.ID, summary, runStatus(summary, runErr)); err != nil {
			logger.Error("cannot finish recorded run", "run", run.ID, "error", err)
		}
	}

	m.Finish(summary, time.Now())
	if cfg.Metrics.TextfilePath != "" {
		if err := m.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			logger.Error("cannot write metrics", "path", cfg.Metrics.TextfilePath, "error", err)
		}
	}

	if summary != nil {
		logger.Info("run summary",
			"subjects", summary.Subjects,
			"found", summary.Found,
			"notFound", summary.NotFound,
			"fixers", summary.Fixers,
			"branchErrors", summary.BranchErrors,
			"duplicates", summary.Duplicates,
			"maxDepth", summary.MaxDepth,
			"elapsed", summary.Elapsed.Round(time.Millisecond).String(),
		)
	}
	return runErr
}

func runStatus(summary *fixchain.Summary, err error) storage.RunStatus {
	switch {
	case summary != nil && summary.Cancelled:
		return storage.RunCancelled
	case err != nil:
		return storage.RunFailed
	default:
		return storage.RunCompleted
	}
}

func encodeRunRecord(cfg *config.Config) string {
	data, err := json.Marshal(runRecord{
		Branches:   cfg.Search.Branches,
		Since:      cfg.Search.Since,
		IgnoreCase: cfg.Search.IgnoreCase,
		Recursive:  cfg.Search.Recursive,
		Jobs:       cfg.Workers.Jobs,
	})
	if err != nil {
		return ""
	}
	return string(data)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fixhunt version %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.BuildDate)
		},
	}
}
