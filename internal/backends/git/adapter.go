package git

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"fixhunt/internal/backends"
	"fixhunt/internal/config"
	"fixhunt/internal/errors"
)

const (
	// BackendID is the unique identifier for the git backend
	BackendID = backends.BackendGit

	// DefaultQueryTimeout bounds a single git log invocation
	DefaultQueryTimeout = 120 * time.Second

	// logFormat separates fields with US and records with RS so that
	// multi-line bodies survive the round trip.
	logFormat = "--format=%H%x1f%s%x1f%b%x1e"

	fieldSep  = '\x1f'
	recordSep = '\x1e'

	// maxRecordSize caps a single commit record; kernel merge messages
	// can run to several hundred kilobytes.
	maxRecordSize = 16 * 1024 * 1024
)

// GitAdapter answers history queries by running git log
type GitAdapter struct {
	repoRoot     string
	gitBinary    string
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewGitAdapter creates a new git backend adapter for repoRoot
func NewGitAdapter(repoRoot string, cfg config.BackendConfig, logger *slog.Logger) (*GitAdapter, error) {
	if logger == nil {
		return nil, errors.New(errors.InternalError, "logger is required for GitAdapter", nil, nil)
	}
	if repoRoot == "" {
		return nil, errors.New(errors.InputError, "repository path is required", nil, nil)
	}

	timeout := DefaultQueryTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}

	binary := cfg.GitBinary
	if binary == "" {
		binary = "git"
	}

	adapter := &GitAdapter{
		repoRoot:     repoRoot,
		gitBinary:    binary,
		queryTimeout: timeout,
		logger:       logger,
	}

	logger.Debug("git adapter initialized",
		"backend", BackendID,
		"repoRoot", repoRoot,
		"binary", binary,
		"timeout", timeout.String(),
	)

	return adapter, nil
}

// ID returns the backend identifier
func (g *GitAdapter) ID() backends.BackendID {
	return BackendID
}

// Ping checks the git binary runs and repoRoot is a repository
func (g *GitAdapter) Ping(ctx context.Context) error {
	if _, err := exec.LookPath(g.gitBinary); err != nil {
		return errors.New(errors.BackendUnavailable, "git binary not found", err,
			errors.GetSuggestedFixes(errors.BackendUnavailable)).
			WithDetails(map[string]interface{}{"binary": g.gitBinary})
	}

	if _, err := g.executeGitCommand(ctx, "rev-parse", "--git-dir"); err != nil {
		return errors.New(errors.BackendUnavailable, "not a git repository", err,
			errors.GetSuggestedFixes(errors.BackendUnavailable)).
			WithDetails(map[string]interface{}{"repoRoot": g.repoRoot})
	}
	return nil
}

// Head returns the commit hash HEAD points at
func (g *GitAdapter) Head(ctx context.Context) (string, error) {
	return g.executeGitCommand(ctx, "rev-parse", "HEAD")
}

// Log runs git log for q and streams every parsed record to visit
func (g *GitAdapter) Log(ctx context.Context, q backends.Query, visit func(backends.Commit) error) error {
	args, err := logArgs(q)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	cmd := g.command(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.New(errors.InternalError, "failed to attach to git output", err, nil)
	}

	g.logger.Debug("executing git command",
		"kind", q.Kind,
		"args", args,
		"timeout", g.queryTimeout.String(),
	)

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New(errors.BackendUnavailable, "failed to start git", err,
			errors.GetSuggestedFixes(errors.BackendUnavailable))
	}

	visitErr := parseLog(stdout, visit)
	if visitErr != nil {
		// Stop git early; its exit status no longer matters
		cancel()
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if visitErr != nil {
		return visitErr
	}
	if waitErr != nil {
		return g.classify(ctx, args, waitErr, stderr.String())
	}
	return nil
}

// ResolvePrefix expands prefix with rev-parse. git refuses an ambiguous
// short hash, so both unknown and ambiguous prefixes come back as "".
func (g *GitAdapter) ResolvePrefix(ctx context.Context, prefix string) (string, error) {
	if !backends.IsHex(prefix) {
		return "", nil
	}

	args := []string{"rev-parse", "--verify", "--quiet", strings.ToLower(prefix) + "^{commit}"}
	hash, err := g.executeGitCommand(ctx, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) && exitErr.ExitCode() == 1 && ctx.Err() == nil {
			g.logger.Debug("hash prefix did not resolve", "prefix", prefix)
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

// classify maps a failed git invocation onto an error code
func (g *GitAdapter) classify(ctx context.Context, args []string, err error, stderr string) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.New(errors.Timeout, "git command timed out", err,
			errors.GetSuggestedFixes(errors.Timeout)).
			WithDetails(map[string]interface{}{"args": args, "timeout": g.queryTimeout.String()})
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return errors.New(errors.BackendError, "git command failed", err, nil).
		WithDetails(map[string]interface{}{
			"args":   args,
			"stderr": strings.TrimSpace(stderr),
		})
}

// logArgs builds the git log argument list for q
func logArgs(q backends.Query) ([]string, error) {
	args := []string{"log", logFormat}

	if !q.Scope.Since.IsZero() {
		args = append(args, "--since="+q.Scope.Since.Format(time.RFC3339))
	}
	if q.IgnoresCase() {
		args = append(args, "--regexp-ignore-case")
	}

	switch q.Kind {
	case backends.SubjectQuery:
		if q.Text == "" {
			return nil, errors.New(errors.InputError, "empty subject query", nil, nil)
		}
		args = append(args, "--fixed-strings", "--grep="+q.Text)
	case backends.FixesQuery:
		if len(q.HashPrefix()) < backends.MinReferenceLen {
			return nil, errors.New(errors.InputError,
				fmt.Sprintf("hash %q is shorter than %d characters", q.Text, backends.MinReferenceLen), nil, nil)
		}
		args = append(args, "--extended-regexp", "--grep="+q.FixesPattern())
	default:
		return nil, errors.New(errors.InternalError, fmt.Sprintf("unknown query kind %q", q.Kind), nil, nil)
	}

	if len(q.Scope.Refs) == 0 {
		args = append(args, "--all")
	} else {
		// Refs are user input; keep them from being read as options
		args = append(args, "--end-of-options")
		args = append(args, q.Scope.Refs...)
	}
	return args, nil
}

// parseLog splits git log output into records and hands each to visit
func parseLog(r io.Reader, visit func(backends.Commit) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)
	scanner.Split(splitRecords)

	for scanner.Scan() {
		commit, ok := parseRecord(scanner.Text())
		if !ok {
			continue
		}
		if err := visit(commit); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.New(errors.BackendError, "failed to read git output", err, nil)
	}
	return nil
}

// splitRecords is a bufio.SplitFunc that splits on the record separator
func splitRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, recordSep); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseRecord turns "hash US subject US body" into a Commit
func parseRecord(record string) (backends.Commit, bool) {
	record = strings.TrimLeft(record, "\r\n")
	if strings.TrimSpace(record) == "" {
		return backends.Commit{}, false
	}

	fields := strings.SplitN(record, string(fieldSep), 3)
	if len(fields) < 2 {
		return backends.Commit{}, false
	}

	commit := backends.Commit{
		Hash:    strings.TrimSpace(fields[0]),
		Subject: strings.TrimSpace(fields[1]),
	}
	if len(fields) == 3 {
		commit.Body = fields[2]
	}
	if commit.Hash == "" {
		return backends.Commit{}, false
	}
	return commit, true
}

func (g *GitAdapter) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, g.gitBinary, append([]string{"-C", g.repoRoot}, args...)...)
	// Never page or prompt
	cmd.Env = append(cmd.Environ(), "GIT_PAGER=cat", "GIT_TERMINAL_PROMPT=0")
	return cmd
}

// executeGitCommand runs a short git command and returns its trimmed output
func (g *GitAdapter) executeGitCommand(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	g.logger.Debug("executing git command", "args", args)

	output, err := g.command(ctx, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			return "", g.classify(ctx, args, err, string(exitErr.Stderr))
		}
		return "", g.classify(ctx, args, err, "")
	}

	return strings.TrimSpace(string(output)), nil
}
