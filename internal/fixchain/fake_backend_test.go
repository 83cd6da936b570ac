package fixchain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fixhunt/internal/backends"
	"fixhunt/internal/errors"
	"fixhunt/internal/slogutil"
)

func discardLogger() *slog.Logger {
	return slogutil.NewDiscardLogger()
}

// hash builds a 40 character hash from a short hex prefix
func hash(prefix string) string {
	return prefix + strings.Repeat("0", 40-len(prefix))
}

// fakeBackend serves queries from an in-memory commit list with the same
// coarse filtering the real backends apply.
type fakeBackend struct {
	mu      sync.Mutex
	commits []backends.Commit
	// failFixes makes FixesQuery for these target hashes fail
	failFixes map[string]error
	// failSubjects makes SubjectQuery for these subjects fail
	failSubjects map[string]error
	// failResolve makes ResolvePrefix for these prefixes fail
	failResolve map[string]error
	delay       time.Duration
	queries     atomic.Int64
	resolves    atomic.Int64
}

func newFakeBackend(commits ...backends.Commit) *fakeBackend {
	return &fakeBackend{
		commits:      commits,
		failFixes:    make(map[string]error),
		failSubjects: make(map[string]error),
		failResolve:  make(map[string]error),
	}
}

// fixing returns a commit body carrying Fixes: trailers for targets
func fixing(targets ...string) string {
	var b strings.Builder
	b.WriteString("Some explanation.\n\n")
	for _, t := range targets {
		fmt.Fprintf(&b, "Fixes: %s (\"whatever\")\n", backends.ShortHash(t))
	}
	return b.String()
}

func (f *fakeBackend) ID() backends.BackendID          { return "fake" }
func (f *fakeBackend) Ping(ctx context.Context) error { return nil }

func (f *fakeBackend) Log(ctx context.Context, q backends.Query, visit func(backends.Commit) error) error {
	f.queries.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	var failure error
	switch q.Kind {
	case backends.FixesQuery:
		failure = f.failFixes[q.Text]
	case backends.SubjectQuery:
		failure = f.failSubjects[q.Text]
	}
	commits := append([]backends.Commit(nil), f.commits...)
	f.mu.Unlock()

	if failure != nil {
		return failure
	}

	for _, c := range commits {
		if !q.MatchMessage(c.Subject + "\n\n" + c.Body) {
			continue
		}
		if err := visit(c); err != nil {
			return err
		}
	}
	return nil
}

// ResolvePrefix expands prefix only when exactly one commit carries it
func (f *fakeBackend) ResolvePrefix(ctx context.Context, prefix string) (string, error) {
	f.resolves.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failResolve[prefix]; err != nil {
		return "", err
	}

	prefix = strings.ToLower(prefix)
	matches := make(map[string]struct{})
	for _, c := range f.commits {
		if h := strings.ToLower(c.Hash); strings.HasPrefix(h, prefix) {
			matches[h] = struct{}{}
		}
	}
	if len(matches) != 1 {
		return "", nil
	}
	for h := range matches {
		return h, nil
	}
	return "", nil
}

var errGitExploded = errors.New(errors.BackendError, "git command failed", fmt.Errorf("exit status 128"), nil)
