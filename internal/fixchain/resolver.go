// Package fixchain finds, for each input subject, the commits that fix it
// and, transitively, the commits that fix those fixes.
package fixchain

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"fixhunt/internal/backends"
	"fixhunt/internal/errors"
)

// Resolver performs one traversal step at a time. It is stateless apart
// from the shared visited set, so any number of workers may call it.
type Resolver struct {
	backend   backends.Backend
	lookup    *FixLookup
	visited   *VisitedSet
	scope     backends.Scope
	recursive bool
	logger    *slog.Logger

	duplicates atomic.Int64
}

// ResolverOptions configures a Resolver
type ResolverOptions struct {
	Scope     backends.Scope
	Recursive bool
}

// NewResolver creates a resolver with a fresh visited set
func NewResolver(backend backends.Backend, opts ResolverOptions, logger *slog.Logger) *Resolver {
	return &Resolver{
		backend:   backend,
		lookup:    NewFixLookup(backend, logger),
		visited:   NewVisitedSet(),
		scope:     opts.Scope,
		recursive: opts.Recursive,
		logger:    logger,
	}
}

// Duplicates returns how many already reported commits were skipped
func (r *Resolver) Duplicates() int64 {
	return r.duplicates.Load()
}

// step processes t, emitting events and spawning follow-up tasks. Within a
// branch an event is always emitted before the tasks it causes are spawned.
func (r *Resolver) step(ctx context.Context, t task, emit func(Event), spawn func(task)) {
	switch t.phase {
	case phaseSearch:
		r.search(ctx, t, emit, spawn)
	case phaseExpand:
		r.expand(ctx, t, emit, spawn)
	}
}

// FindSubject returns the commits in scope whose subject matches subject.
// Several matches are all returned; the caller treats each as its own
// branch.
func (r *Resolver) FindSubject(ctx context.Context, subject string) ([]backends.Commit, error) {
	seen := make(map[string]struct{})
	var matches []backends.Commit
	err := r.backend.Log(ctx, backends.NewSubjectQuery(subject, r.scope), func(c backends.Commit) error {
		if !Matches(c.Subject, subject, r.scope.IgnoreCase) {
			return nil
		}
		hash := strings.ToLower(c.Hash)
		if _, ok := seen[hash]; ok {
			return nil
		}
		seen[hash] = struct{}{}
		matches = append(matches, c)
		return nil
	})
	return matches, err
}

func (r *Resolver) search(ctx context.Context, t task, emit func(Event), spawn func(task)) {
	r.logger.Debug("searching", "subject", t.subject)

	matches, err := r.FindSubject(ctx, t.subject)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("subject search failed", "subject", t.subject, "error", err)
		emit(branchError(t.subject, "", 0, err))
		return
	}

	if len(matches) == 0 {
		emit(Event{Kind: NotFound, Subject: t.subject})
		return
	}
	if len(matches) > 1 {
		r.logger.Info("subject matches several commits", "subject", t.subject, "matches", len(matches))
	}

	for _, c := range matches {
		if !r.visited.Mark(c.Hash) {
			r.duplicates.Add(1)
			r.logger.Debug("already reported", "hash", c.Short(), "subject", t.subject)
			continue
		}
		emit(Event{Kind: Found, Subject: t.subject, Hash: c.Hash, Title: c.Subject, Depth: 0})
		spawn(task{phase: phaseExpand, subject: t.subject, commit: c, depth: 0})
	}
}

func (r *Resolver) expand(ctx context.Context, t task, emit func(Event), spawn func(task)) {
	r.logger.Debug("looking for fixes", "hash", t.commit.Short(), "depth", t.depth)

	fixers, err := r.lookup.FindFixers(ctx, t.commit, r.scope)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("fixes lookup failed", "hash", t.commit.Short(), "error", err)
		emit(branchError(t.subject, t.commit.Hash, t.depth, err))
		return
	}

	for _, f := range fixers {
		if !r.visited.Mark(f.Hash) {
			r.duplicates.Add(1)
			r.logger.Debug("already reported", "hash", f.Short(), "fixes", t.commit.Short())
			continue
		}
		emit(Event{
			Kind:    FixedBy,
			Subject: t.subject,
			Hash:    f.Hash,
			Parent:  t.commit.Hash,
			Title:   f.Subject,
			Depth:   t.depth + 1,
		})
		if r.recursive {
			spawn(task{phase: phaseExpand, subject: t.subject, commit: f, depth: t.depth + 1})
		}
	}
}

func branchError(subject, hash string, depth int, err error) Event {
	return Event{
		Kind:    BranchError,
		Subject: subject,
		Hash:    hash,
		Depth:   depth,
		Message: err.Error(),
		Code:    string(errors.CodeOf(err)),
	}
}
