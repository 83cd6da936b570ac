package fixchain

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"fixhunt/internal/backends"
)

// FixLookup finds the commits that claim to fix a given commit. It is
// shared by all workers of a run.
type FixLookup struct {
	backend backends.Backend
	logger  *slog.Logger

	mu       sync.Mutex
	resolved map[string]string // abbreviated reference -> full hash, "" if ambiguous or unknown
}

// NewFixLookup creates a lookup over backend
func NewFixLookup(backend backends.Backend, logger *slog.Logger) *FixLookup {
	return &FixLookup{
		backend:  backend,
		logger:   logger,
		resolved: make(map[string]string),
	}
}

// candidate is a commit whose Fixes: trailer is a prefix of the target
type candidate struct {
	commit backends.Commit
	refs   []Reference
}

// FindFixers returns every commit in scope whose body carries a
// well-formed Fixes: reference resolving to target. The backend query is
// a coarse prefix grep. Each candidate is re-checked here: malformed
// trailers and prefixes of other commits are dropped, and an abbreviated
// reference that names more than one commit is skipped. A commit never
// fixes itself.
func (l *FixLookup) FindFixers(ctx context.Context, target backends.Commit, scope backends.Scope) ([]backends.Commit, error) {
	targetHash := strings.ToLower(target.Hash)
	seen := make(map[string]struct{})

	var candidates []candidate
	err := l.backend.Log(ctx, backends.NewFixesQuery(targetHash, scope), func(c backends.Commit) error {
		hash := strings.ToLower(c.Hash)
		if hash == targetHash {
			l.logger.Debug("ignoring self reference", "hash", c.Short())
			return nil
		}
		if _, ok := seen[hash]; ok {
			return nil
		}
		seen[hash] = struct{}{}

		refs, malformed := ParseReferences(c.Body)
		for _, raw := range malformed {
			l.logger.Debug("ignoring malformed fixes trailer", "hash", c.Short(), "reference", raw)
		}
		var matching []Reference
		for _, ref := range refs {
			if ref.Resolves(targetHash) {
				matching = append(matching, ref)
			}
		}
		if len(matching) > 0 {
			candidates = append(candidates, candidate{commit: c, refs: matching})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Resolve only once the walk has returned its backend permit
	var fixers []backends.Commit
	for _, cand := range candidates {
		ok, err := l.confirm(ctx, cand, targetHash)
		if err != nil {
			return nil, err
		}
		if ok {
			fixers = append(fixers, cand.commit)
		}
	}
	return fixers, nil
}

// confirm reports whether any of the candidate's references names exactly
// the target commit
func (l *FixLookup) confirm(ctx context.Context, cand candidate, targetHash string) (bool, error) {
	for _, ref := range cand.refs {
		if len(ref.Hash) == len(targetHash) {
			return true, nil
		}
		full, err := l.resolve(ctx, ref.Hash)
		if err != nil {
			return false, err
		}
		if full == targetHash {
			return true, nil
		}
		l.logger.Debug("skipping ambiguous fixes reference",
			"hash", cand.commit.Short(),
			"reference", ref.Raw,
			"target", backends.ShortHash(targetHash),
		)
	}
	return false, nil
}

func (l *FixLookup) resolve(ctx context.Context, prefix string) (string, error) {
	l.mu.Lock()
	full, ok := l.resolved[prefix]
	l.mu.Unlock()
	if ok {
		return full, nil
	}

	full, err := l.backend.ResolvePrefix(ctx, prefix)
	if err != nil {
		return "", err
	}
	full = strings.ToLower(full)

	l.mu.Lock()
	l.resolved[prefix] = full
	l.mu.Unlock()
	return full, nil
}
