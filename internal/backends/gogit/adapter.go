// Package gogit answers history queries by walking the repository
// in-process with go-git, for hosts without a git binary.
package gogit

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"fixhunt/internal/backends"
	"fixhunt/internal/errors"
)

// BackendID is the unique identifier for the go-git backend
const BackendID = backends.BackendGoGit

// Adapter walks commits with go-git. Repositories opened from disk get a
// fresh handle per query since go-git handles are not safe for concurrent
// use; in-memory repositories are shared read-only.
type Adapter struct {
	path         string
	open         func() (*git.Repository, error)
	queryTimeout time.Duration
	logger       *slog.Logger
}

// Open creates an adapter for the repository at path
func Open(path string, timeout time.Duration, logger *slog.Logger) (*Adapter, error) {
	open := func() (*git.Repository, error) {
		return git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	}
	if _, err := open(); err != nil {
		return nil, errors.New(errors.BackendUnavailable, "cannot open repository", err,
			errors.GetSuggestedFixes(errors.BackendUnavailable)).
			WithDetails(map[string]interface{}{"repoRoot": path})
	}

	logger.Debug("go-git adapter initialized", "backend", BackendID, "repoRoot", path)
	return &Adapter{path: path, open: open, queryTimeout: timeout, logger: logger}, nil
}

// New wraps an already open repository, typically one on in-memory storage
func New(repo *git.Repository, logger *slog.Logger) *Adapter {
	return &Adapter{
		path:   "memory",
		open:   func() (*git.Repository, error) { return repo, nil },
		logger: logger,
	}
}

// ID returns the backend identifier
func (a *Adapter) ID() backends.BackendID {
	return BackendID
}

// Ping checks the repository can be opened and its references listed
func (a *Adapter) Ping(ctx context.Context) error {
	repo, err := a.open()
	if err != nil {
		return errors.New(errors.BackendUnavailable, "cannot open repository", err, nil)
	}
	refs, err := repo.References()
	if err != nil {
		return errors.New(errors.BackendUnavailable, "cannot list references", err, nil)
	}
	refs.Close()
	return nil
}

// Head returns the commit hash HEAD points at
func (a *Adapter) Head(ctx context.Context) (string, error) {
	repo, err := a.open()
	if err != nil {
		return "", errors.New(errors.BackendError, "cannot open repository", err, nil)
	}
	ref, err := repo.Head()
	if err != nil {
		return "", errors.New(errors.BackendError, "cannot resolve HEAD", err, nil)
	}
	return ref.Hash().String(), nil
}

// Log walks every ref in scope and streams commits whose message passes
// the query filter. Commits reachable from several refs are visited once.
func (a *Adapter) Log(ctx context.Context, q backends.Query, visit func(backends.Commit) error) error {
	if q.Kind == backends.FixesQuery && len(q.HashPrefix()) < backends.MinReferenceLen {
		return errors.New(errors.InputError, "hash is too short for a fixes query", nil, nil)
	}
	if a.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.queryTimeout)
		defer cancel()
	}

	repo, err := a.open()
	if err != nil {
		return errors.New(errors.BackendError, "cannot open repository", err, nil)
	}

	var since *time.Time
	if !q.Scope.Since.IsZero() {
		s := q.Scope.Since
		since = &s
	}

	var options []*git.LogOptions
	if len(q.Scope.Refs) == 0 {
		options = append(options, &git.LogOptions{All: true, Since: since})
	} else {
		for _, ref := range q.Scope.Refs {
			hash, err := repo.ResolveRevision(plumbing.Revision(ref))
			if err != nil {
				return errors.New(errors.BackendError, "unknown revision "+ref, err, nil).
					WithDetails(map[string]interface{}{"ref": ref})
			}
			options = append(options, &git.LogOptions{From: *hash, Since: since})
		}
	}

	a.logger.Debug("walking history", "repoRoot", a.path, "kind", q.Kind, "refs", q.Scope.Refs)

	seen := make(map[plumbing.Hash]struct{})
	var visitErr error
	for _, opts := range options {
		iter, err := repo.Log(opts)
		if err != nil {
			if stderrors.Is(err, plumbing.ErrReferenceNotFound) {
				// Empty repository
				continue
			}
			return errors.New(errors.BackendError, "cannot walk history", err, nil)
		}

		err = iter.ForEach(func(c *object.Commit) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, ok := seen[c.Hash]; ok {
				return nil
			}
			seen[c.Hash] = struct{}{}

			if !q.MatchMessage(c.Message) {
				return nil
			}
			subject, body := backends.SplitMessage(c.Message)
			if err := visit(backends.Commit{Hash: c.Hash.String(), Subject: subject, Body: body}); err != nil {
				visitErr = err
				return storer.ErrStop
			}
			return nil
		})
		iter.Close()

		if visitErr != nil {
			return visitErr
		}
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

// ResolvePrefix scans the object database for commits whose hash starts
// with prefix. go-git's revision parser takes the first match it finds, so
// ambiguity is detected here by stopping at the second distinct match.
func (a *Adapter) ResolvePrefix(ctx context.Context, prefix string) (string, error) {
	if !backends.IsHex(prefix) {
		return "", nil
	}
	prefix = strings.ToLower(prefix)
	if a.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.queryTimeout)
		defer cancel()
	}

	repo, err := a.open()
	if err != nil {
		return "", errors.New(errors.BackendError, "cannot open repository", err, nil)
	}

	if len(prefix) == len(plumbing.ZeroHash.String()) {
		c, err := repo.CommitObject(plumbing.NewHash(prefix))
		if stderrors.Is(err, plumbing.ErrObjectNotFound) {
			return "", nil
		}
		if err != nil {
			return "", classify(err)
		}
		return c.Hash.String(), nil
	}

	iter, err := repo.CommitObjects()
	if err != nil {
		return "", errors.New(errors.BackendError, "cannot list commits", err, nil)
	}
	defer iter.Close()

	var matches []string
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		hash := c.Hash.String()
		if !strings.HasPrefix(hash, prefix) {
			return nil
		}
		for _, m := range matches {
			if m == hash {
				return nil
			}
		}
		matches = append(matches, hash)
		if len(matches) > 1 {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return "", classify(err)
	}

	if len(matches) != 1 {
		a.logger.Debug("hash prefix did not resolve", "prefix", prefix, "matches", len(matches))
		return "", nil
	}
	return matches[0], nil
}

func classify(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.Timeout, "history walk timed out", err,
			errors.GetSuggestedFixes(errors.Timeout))
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	return errors.New(errors.BackendError, "cannot walk history", err, nil)
}
