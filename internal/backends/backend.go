package backends

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// BackendID represents a unique identifier for a history backend
type BackendID string

const (
	// BackendGit shells out to the git binary
	BackendGit BackendID = "git"
	// BackendGoGit reads the repository in-process with go-git
	BackendGoGit BackendID = "gogit"
)

// MinReferenceLen is the shortest abbreviated hash accepted in a Fixes: trailer.
// Fix lookups grep history for this many leading hex digits of the target.
const MinReferenceLen = 7

// Commit is a single commit as returned by a history query
type Commit struct {
	Hash    string `json:"hash"`
	Subject string `json:"subject"`
	Body    string `json:"body,omitempty"`
}

// Short returns the first 12 characters of the hash
func (c Commit) Short() string {
	return ShortHash(c.Hash)
}

// ShortHash abbreviates a full hash to 12 characters
func ShortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// Scope bounds every query of a run
type Scope struct {
	// Refs to walk; empty means all refs
	Refs []string
	// Since excludes commits older than this; zero means unbounded
	Since time.Time
	// IgnoreCase makes subject matching case-insensitive
	IgnoreCase bool
}

// QueryKind distinguishes the history queries the engine issues
type QueryKind string

const (
	// SubjectQuery finds commits whose message contains a subject line
	SubjectQuery QueryKind = "subject"
	// FixesQuery finds commits whose message carries a Fixes: trailer
	// starting with the target hash prefix
	FixesQuery QueryKind = "fixes"
	// ResolveQuery expands an abbreviated hash to the one commit it names
	ResolveQuery QueryKind = "resolve"
)

// Query is one history search
type Query struct {
	Kind  QueryKind
	Text  string // subject text, or the target commit hash for FixesQuery
	Scope Scope
}

// NewSubjectQuery builds a query for commits mentioning subject
func NewSubjectQuery(subject string, scope Scope) Query {
	return Query{Kind: SubjectQuery, Text: subject, Scope: scope}
}

// NewFixesQuery builds a query for commits referencing target in a Fixes: trailer
func NewFixesQuery(target string, scope Scope) Query {
	return Query{Kind: FixesQuery, Text: target, Scope: scope}
}

// HashPrefix returns the lowercased hash prefix a FixesQuery greps for
func (q Query) HashPrefix() string {
	prefix := strings.ToLower(strings.TrimSpace(q.Text))
	if len(prefix) > MinReferenceLen {
		prefix = prefix[:MinReferenceLen]
	}
	return prefix
}

// FixesPattern is the extended regular expression a FixesQuery greps with.
// It is matched per line and case-insensitively.
func (q Query) FixesPattern() string {
	return "^fixes:[[:space:]]*" + regexp.QuoteMeta(q.HashPrefix())
}

// IgnoresCase reports whether the backend filter should fold case.
// Fixes trailers are always matched case-insensitively.
func (q Query) IgnoresCase() bool {
	return q.Kind == FixesQuery || q.Scope.IgnoreCase
}

// MatchMessage applies the same coarse filter git's --grep does to a full
// commit message. Backends that walk history in-process use it so both
// backends hand the engine the same candidate set.
func (q Query) MatchMessage(message string) bool {
	switch q.Kind {
	case SubjectQuery:
		if q.Scope.IgnoreCase {
			return strings.Contains(strings.ToLower(message), strings.ToLower(q.Text))
		}
		return strings.Contains(message, q.Text)
	case FixesQuery:
		prefix := q.HashPrefix()
		if prefix == "" {
			return false
		}
		for _, line := range strings.Split(message, "\n") {
			lower := strings.ToLower(line)
			if !strings.HasPrefix(lower, "fixes:") {
				continue
			}
			rest := strings.TrimLeft(lower[len("fixes:"):], " \t\v\f\r")
			if strings.HasPrefix(rest, prefix) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// SplitMessage splits a raw commit message into subject and body the way
// git's %s and %b placeholders do: the subject is the first paragraph
// joined onto one line, the body is everything after it.
func SplitMessage(message string) (subject, body string) {
	message = strings.TrimLeft(strings.ReplaceAll(message, "\r\n", "\n"), "\n")
	para, rest, _ := strings.Cut(message, "\n\n")

	lines := strings.Split(strings.TrimRight(para, "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	subject = strings.Join(lines, " ")
	body = strings.TrimLeft(rest, "\n")
	return subject, body
}

// Backend is the history query capability the engine depends on.
// Implementations must be safe for concurrent use.
type Backend interface {
	// ID returns the unique identifier for this backend
	ID() BackendID

	// Ping verifies the repository can be queried at all
	Ping(ctx context.Context) error

	// Log streams every commit in scope matching the query to visit.
	// Returning an error from visit stops the walk and is returned as is.
	Log(ctx context.Context, q Query, visit func(Commit) error) error

	// ResolvePrefix returns the full hash of the single commit whose hash
	// starts with prefix. It returns "" without error when prefix names no
	// commit or more than one.
	ResolvePrefix(ctx context.Context, prefix string) (string, error)
}

// IsHex reports whether s is a non-empty run of hexadecimal digits
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// Collect runs q against b and returns all streamed commits
func Collect(ctx context.Context, b Backend, q Query) ([]Commit, error) {
	var commits []Commit
	err := b.Log(ctx, q, func(c Commit) error {
		commits = append(commits, c)
		return nil
	})
	return commits, err
}
