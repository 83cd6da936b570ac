package fixchain

import (
	"time"
)

// EventKind identifies what a traversal step discovered
type EventKind string

const (
	// Found means a commit matching an input subject was located
	Found EventKind = "found"
	// FixedBy means a commit was found that fixes an already reported one
	FixedBy EventKind = "fixed_by"
	// NotFound means no commit in scope matches an input subject
	NotFound EventKind = "not_found"
	// BranchError means a history query failed; only that branch stops
	BranchError EventKind = "branch_error"
)

// Event is one streamed result. Fields not meaningful for a kind are empty.
type Event struct {
	Kind EventKind `json:"kind" yaml:"kind"`
	// Subject is the input line this event descends from
	Subject string `json:"subject" yaml:"subject"`
	// Hash is the matched commit (Found), the fixing commit (FixedBy) or
	// the commit whose lookup failed (BranchError, empty when the subject
	// search itself failed)
	Hash string `json:"hash,omitempty" yaml:"hash,omitempty"`
	// Parent is the commit being fixed (FixedBy)
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
	// Title is the subject line of Hash
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	// Depth is 0 for Found and parent depth + 1 for FixedBy
	Depth int `json:"depth" yaml:"depth"`
	// Message describes a BranchError
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	// Code is the error code of a BranchError
	Code string `json:"code,omitempty" yaml:"code,omitempty"`
}

// Reporter consumes events. The scheduler calls Report from a single
// goroutine, so implementations need no locking of their own.
type Reporter interface {
	Report(ev Event) error
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(Event) error

// Report calls f(ev)
func (f ReporterFunc) Report(ev Event) error {
	return f(ev)
}

// Summary tallies a finished or interrupted run
type Summary struct {
	Subjects     int           `json:"subjects" yaml:"subjects"`
	Found        int           `json:"found" yaml:"found"`
	NotFound     int           `json:"notFound" yaml:"notFound"`
	Fixers       int           `json:"fixers" yaml:"fixers"`
	BranchErrors int           `json:"branchErrors" yaml:"branchErrors"`
	Duplicates   int64         `json:"duplicates" yaml:"duplicates"`
	MaxDepth     int           `json:"maxDepth" yaml:"maxDepth"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
	Cancelled    bool          `json:"cancelled" yaml:"cancelled"`
}

func (s *Summary) record(ev Event) {
	switch ev.Kind {
	case Found:
		s.Found++
	case FixedBy:
		s.Fixers++
		if ev.Depth > s.MaxDepth {
			s.MaxDepth = ev.Depth
		}
	case NotFound:
		s.NotFound++
	case BranchError:
		s.BranchErrors++
	}
}
