package fixchain

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// VisitedSet records every commit reported during a run. It is shared by
// all workers and all root subjects: a commit is emitted at most once per
// run no matter how many chains reach it.
type VisitedSet struct {
	set mapset.Set[string]
}

// NewVisitedSet creates an empty thread-safe set
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{set: mapset.NewSet[string]()}
}

// Mark records hash and reports whether it was newly added. Exactly one
// of any number of concurrent callers marking the same hash gets true.
func (v *VisitedSet) Mark(hash string) bool {
	return v.set.Add(strings.ToLower(hash))
}

// Len returns the number of marked commits
func (v *VisitedSet) Len() int {
	return v.set.Cardinality()
}
