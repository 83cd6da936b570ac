package fixchain

import "strings"

// Matches reports whether a commit's subject is the subject being searched
// for. History queries are substring searches over whole messages, so the
// candidates they return must be confirmed against the subject line itself.
// Both sides are compared as given; trimming is left to the subject loader
// and the backends.
func Matches(commitSubject, subject string, ignoreCase bool) bool {
	if subject == "" {
		return false
	}
	if ignoreCase {
		return strings.EqualFold(commitSubject, subject)
	}
	return commitSubject == subject
}
