package fixchain

import (
	"regexp"
	"strings"

	"fixhunt/internal/backends"
)

// maxReferenceLen is the length of a full SHA-256 object name
const maxReferenceLen = 64

var fixesTrailer = regexp.MustCompile(`(?im)^fixes:[ \t]*(\S+)`)

// Reference is one Fixes: trailer found in a commit body
type Reference struct {
	// Hash is the referenced (possibly abbreviated) hash, lowercased
	Hash string
	// Raw is the token as written
	Raw string
}

// Resolves reports whether the reference is a prefix of the given full
// hash. An abbreviated reference can be a prefix of other commits too;
// FixLookup confirms those against the repository.
func (r Reference) Resolves(hash string) bool {
	return r.Hash != "" && strings.HasPrefix(strings.ToLower(hash), r.Hash)
}

// ParseReferences extracts every Fixes: trailer from a commit body.
// Well-formed references are returned lowercased; tokens that are not
// hexadecimal or are too short or too long are returned in malformed.
func ParseReferences(body string) (refs []Reference, malformed []string) {
	for _, m := range fixesTrailer.FindAllStringSubmatch(body, -1) {
		raw := m[1]
		token := strings.ToLower(strings.TrimRight(raw, ".,:;"))
		if !wellFormedHash(token) {
			malformed = append(malformed, raw)
			continue
		}
		refs = append(refs, Reference{Hash: token, Raw: raw})
	}
	return refs, malformed
}

func wellFormedHash(token string) bool {
	if len(token) < backends.MinReferenceLen || len(token) > maxReferenceLen {
		return false
	}
	for _, c := range token {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
