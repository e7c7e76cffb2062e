package bills

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s and strips combining marks so "Votación" and
// "VOTACION" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

var voteKeywords = []string{"votacion"}

// isVoteCandidate reports whether a step's detail mentions a vote.
func isVoteCandidate(detail string) bool {
	f := fold(detail)
	for _, kw := range voteKeywords {
		if strings.Contains(f, kw) {
			return true
		}
	}
	return false
}

// isPublicationStep reports whether a step's detail records publication in
// the official gazette.
func isPublicationStep(detail string) bool {
	return strings.Contains(fold(detail), "publicad")
}
