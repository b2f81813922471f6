// Package live manages the trainee's speech capture: interim transcripts
// arrive per audio chunk and are debounced into finalized utterances.
package live

import (
	"strings"
)

// normalizeSpace collapses runs of whitespace into single spaces and
// trims the ends.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// fillerOnly matches transcripts that carry no content worth keeping.
var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "hmm": {}, "mhm": {}, "er": {}, "ah": {},
}

// meaningful reports whether a normalized transcript should count as
// speech. Empty strings, pure filler, and exact echoes of the previous
// segment are dropped.
func meaningful(norm, lastSegment string) bool {
	if norm == "" {
		return false
	}
	if strings.EqualFold(norm, lastSegment) {
		return false
	}
	for _, f := range strings.Fields(strings.ToLower(norm)) {
		cleaned := strings.Trim(f, ".,!?")
		if _, ok := fillerWords[cleaned]; !ok {
			return true
		}
	}
	return false
}
