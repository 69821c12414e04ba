package umi

import "strings"

// Match is the result of a successful extraction.
type Match struct {
	// UMI is the read's bases at the primer's N run.
	UMI string
	// Trimmed is the read after the end of the primer, i.e. the insert.
	Trimmed string
	// Offset is the length of the removed prefix: seq[:Offset]+Trimmed == seq.
	Offset int
}

// Extract locates the primer in seq. Before is searched as a literal
// substring and its first occurrence fixes the UMI position; After must
// then occur exactly at the end of the UMI. There is no fallback to later
// occurrences of Before and no tolerance for mismatches.
func (p Primer) Extract(seq string) (Match, bool) {
	u := strings.Index(seq, p.Before)
	if u < 0 {
		return Match{}, false
	}
	u += len(p.Before)
	a := u + p.RunLength
	end := a + len(p.After)
	if end > len(seq) || seq[a:end] != p.After {
		return Match{}, false
	}
	return Match{UMI: seq[u:a], Trimmed: seq[end:], Offset: end}, true
}
