// Package umi extracts unique molecular identifiers from primer-flanked reads
// and groups read pairs into per-population UMI libraries.
//
// A primer is written as a nucleotide string with one run of N marking the
// UMI, e.g. "GGGNNNNNNNNNNCCC". A read carries the UMI when the bases before
// the run (Before) occur in it and the bases after the run (After) follow the
// UMI immediately. Matching is exact and case-sensitive.
package umi

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/popgen/popdemux/population"
)

// DefaultRunLength is the usual UMI length.
const DefaultRunLength = 10

// Primer describes where a UMI sits relative to known primer sequence.
type Primer struct {
	// Before is the primer sequence preceding the UMI. It may be empty, in
	// which case the UMI starts at the first base of the read.
	Before string
	// RunLength is the UMI length.
	RunLength int
	// After is the primer sequence following the UMI. It may be empty.
	After string
}

// String returns the primer in its N-run notation.
func (p Primer) String() string {
	return p.Before + strings.Repeat("N", p.RunLength) + p.After
}

// ParsePrimer parses a primer written with a single run of exactly runLength
// N's. The primer is upper-cased first. Errors have kind errors.Invalid.
func ParsePrimer(s string, runLength int) (Primer, error) {
	if runLength <= 0 {
		return Primer{}, errors.E(errors.Invalid, fmt.Sprintf("UMI length %d must be positive", runLength))
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	start := strings.IndexByte(s, 'N')
	if start < 0 {
		return Primer{}, errors.E(errors.Invalid, fmt.Sprintf("primer %q has no run of N", s))
	}
	end := start
	for end < len(s) && s[end] == 'N' {
		end++
	}
	if n := end - start; n != runLength {
		return Primer{}, errors.E(errors.Invalid,
			fmt.Sprintf("primer %q: run of %d N's, want exactly %d", s, n, runLength))
	}
	p := Primer{Before: s[:start], RunLength: runLength, After: s[end:]}
	for _, flank := range []string{p.Before, p.After} {
		for i := 0; i < len(flank); i++ {
			switch flank[i] {
			case 'A', 'C', 'G', 'T':
			case 'N':
				return Primer{}, errors.E(errors.Invalid, fmt.Sprintf("primer %q has more than one run of N", s))
			default:
				return Primer{}, errors.E(errors.Invalid, fmt.Sprintf("primer %q: invalid base %q", s, flank[i]))
			}
		}
	}
	return p, nil
}

type primerRow struct {
	Forward string `tsv:"f"`
	Reverse string `tsv:"r"`
}

// ReadPrimers parses a primer table: comma separated, with a header row
// naming the columns "f" (forward primer) and "r" (reverse primer). Only the
// first data row is used.
func ReadPrimers(r io.Reader, runLength int) (fwd, rev Primer, err error) {
	tr := tsv.NewReader(population.SkipBOM(r))
	tr.Comma = ','
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	var row primerRow
	if err = tr.Read(&row); err != nil {
		if err == io.EOF {
			err = errors.E(errors.Invalid, "primer table has no rows")
		} else {
			err = errors.E(errors.Invalid, "read primer table", err)
		}
		return
	}
	if fwd, err = ParsePrimer(row.Forward, runLength); err != nil {
		return fwd, rev, errors.E(err, "forward primer")
	}
	if rev, err = ParsePrimer(row.Reverse, runLength); err != nil {
		return fwd, rev, errors.E(err, "reverse primer")
	}
	return fwd, rev, nil
}

// LoadPrimers reads the primer table at path. See ReadPrimers.
func LoadPrimers(ctx context.Context, path string, runLength int) (fwd, rev Primer, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return fwd, rev, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	if fwd, rev, err = ReadPrimers(in.Reader(ctx), runLength); err != nil {
		err = errors.E(err, path)
	}
	return
}
