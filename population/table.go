// Package population loads the multiplexing table that maps index pairs to
// experimental populations.
//
// The table is a comma-separated file with a header row. The columns Time,
// Population, GW_name, R1_index and R2_index are required; other columns are
// ignored. GW_name names the raw sample whose reads carry the population:
// R1_index is matched against the start of that sample's forward (R1) reads
// and R2_index against the start of its reverse (R2) reads. An index pair
// identifies at most one population per sample; different samples may reuse
// it.
package population

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
)

// Record is one row of the multiplexing table.
type Record struct {
	Time         string `tsv:"Time"`
	Population   string `tsv:"Population"`
	GWName       string `tsv:"GW_name"`
	ForwardIndex string `tsv:"R1_index"`
	ReverseIndex string `tsv:"R2_index"`
}

// Bucket returns the name of the population's output bucket, e.g. "P12".
func (r *Record) Bucket() string { return "P" + r.Population }

type indexKey struct {
	sample, fwd, rev string
}

// Table is an immutable population lookup. It is safe for concurrent use.
type Table struct {
	records    []Record
	byIndex    map[indexKey]*Record
	byBucket   map[string]*Record
	fwdWidth   int
	revWidth   int
	sampleKeys []string
}

// Load reads the table at path.
func Load(ctx context.Context, path string) (tbl *Table, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	if tbl, err = Read(in.Reader(ctx)); err != nil {
		return nil, errors.E(err, path)
	}
	log.Debug.Printf("%s: loaded %d populations", path, tbl.Len())
	return tbl, nil
}

// Read parses a table from r. Errors that describe a malformed table have
// kind errors.Invalid.
func Read(r io.Reader) (*Table, error) {
	tr := tsv.NewReader(SkipBOM(r))
	tr.Comma = ','
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	var records []Record
	for {
		var rec Record
		err := tr.Read(&rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(errors.Invalid, "read multiplexing table", err)
		}
		records = append(records, rec)
	}
	return New(records)
}

// New builds a table from records, validating them. Index sequences are
// upper-cased; surrounding whitespace is removed from all fields.
func New(records []Record) (*Table, error) {
	if len(records) == 0 {
		return nil, errors.E(errors.Invalid, "multiplexing table has no populations")
	}
	t := &Table{
		records:  make([]Record, len(records)),
		byIndex:  make(map[indexKey]*Record, len(records)),
		byBucket: make(map[string]*Record, len(records)),
		fwdWidth: -1,
		revWidth: -1,
	}
	seenSample := map[string]bool{}
	for i, rec := range records {
		rec.Time = strings.TrimSpace(rec.Time)
		rec.Population = strings.TrimSpace(rec.Population)
		rec.GWName = strings.TrimSpace(rec.GWName)
		rec.ForwardIndex = strings.ToUpper(strings.TrimSpace(rec.ForwardIndex))
		rec.ReverseIndex = strings.ToUpper(strings.TrimSpace(rec.ReverseIndex))
		row := i + 2 // 1-based, after the header.
		if rec.Population == "" {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("row %d: empty Population", row))
		}
		if err := checkIndex(rec.ForwardIndex, &t.fwdWidth); err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("row %d: R1_index", row), err)
		}
		if err := checkIndex(rec.ReverseIndex, &t.revWidth); err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("row %d: R2_index", row), err)
		}
		t.records[i] = rec
		p := &t.records[i]
		if _, ok := t.byBucket[p.Bucket()]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("row %d: duplicate population %s", row, p.Population))
		}
		key := indexKey{p.GWName, p.ForwardIndex, p.ReverseIndex}
		if other, ok := t.byIndex[key]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("row %d: indexes %s/%s of sample %q already assigned to population %s",
				row, p.ForwardIndex, p.ReverseIndex, p.GWName, other.Population))
		}
		t.byBucket[p.Bucket()] = p
		t.byIndex[key] = p
		if p.GWName != "" && !seenSample[p.GWName] {
			seenSample[p.GWName] = true
			t.sampleKeys = append(t.sampleKeys, p.GWName)
		}
	}
	return t, nil
}

// checkIndex verifies that index is a non-empty ACGT string whose length
// equals *width. A negative *width is set to len(index).
func checkIndex(index string, width *int) error {
	if index == "" {
		return fmt.Errorf("empty index")
	}
	for i := 0; i < len(index); i++ {
		switch index[i] {
		case 'A', 'C', 'G', 'T':
		default:
			return fmt.Errorf("index %s: invalid base %q", index, index[i])
		}
	}
	if *width < 0 {
		*width = len(index)
	} else if len(index) != *width {
		return fmt.Errorf("index %s has length %d, other indexes have length %d", index, len(index), *width)
	}
	return nil
}

// Lookup returns the population of sample whose forward and reverse indexes
// equal fwd and rev exactly. Populations of other samples never match.
func (t *Table) Lookup(sample, fwd, rev string) (*Record, bool) {
	r, ok := t.byIndex[indexKey{sample, fwd, rev}]
	return r, ok
}

// Sample returns the populations of the given sample in table order.
func (t *Table) Sample(sample string) []*Record {
	var recs []*Record
	for i := range t.records {
		if t.records[i].GWName == sample {
			recs = append(recs, &t.records[i])
		}
	}
	return recs
}

// ByBucket returns the population with the given bucket name ("P<n>").
func (t *Table) ByBucket(bucket string) (*Record, bool) {
	r, ok := t.byBucket[bucket]
	return r, ok
}

// ForwardWidth is the length of every R1 index in the table.
func (t *Table) ForwardWidth() int { return t.fwdWidth }

// ReverseWidth is the length of every R2 index in the table.
func (t *Table) ReverseWidth() int { return t.revWidth }

// Len returns the number of populations.
func (t *Table) Len() int { return len(t.records) }

// Records returns the populations in table order. The caller must not modify
// the result.
func (t *Table) Records() []Record { return t.records }

// Samples lists the distinct GW names in order of first appearance. Each GW
// name identifies one pair of raw FASTQ files.
func (t *Table) Samples() []string { return t.sampleKeys }

// SkipBOM returns a reader that drops a leading UTF-8 byte order mark.
// Spreadsheet exports commonly begin with one.
func SkipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	return br
}
