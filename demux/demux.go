// Package demux sorts the paired-end reads of a raw sample into population
// buckets by the index sequences at the start of each read.
//
// Each pair is classified by the first matching rule:
//
//  1. either read is shorter than the short-read threshold: bucket "short";
//  2. the R1 and R2 index prefixes equal the indexes of one of the sample's
//     populations: that population's bucket;
//  3. otherwise: bucket "unmatched".
//
// Populations of other samples are never matched, even when their indexes
// appear in the reads.
//
// The length test runs first because it is cheaper than index extraction and
// filters the common failure case.
package demux

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/popgen/popdemux/encoding/fastq"
	"github.com/popgen/popdemux/population"
)

const (
	// Short names the bucket of pairs with a read below the length threshold.
	Short = "short"
	// Unmatched names the bucket of pairs whose indexes match no population.
	Unmatched = "unmatched"

	// DefaultShortThreshold is the default minimum read length.
	DefaultShortThreshold = 150

	progressInterval = 1 << 20
)

// Demultiplexer classifies the read pairs of one sample against a population
// table.
type Demultiplexer struct {
	// Table is the population lookup. It is only read.
	Table *population.Table
	// Sample is the GW name of the raw sample being demultiplexed. Only its
	// populations are matched. It also labels log messages.
	Sample string
	// ShortThreshold is the minimum length of both reads of a pair. Pairs
	// with a shorter read go to the short bucket.
	ShortThreshold int
}

// New returns a Demultiplexer for sample with the default short-read
// threshold.
func New(table *population.Table, sample string) *Demultiplexer {
	return &Demultiplexer{Table: table, Sample: sample, ShortThreshold: DefaultShortThreshold}
}

// Classify returns the bucket of a pair: Short, Unmatched, or a population
// bucket. rec is non-nil only for population buckets.
func (d *Demultiplexer) Classify(r1, r2 *fastq.Read) (bucket string, rec *population.Record) {
	if len(r1.Seq) < d.ShortThreshold || len(r2.Seq) < d.ShortThreshold {
		return Short, nil
	}
	fw, rw := d.Table.ForwardWidth(), d.Table.ReverseWidth()
	if len(r1.Seq) < fw || len(r2.Seq) < rw {
		return Unmatched, nil
	}
	if rec, ok := d.Table.Lookup(d.Sample, r1.Seq[:fw], r2.Seq[:rw]); ok {
		return rec.Bucket(), rec
	}
	return Unmatched, nil
}

// Run reads every pair from src and writes it to its bucket in dst. It stops
// at the first error from src (e.g. a pairing integrity error), from dst, or
// from a write. The returned counts cover the pairs processed so far, even
// on error.
func (d *Demultiplexer) Run(ctx context.Context, src fastq.PairSource, dst Destinations) (Counts, error) {
	counts := Counts{Populations: map[string]int64{}}
	sinks := map[string]fastq.PairSink{}
	sink := func(bucket string, rec *population.Record) (fastq.PairSink, error) {
		if s, ok := sinks[bucket]; ok {
			return s, nil
		}
		var (
			s   fastq.PairSink
			err error
		)
		switch {
		case rec != nil:
			s, err = dst.Population(ctx, rec)
		case bucket == Short:
			s, err = dst.Short(ctx)
		default:
			s, err = dst.Unmatched(ctx)
		}
		if err != nil {
			return nil, err
		}
		sinks[bucket] = s
		return s, nil
	}

	var r1, r2 fastq.Read
	for src.Scan(&r1, &r2) {
		counts.Total++
		bucket, rec := d.Classify(&r1, &r2)
		s, err := sink(bucket, rec)
		if err != nil {
			return counts, err
		}
		if err := s.Write(&r1, &r2); err != nil {
			return counts, errors.E(err, "write bucket", bucket)
		}
		switch bucket {
		case Short:
			counts.Short++
		case Unmatched:
			counts.Unmatched++
		default:
			counts.Populations[bucket]++
		}
		if counts.Total%progressInterval == 0 {
			log.Printf("%s: %dMi readpairs", d.Sample, counts.Total/progressInterval)
		}
	}
	if err := src.Err(); err != nil {
		return counts, errors.E(err, d.Sample)
	}
	return counts, nil
}

// Counts summarizes one demultiplexing pass. It is informational only.
type Counts struct {
	Total, Short, Unmatched int64
	// Populations maps population bucket names to pair counts.
	Populations map[string]int64
}

// Matched returns the number of pairs assigned to any population.
func (c Counts) Matched() int64 {
	var n int64
	for _, v := range c.Populations {
		n += v
	}
	return n
}

// Check verifies that every pair was counted in exactly one bucket.
func (c Counts) Check() error {
	if got := c.Matched() + c.Short + c.Unmatched; got != c.Total {
		return errors.E(errors.Integrity, fmt.Sprintf("bucket counts sum to %d, want %d", got, c.Total))
	}
	return nil
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	sum := Counts{
		Total:       c.Total + o.Total,
		Short:       c.Short + o.Short,
		Unmatched:   c.Unmatched + o.Unmatched,
		Populations: map[string]int64{},
	}
	for _, m := range []map[string]int64{c.Populations, o.Populations} {
		for k, v := range m {
			sum.Populations[k] += v
		}
	}
	return sum
}

func percent(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

// String formats the counts on one line, populations in name order.
func (c Counts) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "total: %d, matched: %d (%.2f%%), short: %d (%.2f%%), unmatched: %d (%.2f%%)",
		c.Total, c.Matched(), percent(c.Matched(), c.Total),
		c.Short, percent(c.Short, c.Total), c.Unmatched, percent(c.Unmatched, c.Total))
	names := make([]string, 0, len(c.Populations))
	for name := range c.Populations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, ", %s: %d", name, c.Populations[name])
	}
	return b.String()
}
