package umi

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/popgen/popdemux/encoding/fastq"
)

const progressInterval = 1 << 20

// BuildStats summarizes one library build.
type BuildStats struct {
	// Total is the number of pairs read.
	Total int64
	// Resolved is the number of pairs added to the library.
	Resolved int64
	// Unresolved is the number of pairs whose forward or reverse primer was
	// not found. They are not in the library.
	Unresolved int64
	// Keys is the number of distinct UMI keys.
	Keys int
}

// MeanReadsPerKey returns Resolved/Keys, or 0 for an empty library.
func (s BuildStats) MeanReadsPerKey() float64 {
	if s.Keys == 0 {
		return 0
	}
	return float64(s.Resolved) / float64(s.Keys)
}

func (s BuildStats) String() string {
	return fmt.Sprintf("pairs: %d, with UMI: %d, unresolved: %d, UMI keys: %d, mean pairs per key: %.1f",
		s.Total, s.Resolved, s.Unresolved, s.Keys, s.MeanReadsPerKey())
}

// Builder groups read pairs of one population by UMI key.
type Builder struct {
	Forward, Reverse Primer
	// Unresolved, if set, receives the pairs whose UMI cannot be extracted.
	Unresolved fastq.PairSink

	lib   *Library
	stats BuildStats
}

// NewBuilder creates a builder of the library of the named population.
func NewBuilder(population string, fwd, rev Primer) *Builder {
	return &Builder{Forward: fwd, Reverse: rev, lib: NewLibrary(population)}
}

// Add extracts the UMIs of a pair and adds its trimmed sequences to the
// library. It returns false, after writing the pair to Unresolved, if either
// primer does not match.
func (b *Builder) Add(r1, r2 *fastq.Read) (bool, error) {
	b.stats.Total++
	m1, ok1 := b.Forward.Extract(r1.Seq)
	m2, ok2 := b.Reverse.Extract(r2.Seq)
	if !ok1 || !ok2 {
		b.stats.Unresolved++
		if b.Unresolved != nil {
			if err := b.Unresolved.Write(r1, r2); err != nil {
				return false, errors.E(err, "write unresolved pair")
			}
		}
		return false, nil
	}
	b.stats.Resolved++
	b.lib.Add(Key{Forward: m1.UMI, Reverse: m2.UMI}, m1.Trimmed, m2.Trimmed)
	return true, nil
}

// Build adds every pair of src and returns the library. The builder must
// not be used afterwards.
func (b *Builder) Build(ctx context.Context, src fastq.PairSource) (*Library, BuildStats, error) {
	var r1, r2 fastq.Read
	for src.Scan(&r1, &r2) {
		if _, err := b.Add(&r1, &r2); err != nil {
			return nil, b.Stats(), err
		}
		if b.stats.Total%progressInterval == 0 {
			log.Printf("%s: %dMi readpairs", b.lib.Population, b.stats.Total/progressInterval)
		}
		if err := ctx.Err(); err != nil {
			return nil, b.Stats(), err
		}
	}
	if err := src.Err(); err != nil {
		return nil, b.Stats(), errors.E(err, b.lib.Population)
	}
	return b.lib, b.Stats(), nil
}

// Stats returns the counts so far.
func (b *Builder) Stats() BuildStats {
	s := b.stats
	s.Keys = b.lib.Len()
	return s
}
