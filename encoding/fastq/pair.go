package fastq

import (
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
)

// A Pair is an R1/R2 read pair that shares a pairing key.
type Pair struct {
	R1, R2 Read
}

// PairSource is a single-pass stream of read pairs. *PairScanner and
// *PairReader implement it.
type PairSource interface {
	// Scan reads the next pair into r1, r2.
	Scan(r1, r2 *Read) bool
	// Err reports the error, if any, that stopped Scan.
	Err() error
}

// PairSink consumes read pairs.
type PairSink interface {
	Write(r1, r2 *Read) error
}

// PairingKey returns the key that identifies the fragment a read belongs to:
// the read ID without the leading '@', up to the first whitespace, with a
// trailing "/1" or "/2" mate suffix removed.
func PairingKey(id string) string {
	if len(id) > 0 && id[0] == '@' {
		id = id[1:]
	}
	if i := strings.IndexAny(id, " \t"); i >= 0 {
		id = id[:i]
	}
	if n := len(id); n >= 2 && id[n-2] == '/' && (id[n-1] == '1' || id[n-1] == '2') {
		id = id[:n-2]
	}
	return id
}

// PairScanner composes a pair of scanners to scan a pair of FASTQ
// streams. Every pair it yields has matching pairing keys; the first pair
// whose keys diverge stops the scan with an integrity error.
type PairScanner struct {
	r1, r2 *Scanner
	err    error
}

// NewPairScanner creates a new FASTQ pair scanner from the provided
// R1 and R2 readers. The ID field is always read, since it is needed to
// verify pairing.
func NewPairScanner(r1, r2 io.Reader, fields Field) *PairScanner {
	fields |= ID
	return &PairScanner{
		r1: NewScanner(r1, fields),
		r2: NewScanner(r2, fields),
	}
}

// Scan scans the next read pair into r1, r2. Scan returns a boolean
// indicating whether the scan succeeded. Once Scan returns false, it
// never returns true again. Upon completion, the user should check
// the Err method to determine whether scanning stopped because of an
// error or because the end of the stream was reached.
func (p *PairScanner) Scan(r1, r2 *Read) bool {
	if p.err != nil {
		return false
	}
	ok1 := p.r1.Scan(r1)
	ok2 := p.r2.Scan(r2)
	if ok1 != ok2 {
		p.err = errors.E(errors.Integrity,
			fmt.Sprintf("R1 has %d reads, R2 has %d reads", p.r1.Count(), p.r2.Count()), ErrDiscordant)
		return false
	}
	if !ok1 {
		return false
	}
	if k1, k2 := PairingKey(r1.ID), PairingKey(r2.ID); k1 != k2 {
		p.err = errors.E(errors.Integrity,
			fmt.Sprintf("read pair %d: R1 id %q does not match R2 id %q", p.r1.Count(), k1, k2))
		return false
	}
	return true
}

// Count returns the number of pairs scanned so far.
func (p *PairScanner) Count() int { return p.r1.Count() }

// Err returns the scanning error, if any. It should be checked
// after Scan returns false.
func (p *PairScanner) Err() error {
	if err := p.r1.Err(); err != nil {
		return err
	}
	if err := p.r2.Err(); err != nil {
		return err
	}
	return p.err
}

// PairWriter writes read pairs to two FASTQ streams.
type PairWriter struct {
	r1, r2 *Writer
}

// NewPairWriter constructs a PairWriter that writes R1 reads to w1 and R2
// reads to w2.
func NewPairWriter(w1, w2 io.Writer) *PairWriter {
	return &PairWriter{r1: NewWriter(w1), r2: NewWriter(w2)}
}

// Write writes r1 and r2 to their respective streams.
func (w *PairWriter) Write(r1, r2 *Read) error {
	if err := w.r1.Write(r1); err != nil {
		return err
	}
	return w.r2.Write(r2)
}

// PairBuffer is an in-memory PairSink and PairSource. Writes append copies of
// the reads; Scan replays them in write order.
type PairBuffer struct {
	Pairs []Pair
	pos   int
}

// Write appends a copy of r1, r2.
func (b *PairBuffer) Write(r1, r2 *Read) error {
	b.Pairs = append(b.Pairs, Pair{*r1, *r2})
	return nil
}

// Scan copies the next buffered pair into r1, r2.
func (b *PairBuffer) Scan(r1, r2 *Read) bool {
	if b.pos >= len(b.Pairs) {
		return false
	}
	*r1, *r2 = b.Pairs[b.pos].R1, b.Pairs[b.pos].R2
	b.pos++
	return true
}

// Err always returns nil.
func (b *PairBuffer) Err() error { return nil }

// Len returns the number of buffered pairs.
func (b *PairBuffer) Len() int { return len(b.Pairs) }
