package demux

import (
	"bufio"
	"context"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/klauspost/pgzip"
	"github.com/popgen/popdemux/encoding/fastq"
	"github.com/popgen/popdemux/population"
)

const writeBufferSize = 1 << 20

// fastqFile is one FASTQ output file. Paths ending in ".gz" are compressed.
type fastqFile struct {
	out file.File
	gz  *pgzip.Writer
	buf *bufio.Writer
}

func createFASTQ(ctx context.Context, path string) (*fastqFile, error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create", path)
	}
	f := &fastqFile{out: out}
	w := out.Writer(ctx)
	if strings.HasSuffix(path, ".gz") {
		f.gz = pgzip.NewWriter(w)
		w = f.gz
	}
	f.buf = bufio.NewWriterSize(w, writeBufferSize)
	return f, nil
}

func (f *fastqFile) close(ctx context.Context) error {
	e := errors.Once{}
	e.Set(f.buf.Flush())
	if f.gz != nil {
		e.Set(f.gz.Close())
	}
	e.Set(f.out.Close(ctx))
	return e.Err()
}

// PairFile writes read pairs to an R1/R2 pair of FASTQ files.
type PairFile struct {
	*fastq.PairWriter
	r1, r2 *fastqFile
	n      int64
}

// CreatePairFile creates (or truncates) the FASTQ files at r1Path and r2Path.
// The caller must call Close.
func CreatePairFile(ctx context.Context, r1Path, r2Path string) (*PairFile, error) {
	r1, err := createFASTQ(ctx, r1Path)
	if err != nil {
		return nil, err
	}
	r2, err := createFASTQ(ctx, r2Path)
	if err != nil {
		_ = r1.close(ctx)
		return nil, err
	}
	return &PairFile{PairWriter: fastq.NewPairWriter(r1.buf, r2.buf), r1: r1, r2: r2}, nil
}

// Write appends a pair.
func (p *PairFile) Write(r1, r2 *fastq.Read) error {
	if err := p.PairWriter.Write(r1, r2); err != nil {
		return err
	}
	p.n++
	return nil
}

// Count returns the number of pairs written.
func (p *PairFile) Count() int64 { return p.n }

// Close flushes and closes both files.
func (p *PairFile) Close(ctx context.Context) error {
	e := errors.Once{}
	e.Set(p.r1.close(ctx))
	e.Set(p.r2.close(ctx))
	return e.Err()
}

// Destinations supplies the writers of a demultiplexing pass. A Destinations
// value is owned by a single pass at a time.
type Destinations interface {
	// Population returns the writer of a population bucket.
	Population(ctx context.Context, rec *population.Record) (fastq.PairSink, error)
	// Short returns the writer of the short bucket.
	Short(ctx context.Context) (fastq.PairSink, error)
	// Unmatched returns the writer of the unmatched bucket.
	Unmatched(ctx context.Context) (fastq.PairSink, error)
}

// FileDestinations writes buckets as FASTQ files following a Layout.
//
// Population files are opened on first use and stay open across input
// samples, so that every sample's pairs for a population end up in the same
// files. They must have been created by Scaffold beforehand. Short and
// unmatched files belong to the current input sample, set by StartSample.
type FileDestinations struct {
	layout    Layout
	sample    string
	pops      map[string]*PairFile
	short     *PairFile
	unmatched *PairFile
}

// NewFileDestinations creates a FileDestinations writing under layout.
func NewFileDestinations(layout Layout) *FileDestinations {
	return &FileDestinations{layout: layout, pops: map[string]*PairFile{}}
}

// StartSample closes the previous sample's short and unmatched files and
// directs subsequent short and unmatched pairs to files of the named sample.
func (d *FileDestinations) StartSample(ctx context.Context, sample string) error {
	err := d.closeSample(ctx)
	d.sample = sample
	return err
}

func (d *FileDestinations) closeSample(ctx context.Context) error {
	e := errors.Once{}
	for _, p := range []**PairFile{&d.short, &d.unmatched} {
		if *p != nil {
			e.Set((*p).Close(ctx))
			*p = nil
		}
	}
	return e.Err()
}

// Population implements Destinations. It fails with an errors.NotExist error
// if the population's files were not scaffolded.
func (d *FileDestinations) Population(ctx context.Context, rec *population.Record) (fastq.PairSink, error) {
	if p, ok := d.pops[rec.Bucket()]; ok {
		return p, nil
	}
	r1, r2 := d.layout.PopulationFASTQ(rec)
	for _, path := range []string{r1, r2} {
		if _, err := file.Stat(ctx, path); err != nil {
			return nil, errors.E(errors.NotExist,
				"destination of population "+rec.Population+" does not exist; run scaffold first", path, err)
		}
	}
	p, err := CreatePairFile(ctx, r1, r2)
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("opened %s, %s", r1, r2)
	d.pops[rec.Bucket()] = p
	return p, nil
}

// Short implements Destinations.
func (d *FileDestinations) Short(ctx context.Context) (fastq.PairSink, error) {
	if d.short == nil {
		if d.sample == "" {
			return nil, errors.E(errors.Precondition, "StartSample not called")
		}
		r1, r2 := d.layout.ShortFASTQ(d.sample)
		p, err := CreatePairFile(ctx, r1, r2)
		if err != nil {
			return nil, err
		}
		d.short = p
	}
	return d.short, nil
}

// Unmatched implements Destinations.
func (d *FileDestinations) Unmatched(ctx context.Context) (fastq.PairSink, error) {
	if d.unmatched == nil {
		if d.sample == "" {
			return nil, errors.E(errors.Precondition, "StartSample not called")
		}
		r1, r2 := d.layout.UnmatchedFASTQ(d.sample)
		p, err := CreatePairFile(ctx, r1, r2)
		if err != nil {
			return nil, err
		}
		d.unmatched = p
	}
	return d.unmatched, nil
}

// Close flushes and closes every open file. It must be called on every exit
// path once the destinations are no longer needed.
func (d *FileDestinations) Close(ctx context.Context) error {
	e := errors.Once{}
	e.Set(d.closeSample(ctx))
	for bucket, p := range d.pops {
		e.Set(p.Close(ctx))
		delete(d.pops, bucket)
	}
	return e.Err()
}

// MemDestinations keeps every bucket in memory.
type MemDestinations struct {
	Buckets map[string]*fastq.PairBuffer
}

// NewMemDestinations returns an empty MemDestinations.
func NewMemDestinations() *MemDestinations {
	return &MemDestinations{Buckets: map[string]*fastq.PairBuffer{}}
}

func (m *MemDestinations) bucket(name string) *fastq.PairBuffer {
	b, ok := m.Buckets[name]
	if !ok {
		b = &fastq.PairBuffer{}
		m.Buckets[name] = b
	}
	return b
}

// Population implements Destinations.
func (m *MemDestinations) Population(_ context.Context, rec *population.Record) (fastq.PairSink, error) {
	return m.bucket(rec.Bucket()), nil
}

// Short implements Destinations.
func (m *MemDestinations) Short(context.Context) (fastq.PairSink, error) {
	return m.bucket(Short), nil
}

// Unmatched implements Destinations.
func (m *MemDestinations) Unmatched(context.Context) (fastq.PairSink, error) {
	return m.bucket(Unmatched), nil
}
