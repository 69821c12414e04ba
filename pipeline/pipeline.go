package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/popgen/popdemux/demux"
	"github.com/popgen/popdemux/encoding/fastq"
	"github.com/popgen/popdemux/population"
	"github.com/popgen/popdemux/umi"
)

// Scaffold creates the population destinations of the experiment.
func Scaffold(ctx context.Context, e *Experiment) error {
	return demux.Scaffold(ctx, e.Layout, e.Table)
}

// SampleResult is the outcome of demultiplexing one raw sample.
type SampleResult struct {
	Sample string
	Counts demux.Counts
	// Err is set when the sample could not be processed completely.
	Err error
}

// Demultiplex sorts the raw reads of every sample of the experiment into the
// population destinations, which must have been scaffolded. Samples are
// processed one at a time, each matched only against its own populations. A
// sample whose files are missing is skipped with a warning. A sample that
// fails (e.g. on a pairing error) is reported in its result and the
// remaining samples are still processed; a missing population destination
// aborts the whole run. The returned error is the first sample error.
func Demultiplex(ctx context.Context, e *Experiment, opts Opts) (results []SampleResult, err error) {
	if err := demux.CheckScaffold(ctx, e.Layout, e.Table); err != nil {
		return nil, err
	}
	dst := demux.NewFileDestinations(e.Layout)
	defer func() {
		if cerr := dst.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	var (
		total    = demux.Counts{Populations: map[string]int64{}}
		firstErr errors.Once
	)
	for _, sample := range e.Table.Samples() {
		r1, r2, err := e.FindSample(ctx, sample)
		if errors.Is(errors.NotExist, err) {
			log.Error.Printf("%s: skipping sample: %v", sample, err)
			continue
		}
		if err != nil {
			return results, err
		}
		log.Printf("%s: demultiplexing %s, %s", sample, r1, r2)
		d := demux.New(e.Table, sample)
		d.ShortThreshold = opts.ShortThreshold
		res := demultiplexSample(ctx, d, dst, r1, r2)
		results = append(results, res)
		total = total.Add(res.Counts)
		if res.Err != nil {
			if errors.Is(errors.NotExist, res.Err) {
				return results, res.Err
			}
			log.Error.Printf("%s: %v", sample, res.Err)
			firstErr.Set(res.Err)
			continue
		}
		log.Printf("%s: %v", sample, res.Counts)
	}
	log.Printf("%s: all samples: %v", e.Name, total)
	return results, firstErr.Err()
}

func demultiplexSample(ctx context.Context, d *demux.Demultiplexer, dst *demux.FileDestinations, r1, r2 string) SampleResult {
	res := SampleResult{Sample: d.Sample}
	if res.Err = dst.StartSample(ctx, d.Sample); res.Err != nil {
		return res
	}
	src, err := fastq.OpenPair(ctx, r1, r2, fastq.All)
	if err != nil {
		res.Err = err
		return res
	}
	res.Counts, res.Err = d.Run(ctx, src, dst)
	if cerr := src.Close(ctx); cerr != nil && res.Err == nil {
		res.Err = cerr
	}
	if res.Err == nil {
		res.Err = res.Counts.Check()
	}
	return res
}

// LibraryResult is the outcome of building one population's UMI library.
type LibraryResult struct {
	Population string
	Stats      umi.BuildStats
	// Skipped is set when the population has no demultiplexed reads.
	Skipped bool
	Err     error
}

// BuildLibraries builds and stores the UMI library of every population of
// the experiment. Libraries are built concurrently, each worker owning one
// population's files. Pairs whose UMI cannot be extracted are written to the
// population's unresolved FASTQ files. Populations whose demultiplexed files
// are missing are skipped with a warning. A failed population does not stop
// the others; the returned error is the first failure in table order.
func BuildLibraries(ctx context.Context, e *Experiment, opts Opts) ([]LibraryResult, error) {
	primersPath, err := e.PrimersPath(ctx)
	if err != nil {
		return nil, err
	}
	fwd, rev, err := umi.LoadPrimers(ctx, primersPath, opts.UMILength)
	if err != nil {
		return nil, err
	}
	log.Printf("%s: forward primer %v, reverse primer %v", e.Name, fwd, rev)

	recs := e.Table.Records()
	results := make([]LibraryResult, len(recs))
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	// Each never fails: per-population errors are kept in the results.
	_ = traverse.Limit(parallelism).Each(len(recs), func(i int) error {
		results[i] = buildLibrary(ctx, e.Layout, &recs[i], fwd, rev)
		return nil
	})
	var once errors.Once
	for _, r := range results {
		switch {
		case r.Skipped:
			log.Error.Printf("%s: no demultiplexed reads, library not built", r.Population)
		case r.Err != nil:
			log.Error.Printf("%s: %v", r.Population, r.Err)
			once.Set(r.Err)
		default:
			log.Printf("%s: %v", r.Population, r.Stats)
		}
	}
	return results, once.Err()
}

func buildLibrary(ctx context.Context, layout demux.Layout, rec *population.Record, fwd, rev umi.Primer) (res LibraryResult) {
	res.Population = rec.Bucket()
	r1, r2 := layout.PopulationFASTQ(rec)
	for _, path := range []string{r1, r2} {
		if _, err := file.Stat(ctx, path); err != nil {
			res.Skipped = true
			return
		}
	}
	src, err := fastq.OpenPair(ctx, r1, r2, fastq.All)
	if err != nil {
		res.Err = err
		return
	}
	defer func() {
		if err := src.Close(ctx); err != nil && res.Err == nil {
			res.Err = err
		}
	}()
	u1, u2 := layout.UnresolvedFASTQ(rec)
	unresolved, err := demux.CreatePairFile(ctx, u1, u2)
	if err != nil {
		res.Err = err
		return
	}
	defer func() {
		log.Debug.Printf("%s: %d unresolved pairs written to %s", res.Population, unresolved.Count(), u1)
		if err := unresolved.Close(ctx); err != nil && res.Err == nil {
			res.Err = err
		}
	}()

	b := umi.NewBuilder(rec.Bucket(), fwd, rev)
	b.Unresolved = unresolved
	lib, stats, err := b.Build(ctx, src)
	res.Stats = stats
	if err != nil {
		res.Err = err
		return
	}
	res.Err = umi.WriteFile(ctx, layout.UMILibrary(rec), lib)
	return
}

// Stats prints the reads-per-UMI summary and histogram of every stored
// library of the experiment to w. Populations without a library are
// reported and skipped.
func Stats(ctx context.Context, e *Experiment, opts Opts, w io.Writer) ([]umi.Summary, error) {
	var summaries []umi.Summary
	recs := e.Table.Records()
	for i := range recs {
		rec := &recs[i]
		path := e.Layout.UMILibrary(rec)
		if _, err := file.Stat(ctx, path); err != nil {
			fmt.Fprintf(w, "%s: no UMI library\n", rec.Bucket())
			continue
		}
		lib, err := umi.ReadFile(ctx, path)
		if err != nil {
			return summaries, err
		}
		s := umi.Summarize(lib)
		summaries = append(summaries, s)
		fmt.Fprintln(w, s)
		if plot := umi.Plot(lib, opts.HistogramMax); plot != "" {
			fmt.Fprintln(w, plot)
		}
	}
	return summaries, nil
}

// Run performs every step on the experiment: scaffolding, demultiplexing,
// library construction and QC. Sample errors do not prevent the libraries
// of the other populations from being built; the first error is returned.
func Run(ctx context.Context, name string, opts Opts, w io.Writer) error {
	e, err := Open(ctx, name, opts)
	if err != nil {
		return err
	}
	if err := Scaffold(ctx, e); err != nil {
		return err
	}
	var once errors.Once
	if _, err := Demultiplex(ctx, e, opts); err != nil {
		if errors.Is(errors.NotExist, err) {
			return err
		}
		once.Set(err)
	}
	if _, err := BuildLibraries(ctx, e, opts); err != nil {
		once.Set(err)
	}
	if _, err := Stats(ctx, e, opts, w); err != nil {
		once.Set(err)
	}
	return once.Err()
}
