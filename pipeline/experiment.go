// Package pipeline runs the demultiplexing steps over an experiment
// directory: destination scaffolding, index demultiplexing of every raw
// sample, UMI library construction for every population, and library QC.
//
// An experiment named E reads its inputs from <input>/E and writes to
// <output>/E/demultiplexing:
//
//	<input>/E/*multiplexing_info*.csv     population table
//	<input>/E/*UMI_primers*.csv           forward and reverse UMI primers
//	<input>/E/**/<GW_name>_R1*.fastq      raw reads (.fq and .gz also accepted)
//	<input>/E/**/<GW_name>_R2*.fastq
package pipeline

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/popgen/popdemux/demux"
	"github.com/popgen/popdemux/population"
)

const (
	tablePattern   = "*multiplexing_info*.csv"
	primersPattern = "*UMI_primers*.csv"
)

var fastqSuffixes = []string{".fastq", ".fq", ".fastq.gz", ".fq.gz"}

// Opts configures a pipeline run.
type Opts struct {
	// InputRoot contains one directory per experiment.
	InputRoot string
	// OutputRoot receives one directory per experiment.
	OutputRoot string
	// ShortThreshold is the minimum read length, see demux.Demultiplexer.
	ShortThreshold int
	// UMILength is the length of the N run of the UMI primers.
	UMILength int
	// Parallelism bounds the number of UMI libraries built concurrently.
	Parallelism int
	// Gzip compresses the FASTQ outputs.
	Gzip bool
	// HistogramMax is the last bin of the reads-per-UMI histogram.
	HistogramMax int
}

// DefaultOpts are the options used by the command line.
var DefaultOpts = Opts{
	InputRoot:      "input_data",
	OutputRoot:     "Outputs",
	ShortThreshold: demux.DefaultShortThreshold,
	UMILength:      10,
	Parallelism:    4,
	HistogramMax:   20,
}

// Experiment is a located experiment directory.
type Experiment struct {
	Name string
	// Dir is the experiment's input directory.
	Dir string
	// TablePath is the population table file.
	TablePath string
	Table     *population.Table
	Layout    demux.Layout
}

// Open locates the experiment's input directory and loads its population
// table.
func Open(ctx context.Context, name string, opts Opts) (*Experiment, error) {
	if name == "" {
		return nil, errors.E(errors.Invalid, "empty experiment name")
	}
	e := &Experiment{
		Name:   name,
		Dir:    file.Join(opts.InputRoot, name),
		Layout: demux.NewLayout(opts.OutputRoot, name, opts.Gzip),
	}
	var err error
	if e.TablePath, err = e.findInput(ctx, tablePattern); err != nil {
		return nil, err
	}
	log.Printf("%s: multiplexing table %s", name, e.TablePath)
	if e.Table, err = population.Load(ctx, e.TablePath); err != nil {
		return nil, err
	}
	return e, nil
}

// PrimersPath locates the UMI primer table.
func (e *Experiment) PrimersPath(ctx context.Context) (string, error) {
	return e.findInput(ctx, primersPattern)
}

// findInput returns the first file, in name order, directly under the input
// directory whose name matches pattern.
func (e *Experiment) findInput(ctx context.Context, pattern string) (string, error) {
	var matches []string
	lister := file.List(ctx, e.Dir, false)
	for lister.Scan() {
		if lister.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(lister.Path())); ok {
			matches = append(matches, lister.Path())
		}
	}
	if err := lister.Err(); err != nil {
		return "", errors.E(err, "list", e.Dir)
	}
	if len(matches) == 0 {
		return "", errors.E(errors.NotExist, "no "+pattern+" file in "+e.Dir)
	}
	sort.Strings(matches)
	if len(matches) > 1 {
		log.Printf("%s: %d files match %s, using %s", e.Dir, len(matches), pattern, matches[0])
	}
	return matches[0], nil
}

// isSampleFile reports whether base names a FASTQ file of read direction
// dir ("R1" or "R2") of sample gw.
func isSampleFile(base, gw, dir string) bool {
	if !strings.HasPrefix(base, gw+"_"+dir) {
		return false
	}
	for _, suffix := range fastqSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}

// FindSample locates the raw R1 and R2 files of the sample gw anywhere under
// the input directory. The error has kind errors.NotExist when either file
// is missing.
func (e *Experiment) FindSample(ctx context.Context, gw string) (r1, r2 string, err error) {
	var r1s, r2s []string
	lister := file.List(ctx, e.Dir, true)
	for lister.Scan() {
		if lister.IsDir() {
			continue
		}
		base := filepath.Base(lister.Path())
		switch {
		case isSampleFile(base, gw, "R1"):
			r1s = append(r1s, lister.Path())
		case isSampleFile(base, gw, "R2"):
			r2s = append(r2s, lister.Path())
		}
	}
	if err := lister.Err(); err != nil {
		return "", "", errors.E(err, "list", e.Dir)
	}
	if len(r1s) == 0 || len(r2s) == 0 {
		return "", "", errors.E(errors.NotExist, "FASTQ files of sample "+gw+" not found under "+e.Dir)
	}
	sort.Strings(r1s)
	sort.Strings(r2s)
	return r1s[0], r2s[0], nil
}
