package demux

import (
	"github.com/grailbio/base/file"
	"github.com/popgen/popdemux/population"
)

// Layout names the files of one experiment's demultiplexing output
// directory:
//
//	<Dir>/P<n>/P<n>_R{1,2}.fastq             population reads
//	<Dir>/P<n>/P<n>_UMI_dict.rio             UMI library
//	<Dir>/P<n>/P<n>_unresolved_R{1,2}.fastq  pairs without a resolvable UMI
//	<Dir>/<GW>_short_reads_R{1,2}.fastq      short pairs of one input sample
//	<Dir>/<GW>_unmatched_reads_R{1,2}.fastq  unmatched pairs of one input sample
//
// When Gzip is set, FASTQ names carry a ".gz" suffix and are compressed.
type Layout struct {
	Dir  string
	Gzip bool
}

// NewLayout returns the layout rooted at <outputRoot>/<experiment>/demultiplexing.
func NewLayout(outputRoot, experiment string, gzip bool) Layout {
	return Layout{Dir: file.Join(outputRoot, experiment, "demultiplexing"), Gzip: gzip}
}

func (l Layout) fastqPair(dir, prefix string) (r1, r2 string) {
	ext := ".fastq"
	if l.Gzip {
		ext += ".gz"
	}
	return file.Join(dir, prefix+"_R1"+ext), file.Join(dir, prefix+"_R2"+ext)
}

// PopulationDir is the directory that holds a population's outputs.
func (l Layout) PopulationDir(rec *population.Record) string {
	return file.Join(l.Dir, rec.Bucket())
}

// PopulationFASTQ returns the paths of a population's demultiplexed reads.
func (l Layout) PopulationFASTQ(rec *population.Record) (r1, r2 string) {
	return l.fastqPair(l.PopulationDir(rec), rec.Bucket())
}

// UnresolvedFASTQ returns the paths of a population's pairs whose UMIs could
// not be extracted.
func (l Layout) UnresolvedFASTQ(rec *population.Record) (r1, r2 string) {
	return l.fastqPair(l.PopulationDir(rec), rec.Bucket()+"_unresolved")
}

// UMILibrary returns the path of a population's serialized UMI library.
func (l Layout) UMILibrary(rec *population.Record) string {
	return file.Join(l.PopulationDir(rec), rec.Bucket()+"_UMI_dict.rio")
}

// ShortFASTQ returns the paths of an input sample's short pairs.
func (l Layout) ShortFASTQ(sample string) (r1, r2 string) {
	return l.fastqPair(l.Dir, sample+"_short_reads")
}

// UnmatchedFASTQ returns the paths of an input sample's unmatched pairs.
func (l Layout) UnmatchedFASTQ(sample string) (r1, r2 string) {
	return l.fastqPair(l.Dir, sample+"_unmatched_reads")
}
