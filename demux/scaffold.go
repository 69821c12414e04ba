package demux

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/popgen/popdemux/population"
)

// Scaffold creates an empty R1/R2 FASTQ pair for every population in table,
// which FileDestinations requires before it writes to a population.
// Existing files are truncated.
func Scaffold(ctx context.Context, layout Layout, table *population.Table) error {
	recs := table.Records()
	for i := range recs {
		rec := &recs[i]
		r1, r2 := layout.PopulationFASTQ(rec)
		p, err := CreatePairFile(ctx, r1, r2)
		if err != nil {
			return errors.E(err, "scaffold population", rec.Population)
		}
		if err := p.Close(ctx); err != nil {
			return errors.E(err, "scaffold population", rec.Population)
		}
		log.Printf("created destination of %s (indexes R1 %s, R2 %s) in %s",
			rec.Bucket(), rec.ForwardIndex, rec.ReverseIndex, layout.PopulationDir(rec))
	}
	log.Printf("all population destinations created in %s", layout.Dir)
	return nil
}

// CheckScaffold reports whether every population destination in table
// exists. The error has kind errors.NotExist and names the first missing
// file.
func CheckScaffold(ctx context.Context, layout Layout, table *population.Table) error {
	recs := table.Records()
	for i := range recs {
		r1, r2 := layout.PopulationFASTQ(&recs[i])
		for _, path := range []string{r1, r2} {
			if _, err := file.Stat(ctx, path); err != nil {
				return errors.E(errors.NotExist, "missing population destination", path, err)
			}
		}
	}
	return nil
}
