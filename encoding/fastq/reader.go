package fastq

import (
	"context"
	"io"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// PairReader scans a pair of FASTQ files. Files whose names end in a
// compression suffix (.gz, .bz2, .zst, ...) are decompressed on the fly.
type PairReader struct {
	*PairScanner
	in1, in2 file.File
	dec      []io.Closer
}

// OpenPair opens the R1 and R2 FASTQ files at r1Path and r2Path. The two
// files are opened concurrently, since they typically live on the same remote
// store. The caller must call Close.
func OpenPair(ctx context.Context, r1Path, r2Path string, fields Field) (*PairReader, error) {
	var (
		p  PairReader
		eg errgroup.Group
	)
	eg.Go(func() (err error) {
		p.in1, err = file.Open(ctx, r1Path)
		return errors.Wrapf(err, "open %s", r1Path)
	})
	eg.Go(func() (err error) {
		p.in2, err = file.Open(ctx, r2Path)
		return errors.Wrapf(err, "open %s", r2Path)
	})
	if err := eg.Wait(); err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	p.PairScanner = NewPairScanner(p.reader(ctx, p.in1), p.reader(ctx, p.in2), fields)
	return &p, nil
}

func (p *PairReader) reader(ctx context.Context, in file.File) io.Reader {
	// For uncompressed paths u wraps the file reader unchanged. A corrupt
	// compression header yields a u whose reads fail.
	u, _ := compress.NewReaderPath(in.Reader(ctx), in.Name())
	p.dec = append(p.dec, u)
	return u
}

// Close releases the underlying files. It is safe to call Close on a
// partially opened reader.
func (p *PairReader) Close(ctx context.Context) error {
	var err error
	for _, d := range p.dec {
		if e := d.Close(); e != nil && err == nil {
			err = e
		}
	}
	for _, in := range []file.File{p.in1, p.in2} {
		if in == nil {
			continue
		}
		if e := in.Close(ctx); e != nil && err == nil {
			err = errors.Wrapf(e, "close %s", in.Name())
		}
	}
	return err
}
