package umi

// This file stores a Library as a recordio file. Each record holds one UMI
// key and its sequences, gob-encoded, in key order. The trailer holds the
// population name, the counts and the content fingerprint, which Read
// verifies.

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
)

const (
	// <fileVersionHeader, fileVersion> is stored in a recordio header.
	fileVersionHeader = "umilibversion"
	fileVersion       = "UMILIB_V1"
	populationHeader  = "population"
)

type libraryRecord struct {
	Key   Key
	Entry Entry
}

type libraryTrailer struct {
	Population  string
	Keys        int
	Reads       int
	Fingerprint uint64
}

func marshalRecord(scratch []byte, v interface{}) ([]byte, error) {
	b := bytes.NewBuffer(scratch[:0])
	if err := gob.NewEncoder(b).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func unmarshalRecord(in []byte) (interface{}, error) {
	var rec libraryRecord
	if err := gob.NewDecoder(bytes.NewReader(in)).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Write serializes lib to w.
func Write(w io.Writer, lib *Library) error {
	recordiozstd.Init()
	rw := recordio.NewWriter(w, recordio.WriterOpts{
		Marshal:      marshalRecord,
		Transformers: []string{recordiozstd.Name},
	})
	rw.AddHeader(fileVersionHeader, fileVersion)
	rw.AddHeader(populationHeader, lib.Population)
	rw.AddHeader(recordio.KeyTrailer, true)
	for _, k := range lib.Keys() {
		rw.Append(&libraryRecord{Key: k, Entry: *lib.entries[k]})
	}
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(libraryTrailer{
		Population:  lib.Population,
		Keys:        lib.Len(),
		Reads:       lib.NumReads(),
		Fingerprint: lib.Fingerprint(),
	}); err != nil {
		return err
	}
	rw.SetTrailer(b.Bytes())
	return rw.Finish()
}

// Read parses a library written by Write. Errors that indicate a corrupt or
// foreign file have kind errors.Integrity.
func Read(r io.ReadSeeker) (*Library, error) {
	recordiozstd.Init()
	sc := recordio.NewScanner(r, recordio.ScannerOpts{Unmarshal: unmarshalRecord})
	version := ""
	for _, kv := range sc.Header() {
		if kv.Key == fileVersionHeader {
			version, _ = kv.Value.(string)
		}
	}
	if version != fileVersion {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, errors.E(errors.Integrity, fmt.Sprintf("UMI library version %q, want %q", version, fileVersion))
	}
	var trailer libraryTrailer
	if err := gob.NewDecoder(bytes.NewReader(sc.Trailer())).Decode(&trailer); err != nil {
		return nil, errors.E(errors.Integrity, "decode UMI library trailer", err)
	}
	lib := NewLibrary(trailer.Population)
	for sc.Scan() {
		rec := sc.Get().(*libraryRecord)
		if len(rec.Entry.R1) != len(rec.Entry.R2) {
			return nil, errors.E(errors.Integrity,
				fmt.Sprintf("UMI %s/%s: %d R1 and %d R2 sequences",
					rec.Key.Forward, rec.Key.Reverse, len(rec.Entry.R1), len(rec.Entry.R2)))
		}
		for i := range rec.Entry.R1 {
			lib.Add(rec.Key, rec.Entry.R1[i], rec.Entry.R2[i])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if lib.Len() != trailer.Keys || lib.NumReads() != trailer.Reads || lib.Fingerprint() != trailer.Fingerprint {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("UMI library content (%d keys, %d pairs, fingerprint %x) does not match its trailer (%d keys, %d pairs, fingerprint %x)",
				lib.Len(), lib.NumReads(), lib.Fingerprint(), trailer.Keys, trailer.Reads, trailer.Fingerprint))
	}
	return lib, nil
}

// WriteFile stores lib at path.
func WriteFile(ctx context.Context, path string, lib *Library) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	if err = Write(out.Writer(ctx), lib); err != nil {
		return errors.E(err, "write", path)
	}
	return nil
}

// ReadFile loads the library at path.
func ReadFile(ctx context.Context, path string) (lib *Library, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	if lib, err = Read(in.Reader(ctx)); err != nil {
		return nil, errors.E(err, path)
	}
	return lib, nil
}
