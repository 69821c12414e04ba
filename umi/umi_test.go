package umi_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/testutil"
	"github.com/popgen/popdemux/encoding/fastq"
	"github.com/popgen/popdemux/umi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const run = "NNNNNNNNNN"

func mustPrimer(t *testing.T, s string) umi.Primer {
	p, err := umi.ParsePrimer(s, umi.DefaultRunLength)
	require.NoError(t, err)
	return p
}

func TestParsePrimer(t *testing.T) {
	p := mustPrimer(t, "ggg"+strings.ToLower(run)+"ccc")
	assert.Equal(t, umi.Primer{Before: "GGG", RunLength: 10, After: "CCC"}, p)
	assert.Equal(t, "GGG"+run+"CCC", p.String())

	p = mustPrimer(t, run+"ACGT")
	assert.Equal(t, "", p.Before)
	assert.Equal(t, "ACGT", p.After)

	p = mustPrimer(t, " TTT"+run+" ")
	assert.Equal(t, "TTT", p.Before)
	assert.Equal(t, "", p.After)

	for _, bad := range []string{
		"ACGTACGT",
		"GGG" + "NNNNNNNNN" + "CCC",
		"GGG" + run + "N" + "CCC",
		"GGG" + run + "CC" + "NN",
		"GXG" + run + "CCC",
		"",
	} {
		_, err := umi.ParsePrimer(bad, umi.DefaultRunLength)
		assert.True(t, errors.Is(errors.Invalid, err), "%q: %v", bad, err)
	}
	_, err := umi.ParsePrimer("GGGNNNN", 0)
	assert.True(t, errors.Is(errors.Invalid, err))
	p, err = umi.ParsePrimer("GGGNNNN", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, p.RunLength)
}

func TestReadPrimers(t *testing.T) {
	fwd, rev, err := umi.ReadPrimers(strings.NewReader(
		"\ufefff,r\nGGG"+run+"CCC,"+"AA"+run+"TT\nACGT"+run+",ACGT"+run+"\n"), umi.DefaultRunLength)
	require.NoError(t, err)
	assert.Equal(t, "GGG", fwd.Before)
	assert.Equal(t, "AA", rev.Before)
	assert.Equal(t, "TT", rev.After)

	_, _, err = umi.ReadPrimers(strings.NewReader("f,r\n"), umi.DefaultRunLength)
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
	_, _, err = umi.ReadPrimers(strings.NewReader("f,r\nGGG"+run+"CCC,AAATTT\n"), umi.DefaultRunLength)
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
}

func TestExtract(t *testing.T) {
	p := mustPrimer(t, "GGG"+run+"CCC")
	tests := []struct {
		seq     string
		ok      bool
		umi     string
		trimmed string
	}{
		{"GGGAAAAAAAAAACCCTTTT", true, "AAAAAAAAAA", "TTTT"},
		{"ACGTACGTGGGACGTACGTACCCCTT", true, "ACGTACGTAC", "TT"},
		{"GGGAAAAAAAAAACCC", true, "AAAAAAAAAA", ""},
		{"TTTTAAAAAAAAAACCCTTTT", false, "", ""},
		{"GGGAAAAAAAAAACCATTTT", false, "", ""},
		{"GGGAAAAAAAAAACC", false, "", ""},
		{"GGGAAAAA", false, "", ""},
		// The first GGG fixes the UMI position, so After is not found.
		{"GGGTGGGAAAAAAAAAACCCTTTT", false, "", ""},
		{"gggaaaaaaaaaaccctttt", false, "", ""},
	}
	for _, test := range tests {
		m, ok := p.Extract(test.seq)
		require.Equal(t, test.ok, ok, test.seq)
		if !ok {
			continue
		}
		assert.Equal(t, test.umi, m.UMI, test.seq)
		assert.Equal(t, test.trimmed, m.Trimmed, test.seq)
		assert.Equal(t, test.seq, test.seq[:m.Offset]+m.Trimmed, test.seq)
	}

	anchored := mustPrimer(t, run+"CCC")
	m, ok := anchored.Extract("TTTTTTTTTTCCCAG")
	require.True(t, ok)
	assert.Equal(t, "TTTTTTTTTT", m.UMI)
	assert.Equal(t, "AG", m.Trimmed)
	_, ok = anchored.Extract("ATTTTTTTTTTCCCAG")
	assert.False(t, ok)

	open := mustPrimer(t, "GG"+run)
	m, ok = open.Extract("GGACGTACGTAA")
	require.True(t, ok)
	assert.Equal(t, "ACGTACGTAA", m.UMI)
	assert.Equal(t, "", m.Trimmed)
	_, ok = open.Extract("GGACGTACGTA")
	assert.False(t, ok)
}

func read(id, seq string) fastq.Read {
	return fastq.Read{ID: id, Seq: seq, Unk: "+", Qual: strings.Repeat("I", len(seq))}
}

func pair(name, seq1, seq2 string) fastq.Pair {
	return fastq.Pair{R1: read("@"+name+"/1", seq1), R2: read("@"+name+"/2", seq2)}
}

func testInput() *fastq.PairBuffer {
	return &fastq.PairBuffer{Pairs: []fastq.Pair{
		pair("a", "GGGAAAAAAAAAACCCTTTT", "AAACCCCCCCCCCTTTGGGG"),
		pair("b", "GGGAAAAAAAAAACCCTTTA", "AAACCCCCCCCCCTTTGGGC"),
		pair("c", "GGGCAAAAAAAAACCCTT", "AAACCCCCCCCCCTTTG"),
		pair("d", "TTTAAAAAAAAAACCCTTTT", "AAACCCCCCCCCCTTTGGGG"),
		pair("e", "GGGAAAAAAAAAACCCTTTT", "AAACCCCCCCCCCTTAGGGG"),
		pair("f", "ACGTGGGAAAAAAAAAACCCTTTG", "AAACCCCCCCCCCTTTGGGA"),
	}}
}

func newBuilder(t *testing.T) *umi.Builder {
	return umi.NewBuilder("P1", mustPrimer(t, "GGG"+run+"CCC"), mustPrimer(t, "AAA"+run+"TTT"))
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	b := newBuilder(t)
	unresolved := &fastq.PairBuffer{}
	b.Unresolved = unresolved
	lib, stats, err := b.Build(ctx, testInput())
	require.NoError(t, err)

	assert.Equal(t, umi.BuildStats{Total: 6, Resolved: 4, Unresolved: 2, Keys: 2}, stats)
	assert.Equal(t, 2.0, stats.MeanReadsPerKey())
	assert.Equal(t, "P1", lib.Population)
	assert.Equal(t, 2, lib.Len())
	assert.Equal(t, 4, lib.NumReads())

	e, ok := lib.Get(umi.Key{Forward: "AAAAAAAAAA", Reverse: "CCCCCCCCCC"})
	require.True(t, ok)
	assert.Equal(t, []string{"TTTT", "TTTA", "TTTG"}, e.R1)
	assert.Equal(t, []string{"GGGG", "GGGC", "GGGA"}, e.R2)
	e, ok = lib.Get(umi.Key{Forward: "CAAAAAAAAA", Reverse: "CCCCCCCCCC"})
	require.True(t, ok)
	assert.Equal(t, []string{"TT"}, e.R1)
	assert.Equal(t, []string{"G"}, e.R2)

	assert.Equal(t, []umi.Key{
		{Forward: "AAAAAAAAAA", Reverse: "CCCCCCCCCC"},
		{Forward: "CAAAAAAAAA", Reverse: "CCCCCCCCCC"},
	}, lib.Keys())
	assert.Equal(t, []int{3, 1}, lib.ReadsPerKey())

	// Unresolved pairs keep their pairing and original sequences.
	require.Equal(t, 2, unresolved.Len())
	assert.Equal(t, "@d/1", unresolved.Pairs[0].R1.ID)
	assert.Equal(t, "@d/2", unresolved.Pairs[0].R2.ID)
	assert.Equal(t, "TTTAAAAAAAAAACCCTTTT", unresolved.Pairs[0].R1.Seq)
	assert.Equal(t, "@e/1", unresolved.Pairs[1].R1.ID)
}

func TestLibraryShape(t *testing.T) {
	lib, _, err := newBuilder(t).Build(context.Background(), testInput())
	require.NoError(t, err)
	for _, k := range lib.Keys() {
		e, _ := lib.Get(k)
		assert.Equal(t, len(e.R1), len(e.R2), "%v", k)
	}
}

func TestBuildPairingError(t *testing.T) {
	r1 := "@a/1\nGGGAAAAAAAAAACCCTTTT\n+\nIIIIIIIIIIIIIIIIIIII\n"
	r2 := "@b/2\nAAACCCCCCCCCCTTTGGGG\n+\nIIIIIIIIIIIIIIIIIIII\n"
	src := fastq.NewPairScanner(strings.NewReader(r1), strings.NewReader(r2), fastq.All)
	_, _, err := newBuilder(t).Build(context.Background(), src)
	assert.True(t, errors.Is(errors.Integrity, err), "err: %v", err)
}

func TestFingerprint(t *testing.T) {
	a := umi.NewLibrary("P1")
	a.Add(umi.Key{Forward: "A", Reverse: "C"}, "x", "y")
	a.Add(umi.Key{Forward: "G", Reverse: "T"}, "u", "v")
	b := umi.NewLibrary("P1")
	b.Add(umi.Key{Forward: "G", Reverse: "T"}, "u", "v")
	b.Add(umi.Key{Forward: "A", Reverse: "C"}, "x", "y")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := umi.NewLibrary("P1")
	c.Add(umi.Key{Forward: "A", Reverse: "C"}, "xu", "y")
	c.Add(umi.Key{Forward: "G", Reverse: "T"}, "", "v")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	d := umi.NewLibrary("P2")
	d.Add(umi.Key{Forward: "A", Reverse: "C"}, "x", "y")
	d.Add(umi.Key{Forward: "G", Reverse: "T"}, "u", "v")
	assert.NotEqual(t, a.Fingerprint(), d.Fingerprint())
}

func TestRoundTrip(t *testing.T) {
	lib, _, err := newBuilder(t).Build(context.Background(), testInput())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, umi.Write(&buf, lib))
	got, err := umi.Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, lib.Population, got.Population)
	assert.Equal(t, lib.Keys(), got.Keys())
	assert.Equal(t, lib.NumReads(), got.NumReads())
	assert.Equal(t, lib.Fingerprint(), got.Fingerprint())
	for _, k := range lib.Keys() {
		want, _ := lib.Get(k)
		e, ok := got.Get(k)
		require.True(t, ok)
		assert.Equal(t, want, e)
	}

	empty := umi.NewLibrary("P9")
	buf.Reset()
	require.NoError(t, umi.Write(&buf, empty))
	got, err = umi.Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "P9", got.Population)
	assert.Equal(t, 0, got.Len())
}

func TestReadGarbage(t *testing.T) {
	_, err := umi.Read(strings.NewReader("not a UMI library"))
	assert.Error(t, err)
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpDir)

	lib, _, err := newBuilder(t).Build(ctx, testInput())
	require.NoError(t, err)
	path := filepath.Join(tmpDir, "P1", "P1_UMI_dict.rio")
	require.NoError(t, umi.WriteFile(ctx, path, lib))
	got, err := umi.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, lib.Fingerprint(), got.Fingerprint())

	_, err = umi.ReadFile(ctx, filepath.Join(tmpDir, "missing.rio"))
	assert.Error(t, err)

	primers := filepath.Join(tmpDir, "exp_UMI_primers.csv")
	require.NoError(t, os.WriteFile(primers, []byte("f,r\nGGG"+run+"CCC,AAA"+run+"TTT\n"), 0644))
	fwd, rev, err := umi.LoadPrimers(ctx, primers, umi.DefaultRunLength)
	require.NoError(t, err)
	assert.Equal(t, "CCC", fwd.After)
	assert.Equal(t, "AAA", rev.Before)
}

func TestSummarize(t *testing.T) {
	lib := umi.NewLibrary("P1")
	for i, n := range []int{1, 1, 2, 4, 10} {
		k := umi.Key{Forward: strings.Repeat("A", i+1), Reverse: "C"}
		for j := 0; j < n; j++ {
			lib.Add(k, "x", "y")
		}
	}
	s := umi.Summarize(lib)
	assert.Equal(t, 5, s.Keys)
	assert.Equal(t, 18, s.Reads)
	assert.InDelta(t, 3.6, s.Mean, 1e-9)
	assert.Equal(t, 2.0, s.Median)
	assert.Equal(t, 10.0, s.P90)
	assert.Equal(t, 10.0, s.Max)
	assert.Equal(t, 2, s.Singletons)
	assert.Contains(t, s.String(), "P1: UMI keys: 5, pairs: 18")

	assert.Equal(t, []float64{2, 1, 0, 2}, umi.Histogram(lib, 4))
	assert.NotEmpty(t, umi.Plot(lib, 4))

	empty := umi.NewLibrary("P2")
	assert.Equal(t, umi.Summary{Population: "P2"}, umi.Summarize(empty))
	assert.Equal(t, "", umi.Plot(empty, 4))
}

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	status := m.Run()
	shutdown()
	os.Exit(status)
}
