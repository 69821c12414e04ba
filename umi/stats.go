package umi

import (
	"fmt"
	"sort"

	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the reads-per-UMI distribution of a library.
type Summary struct {
	Population string
	Keys       int
	Reads      int
	Mean       float64
	Median     float64
	P90        float64
	Max        float64
	// Singletons is the number of keys with a single read pair.
	Singletons int
}

// Summarize computes the reads-per-UMI summary of lib.
func Summarize(lib *Library) Summary {
	s := Summary{Population: lib.Population, Keys: lib.Len(), Reads: lib.NumReads()}
	if s.Keys == 0 {
		return s
	}
	x := make([]float64, 0, s.Keys)
	for _, n := range lib.ReadsPerKey() {
		x = append(x, float64(n))
		if n == 1 {
			s.Singletons++
		}
	}
	sort.Float64s(x)
	s.Mean = stat.Mean(x, nil)
	s.Median = stat.Quantile(0.5, stat.Empirical, x, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, x, nil)
	s.Max = x[len(x)-1]
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: UMI keys: %d, pairs: %d, pairs per key: mean %.2f, median %.0f, p90 %.0f, max %.0f, singletons: %d",
		s.Population, s.Keys, s.Reads, s.Mean, s.Median, s.P90, s.Max, s.Singletons)
}

// Histogram returns h where h[i] is the number of keys with i+1 read pairs.
// Keys with maxReads or more pairs are counted in the last element.
func Histogram(lib *Library, maxReads int) []float64 {
	if maxReads < 1 {
		maxReads = 1
	}
	h := make([]float64, maxReads)
	for _, n := range lib.ReadsPerKey() {
		if n > maxReads {
			n = maxReads
		}
		h[n-1]++
	}
	return h
}

// Plot renders the reads-per-UMI histogram of lib as text. It returns "" for
// an empty library.
func Plot(lib *Library, maxReads int) string {
	if lib.Len() == 0 {
		return ""
	}
	return asciigraph.Plot(Histogram(lib, maxReads),
		asciigraph.Height(10),
		asciigraph.Precision(0),
		asciigraph.Caption(fmt.Sprintf("%s: UMI keys by pairs per key (1..%d+)", lib.Population, maxReads)))
}
