package umi

import (
	"encoding/binary"
	"sort"

	farm "github.com/dgryski/go-farm"
)

// Key identifies a UMI group: the forward read's UMI and the reverse read's
// UMI.
type Key struct {
	Forward, Reverse string
}

// Entry holds the trimmed sequences of one UMI group. R1[i] and R2[i] come
// from the same read pair, so len(R1) == len(R2).
type Entry struct {
	R1, R2 []string
}

// Library groups the trimmed read pairs of one population by UMI key.
type Library struct {
	// Population is the bucket name of the population, e.g. "P1".
	Population string

	entries map[Key]*Entry
	nReads  int
}

// NewLibrary creates an empty library.
func NewLibrary(population string) *Library {
	return &Library{Population: population, entries: map[Key]*Entry{}}
}

// Add appends a trimmed pair to the group of key.
func (l *Library) Add(key Key, r1, r2 string) {
	e, ok := l.entries[key]
	if !ok {
		e = &Entry{}
		l.entries[key] = e
	}
	e.R1 = append(e.R1, r1)
	e.R2 = append(e.R2, r2)
	l.nReads++
}

// Get returns the group of key. The caller must not modify it.
func (l *Library) Get(key Key) (*Entry, bool) {
	e, ok := l.entries[key]
	return e, ok
}

// Len returns the number of distinct UMI keys.
func (l *Library) Len() int { return len(l.entries) }

// NumReads returns the number of read pairs in the library.
func (l *Library) NumReads() int { return l.nReads }

// Keys returns the keys in lexicographic order.
func (l *Library) Keys() []Key {
	keys := make([]Key, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Forward != keys[j].Forward {
			return keys[i].Forward < keys[j].Forward
		}
		return keys[i].Reverse < keys[j].Reverse
	})
	return keys
}

// ReadsPerKey returns the number of pairs of every key, in Keys order.
func (l *Library) ReadsPerKey() []int {
	keys := l.Keys()
	n := make([]int, len(keys))
	for i, k := range keys {
		n[i] = len(l.entries[k].R1)
	}
	return n
}

// Fingerprint hashes the library content. It does not depend on the order
// in which pairs of different keys were added, but does depend on the order
// within a key.
func (l *Library) Fingerprint() uint64 {
	h := farm.Fingerprint64([]byte(l.Population))
	var buf [8]byte
	mix := func(s string) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		h = farm.Hash64WithSeed(buf[:], h)
		h = farm.Hash64WithSeed([]byte(s), h)
	}
	for _, k := range l.Keys() {
		e := l.entries[k]
		mix(k.Forward)
		mix(k.Reverse)
		for i := range e.R1 {
			mix(e.R1[i])
			mix(e.R2[i])
		}
	}
	return h
}
