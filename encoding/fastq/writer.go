package fastq

import "io"

var (
	newline = []byte{'\n'}
	plus    = "+"
)

// Writer is a FASTQ file writer.
type Writer struct {
	w   io.Writer
	n   int
	err error
}

// NewWriter constructs a new FASTQ writer
// that writes reads to the underlying writer w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes the read r in FASTQ format. A read scanned without its
// line 3 is written with a bare "+" separator.
// An error is returned if the write failed.
func (w *Writer) Write(r *Read) error {
	w.writeln(r.ID)
	w.writeln(r.Seq)
	if r.Unk == "" {
		w.writeln(plus)
	} else {
		w.writeln(r.Unk)
	}
	w.writeln(r.Qual)
	if w.err == nil {
		w.n++
	}
	return w.err
}

// Count returns the number of reads written successfully.
func (w *Writer) Count() int { return w.n }

func (w *Writer) writeln(line string) {
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, line)
	if w.err == nil {
		_, w.err = w.w.Write(newline)
	}
}
