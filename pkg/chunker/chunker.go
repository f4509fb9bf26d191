// Package chunker implements content-defined chunking with a Buzhash
// rolling hash. Boundaries are chosen by the rolling hash rather than at
// fixed offsets, so a small edit near the start of a file does not change
// every downstream chunk — the property that makes version-file uploads
// (pkg/transfer) resumable and dedup-friendly. The directory index
// (pkg/merkle) does not use content-defined boundaries; its fan-out is
// fixed hash-prefix bucketing.
package chunker

import (
	"bufio"
	"io"
)

// Chunk is one content-defined slice of a byte stream, along with its
// position in the overall sequence.
type Chunk struct {
	Data  []byte
	Index int
}

// Chunker splits a byte stream into content-defined chunks whose
// boundaries are chosen by a rolling hash rather than fixed offsets, so a
// small edit near the start of a file does not change every downstream
// chunk.
type Chunker struct {
	targetSize uint32
	minSize    uint32
	maxSize    uint32
}

// Default4MiB returns a chunker whose chunks never exceed the transfer
// protocol's 4 MiB chunk bound.
func Default4MiB() *Chunker {
	const mib = 1 << 20
	return New(mib, 256*1024, 4*mib)
}

// New creates a Chunker with the given target (average), minimum, and
// maximum chunk sizes in bytes.
func New(targetSize, minSize, maxSize uint32) *Chunker {
	return &Chunker{targetSize: targetSize, minSize: minSize, maxSize: maxSize}
}

// Split partitions data into content-defined chunks held entirely in
// memory, used for small version files.
func (c *Chunker) Split(data []byte) []Chunk {
	if len(data) == 0 {
		return nil
	}
	var chunks []Chunk
	scan := newBoundaryScanner(c.targetSize, c.minSize, c.maxSize)
	start := 0
	for i, b := range data {
		scan.roll(b)
		if scan.atBoundary() {
			chunks = append(chunks, Chunk{Data: data[start : i+1], Index: len(chunks)})
			start = i + 1
			scan.reset()
		}
	}
	if start < len(data) {
		chunks = append(chunks, Chunk{Data: data[start:], Index: len(chunks)})
	}
	return chunks
}

// SplitReader streams chunks out of r one at a time via fn, for large
// version files that should not be read fully into memory before
// transfer. fn is called in chunk order; returning an error from fn
// aborts the stream and SplitReader returns that error.
func (c *Chunker) SplitReader(r io.Reader, fn func(Chunk) error) error {
	br := bufio.NewReaderSize(r, 1<<16)
	scan := newBoundaryScanner(c.targetSize, c.minSize, c.maxSize)
	var buf []byte
	index := 0
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		buf = append(buf, b)
		scan.roll(b)
		if scan.atBoundary() {
			if err := fn(Chunk{Data: buf, Index: index}); err != nil {
				return err
			}
			index++
			buf = nil
			scan.reset()
		}
	}
	if len(buf) > 0 {
		if err := fn(Chunk{Data: buf, Index: index}); err != nil {
			return err
		}
	}
	return nil
}
