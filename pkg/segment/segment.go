// Package segment provides file-backed log segment storage for Munin
// records: authoring, random-access reads, read sets over candidate
// batches, and in-place replacement writeback.
package segment

import (
	"fmt"
	"io"
	"os"

	"github.com/muninstore/munin/pkg/store"
)

// IndexEntry locates one record in a segment. Entries are what the store
// index knows about a record; KeyAt cross-checks happen against Key.
type IndexEntry struct {
	Offset int64
	Size   int64
	Key    store.StoreKey
}

// Segment is an open log segment file offering bounded random-access reads
// and in-place replacement writes. Reads never mutate segment state; the
// only write path is ReplaceAt.
type Segment struct {
	file *os.File
	path string
}

// Open opens an existing segment read-write.
func Open(path string) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	return &Segment{file: file, path: path}, nil
}

// ReadAt implements io.ReaderAt over the segment address space.
func (s *Segment) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the segment length in bytes.
func (s *Segment) Size() (int64, error) {
	stat, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// Path returns the segment's file path.
func (s *Segment) Path() string {
	return s.path
}

// ReplaceAt overwrites exactly size bytes at offset with the contents of r.
// The stream must yield exactly size bytes: a replacement of any other
// length would corrupt the neighbouring records, so both a short stream and
// a longer one fail before the segment is left inconsistent.
func (s *Segment) ReplaceAt(offset int64, r io.Reader, size int64) error {
	w := io.NewOffsetWriter(s.file, offset)
	n, err := io.Copy(w, io.LimitReader(r, size))
	if err != nil {
		return fmt.Errorf("replace at offset %d: %w", offset, err)
	}
	if n != size {
		return store.ErrShortReplace
	}
	// The stream must be exhausted; anything left means the caller sized
	// the replacement wrong.
	var probe [1]byte
	if extra, _ := r.Read(probe[:]); extra > 0 {
		return fmt.Errorf("replace at offset %d: stream longer than declared size %d", offset, size)
	}
	return nil
}

// Sync flushes the segment to stable storage.
func (s *Segment) Sync() error {
	return s.file.Sync()
}

// Close closes the segment.
func (s *Segment) Close() error {
	return s.file.Close()
}
