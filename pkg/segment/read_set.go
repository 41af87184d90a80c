package segment

import (
	"fmt"
	"io"

	"github.com/muninstore/munin/pkg/store"
)

// FileReadSet adapts a batch of index entries over a segment to
// store.MessageReadSet. It is a read-only snapshot: the entries and the
// segment it was built over do not change during a scan.
type FileReadSet struct {
	reader  io.ReaderAt
	entries []IndexEntry
}

// NewFileReadSet builds a read set over one batch of candidate records.
func NewFileReadSet(reader io.ReaderAt, entries []IndexEntry) *FileReadSet {
	return &FileReadSet{reader: reader, entries: entries}
}

// Count implements store.MessageReadSet.
func (rs *FileReadSet) Count() int {
	return len(rs.entries)
}

// KeyAt implements store.MessageReadSet.
func (rs *FileReadSet) KeyAt(index int) store.StoreKey {
	return rs.entries[index].Key
}

// SizeAt implements store.MessageReadSet.
func (rs *FileReadSet) SizeAt(index int) int64 {
	return rs.entries[index].Size
}

// Entry returns the index entry at index, giving sweep drivers the absolute
// offset to write a replacement back to.
func (rs *FileReadSet) Entry(index int) IndexEntry {
	return rs.entries[index]
}

// WriteRegion implements store.MessageReadSet. The region must lie inside
// the record: reads outside [0, SizeAt(index)) fail rather than touch a
// neighbouring record.
func (rs *FileReadSet) WriteRegion(index int, w io.Writer, relativeOffset, length int64) (int64, error) {
	if index < 0 || index >= len(rs.entries) {
		return 0, fmt.Errorf("read set index %d out of range [0, %d)", index, len(rs.entries))
	}
	entry := rs.entries[index]
	if relativeOffset < 0 || length < 0 || relativeOffset+length > entry.Size {
		return 0, fmt.Errorf("region [%d, %d) outside record of size %d",
			relativeOffset, relativeOffset+length, entry.Size)
	}
	return io.Copy(w, io.NewSectionReader(rs.reader, entry.Offset+relativeOffset, length))
}
