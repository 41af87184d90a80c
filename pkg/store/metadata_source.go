package store

import (
	"io"
	"sync"

	"github.com/google/btree"
)

// metadataItem orders MessageInfo entries by segment offset.
type metadataItem struct {
	offset int64
	info   MessageInfo
}

func (it *metadataItem) Less(other btree.Item) bool {
	return it.offset < other.(*metadataItem).offset
}

// BTreeMetadataSource is an in-memory MetadataSource keyed by segment
// offset. Reads are concurrency safe on the underlying btree; writes are
// not, so Put takes the lock.
type BTreeMetadataSource struct {
	tree *btree.BTree
	lock sync.RWMutex
}

// NewBTreeMetadataSource creates an empty in-memory metadata source.
func NewBTreeMetadataSource() *BTreeMetadataSource {
	return &BTreeMetadataSource{tree: btree.New(32)}
}

// Put associates info with a segment offset, replacing any previous entry.
func (s *BTreeMetadataSource) Put(offset int64, info MessageInfo) {
	s.lock.Lock()
	s.tree.ReplaceOrInsert(&metadataItem{offset: offset, info: info})
	s.lock.Unlock()
}

// Delete removes the entry at offset, reporting whether one existed.
func (s *BTreeMetadataSource) Delete(offset int64) bool {
	s.lock.Lock()
	old := s.tree.Delete(&metadataItem{offset: offset})
	s.lock.Unlock()
	return old != nil
}

// Lookup implements MetadataSource. The read and factory arguments are
// unused: entries are materialized at Put time.
func (s *BTreeMetadataSource) Lookup(_ io.ReaderAt, offset int64, _ StoreKeyFactory) (MessageInfo, error) {
	s.lock.RLock()
	item := s.tree.Get(&metadataItem{offset: offset})
	s.lock.RUnlock()
	if item == nil {
		return MessageInfo{}, ErrNotFound
	}
	return item.(*metadataItem).info, nil
}

// AscendRange visits entries with offsets in [low, high) in offset order,
// stopping early if fn returns false. Recovery replay walks checkpointed
// ranges with this.
func (s *BTreeMetadataSource) AscendRange(low, high int64, fn func(offset int64, info MessageInfo) bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	s.tree.AscendRange(&metadataItem{offset: low}, &metadataItem{offset: high}, func(i btree.Item) bool {
		it := i.(*metadataItem)
		return fn(it.offset, it.info)
	})
}

// Len returns the number of entries.
func (s *BTreeMetadataSource) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.tree.Len()
}
