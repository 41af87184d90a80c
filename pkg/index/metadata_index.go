// Package index provides the persistent offset-to-metadata index that backs
// point lookups of record metadata in production deployments.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/muninstore/munin/pkg/store"
)

// MetadataIndex maps segment offsets to serialized MessageInfo entries in a
// pebble store. It implements store.MetadataSource.
type MetadataIndex struct {
	db *pebble.DB
}

// Open opens (or creates) the index at path.
func Open(path string) (*MetadataIndex, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open metadata index: %w", err)
	}
	return &MetadataIndex{db: db}, nil
}

// Put associates info with a segment offset.
func (idx *MetadataIndex) Put(offset int64, info store.MessageInfo) error {
	return idx.db.Set(offsetKey(offset), encodeInfo(info), pebble.NoSync)
}

// Delete removes the entry at offset, if any.
func (idx *MetadataIndex) Delete(offset int64) error {
	return idx.db.Delete(offsetKey(offset), pebble.NoSync)
}

// Lookup implements store.MetadataSource. The read argument is unused:
// entries are materialized at Put time. The factory decodes the stored key.
func (idx *MetadataIndex) Lookup(_ io.ReaderAt, offset int64, factory store.StoreKeyFactory) (store.MessageInfo, error) {
	data, closer, err := idx.db.Get(offsetKey(offset))
	if err != nil {
		if err == pebble.ErrNotFound {
			return store.MessageInfo{}, store.ErrNotFound
		}
		return store.MessageInfo{}, err
	}
	defer closer.Close()
	return decodeInfo(data, factory)
}

// Close closes the index.
func (idx *MetadataIndex) Close() error {
	return idx.db.Close()
}

func offsetKey(offset int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(offset))
	return buf
}

// encodeInfo lays out a MessageInfo as
// [Size(8)][Deleted(1)][ExpiresAtMs(8)][Key wire form].
func encodeInfo(info store.MessageInfo) []byte {
	keyBytes := info.Key.Bytes()
	buf := make([]byte, 17+len(keyBytes))
	binary.LittleEndian.PutUint64(buf[0:], uint64(info.Size))
	if info.Deleted {
		buf[8] = 1
	}
	var expires int64
	if !info.ExpiresAt.IsZero() {
		expires = info.ExpiresAt.UnixMilli()
	}
	binary.LittleEndian.PutUint64(buf[9:], uint64(expires))
	copy(buf[17:], keyBytes)
	return buf
}

func decodeInfo(buf []byte, factory store.StoreKeyFactory) (store.MessageInfo, error) {
	if len(buf) < 17 {
		return store.MessageInfo{}, fmt.Errorf("metadata entry truncated: %d bytes", len(buf))
	}
	key, err := factory.ParseKey(bytes.NewReader(buf[17:]))
	if err != nil {
		return store.MessageInfo{}, fmt.Errorf("decode metadata entry key: %w", err)
	}
	info := store.MessageInfo{
		Key:     key,
		Size:    int64(binary.LittleEndian.Uint64(buf[0:8])),
		Deleted: buf[8] == 1,
	}
	if expires := int64(binary.LittleEndian.Uint64(buf[9:17])); expires != 0 {
		info.ExpiresAt = time.UnixMilli(expires)
	}
	return info, nil
}
