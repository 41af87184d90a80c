// Package key implements Munin's store key scheme: KSUID blob IDs with a
// length-prefixed wire form.
package key

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/segmentio/ksuid"

	"github.com/muninstore/munin/pkg/store"
)

// BlobID is a KSUID-backed store key. The wire form is a uint16 length
// prefix followed by the raw 20 KSUID bytes, so keys of future schemes can
// coexist in the same log.
type BlobID struct {
	id ksuid.KSUID
}

// NewBlobID generates a fresh blob ID.
func NewBlobID() BlobID {
	return BlobID{id: ksuid.New()}
}

// ParseBlobID parses the KSUID string form, as printed by String.
func ParseBlobID(s string) (BlobID, error) {
	id, err := ksuid.Parse(s)
	if err != nil {
		return BlobID{}, fmt.Errorf("invalid blob id %q: %w", s, err)
	}
	return BlobID{id: id}, nil
}

// Bytes returns the wire form: [Length(2)][KSUID(20)].
func (b BlobID) Bytes() []byte {
	raw := b.id.Bytes()
	buf := make([]byte, 2+len(raw))
	binary.LittleEndian.PutUint16(buf[0:], uint16(len(raw)))
	copy(buf[2:], raw)
	return buf
}

func (b BlobID) String() string {
	return b.id.String()
}

// Compare orders blob IDs by their KSUID ordering (time-prefixed). Keys of
// a different scheme compare by raw wire bytes.
func (b BlobID) Compare(other store.StoreKey) int {
	if o, ok := other.(BlobID); ok {
		return ksuid.Compare(b.id, o.id)
	}
	return bytes.Compare(b.Bytes(), other.Bytes())
}

// BlobIDFactory parses BlobID keys from their wire form.
type BlobIDFactory struct{}

// ParseKey reads a length-prefixed KSUID from r.
func (BlobIDFactory) ParseKey(r io.Reader) (store.StoreKey, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read key length: %w", err)
	}
	length := binary.LittleEndian.Uint16(lenBuf[:])
	if int(length) != len(ksuid.Nil) {
		return nil, fmt.Errorf("unexpected key length %d, want %d", length, len(ksuid.Nil))
	}

	raw := make([]byte, length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read key bytes: %w", err)
	}
	id, err := ksuid.FromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse key bytes: %w", err)
	}
	return BlobID{id: id}, nil
}
