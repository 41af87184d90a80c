package store

import (
	"io"
	"time"
)

// StoreKey is the store-wide unique identifier of a blob. Bytes returns the
// key's serialized wire form exactly as it appears inside a record, so
// len(Bytes()) is the key's on-segment size.
type StoreKey interface {
	Bytes() []byte
	String() string
	Compare(other StoreKey) int
}

// StoreKeyFactory decodes a scheme-specific StoreKey from its wire form.
type StoreKeyFactory interface {
	ParseKey(r io.Reader) (StoreKey, error)
}

// MessageReadSet is one batch of candidate records, addressable by index,
// offering bounded random-access reads. Implementations own bounds checking:
// a region read outside [0, SizeAt(index)) must fail rather than read
// neighbouring records.
type MessageReadSet interface {
	// Count returns the number of records in the set.
	Count() int

	// KeyAt returns the key the surrounding index knows for the record at
	// index. This is authoritative-by-position and is cross-checked against
	// the key read from the record bytes themselves.
	KeyAt(index int) StoreKey

	// SizeAt returns the on-segment size in bytes of the record at index.
	SizeAt(index int) int64

	// WriteRegion copies length bytes of the record at index, starting at
	// relativeOffset from the record start, into w. Returns the number of
	// bytes written.
	WriteRegion(index int, w io.Writer, relativeOffset, length int64) (int64, error)
}

// MessageInfo is the lightweight logical metadata of a record, used by
// recovery replay and point lookups without touching the record's payload.
type MessageInfo struct {
	Key       StoreKey
	Size      int64
	Deleted   bool
	ExpiresAt time.Time // zero when the blob has no TTL
}

// HardDeleteInfo is emitted once per eligible candidate of a hard-delete
// scan. Replacement streams exactly Size bytes: a structurally valid put
// record with the original key and properties and zero-filled user metadata
// and payload. The caller overwrites the original record in place with it.
// RecoveryMetadata is an opaque progress token associated with the
// candidate's key; persisting it lets a crashed sweep resume.
type HardDeleteInfo struct {
	Index            int
	Replacement      io.Reader
	Size             int64
	RecoveryMetadata []byte
}

// HardDeleteIterator is a lazy, single-pass sequence of hard-delete results.
// Next advances to the next eligible candidate, skipping records whose
// sub-record checksums fail. When Next returns false, Err distinguishes
// normal exhaustion (nil) from a fatal scan failure.
type HardDeleteIterator interface {
	Next() bool
	Info() HardDeleteInfo
	Err() error
}

// MessageStoreHardDelete is the hard-delete capability exposed to the
// compaction driver.
type MessageStoreHardDelete interface {
	// ScanHardDeleteMessages returns a fresh lazy scan over the read set.
	// Each call constructs an independent iteration; there is no shared
	// cursor state.
	ScanHardDeleteMessages(readSet MessageReadSet, factory StoreKeyFactory) HardDeleteIterator

	// GetMessageInfo fetches a record's logical metadata by segment offset
	// without running the hard-delete pipeline.
	GetMessageInfo(read io.ReaderAt, offset int64, factory StoreKeyFactory) (MessageInfo, error)
}

// MetadataSource is an offset-to-MessageInfo association backing
// GetMessageInfo. Production deployments derive it from the store index;
// tests and degenerate deployments keep it in memory. Sources are free to
// ignore read and factory if they hold materialized MessageInfo values.
type MetadataSource interface {
	Lookup(read io.ReaderAt, offset int64, factory StoreKeyFactory) (MessageInfo, error)
}

// Errors
var (
	ErrNotFound     = &StoreError{"record not found"}
	ErrShortReplace = &StoreError{"replacement stream shorter than declared size"}
)

// StoreError represents a store-level error.
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}
