package messageformat

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/muninstore/munin/pkg/store"
)

// maxStoreKeySize bounds the section handed to the key factory when parsing
// a key straight off a record. Key wire forms are length-prefixed with a
// uint16, so this covers every legal key.
const maxStoreKeySize = 1<<16 + 2

// BlobStoreHardDelete implements store.MessageStoreHardDelete against the
// versioned record format of this package. It is stateless apart from its
// collaborators: every scan is an independent pass over the read set it was
// given.
type BlobStoreHardDelete struct {
	meta store.MetadataSource
	log  *logrus.Logger
}

// NewBlobStoreHardDelete creates the hard-delete entry point. meta may be
// nil, in which case GetMessageInfo parses the record at the requested
// offset instead of consulting an index-derived source. log may be nil.
func NewBlobStoreHardDelete(meta store.MetadataSource, log *logrus.Logger) *BlobStoreHardDelete {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BlobStoreHardDelete{meta: meta, log: log}
}

// ScanHardDeleteMessages returns a lazy scan over the read set. Candidates
// whose sub-record checksums fail are logged and skipped; header
// violations, unknown versions, key mismatches, tombstone candidates and
// I/O failures stop the scan with the error available from Err.
func (hd *BlobStoreHardDelete) ScanHardDeleteMessages(readSet store.MessageReadSet,
	factory store.StoreKeyFactory) store.HardDeleteIterator {
	return &hardDeleteIterator{
		readSet: readSet,
		factory: factory,
		log:     hd.log,
	}
}

// GetMessageInfo fetches a record's logical metadata by segment offset. With
// a metadata source configured the lookup is delegated to it; otherwise the
// record's header, key and properties are parsed from read directly.
func (hd *BlobStoreHardDelete) GetMessageInfo(read io.ReaderAt, offset int64,
	factory store.StoreKeyFactory) (store.MessageInfo, error) {
	if hd.meta != nil {
		return hd.meta.Lookup(read, offset, factory)
	}
	return readMessageInfo(read, offset, factory)
}

type hardDeleteIterator struct {
	readSet store.MessageReadSet
	factory store.StoreKeyFactory
	log     *logrus.Logger
	index   int
	info    store.HardDeleteInfo
	err     error
}

func (it *hardDeleteIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.index < it.readSet.Count() {
		i := it.index
		it.index++

		info, err := replacementInfo(it.readSet, i, it.factory)
		if err != nil {
			if IsCode(err, DataCorrupt) {
				// The record is already unreadable through normal read
				// paths; hard delete cannot make it worse. Skip it and
				// keep sweeping.
				it.log.WithFields(logrus.Fields{
					"index": i,
					"key":   it.readSet.KeyAt(i),
				}).WithError(err).Error("record is corrupt in the log, skipping hard delete candidate")
				continue
			}
			it.err = err
			return false
		}
		it.info = info
		return true
	}
	return false
}

func (it *hardDeleteIterator) Info() store.HardDeleteInfo {
	return it.info
}

func (it *hardDeleteIterator) Err() error {
	return it.err
}

// replacementInfo runs the full per-candidate pipeline: header parse and
// verification, key cross-check, region deserialization, replacement
// synthesis. Everything a field declares is checksum-validated before it is
// trusted.
func replacementInfo(readSet store.MessageReadSet, index int,
	factory store.StoreKeyFactory) (store.HardDeleteInfo, error) {
	var none store.HardDeleteInfo

	versionBuf, err := readRegion(readSet, index, 0, VersionFieldSize)
	if err != nil {
		return none, err
	}
	version := binary.LittleEndian.Uint16(versionBuf)

	headerSize, err := HeaderSize(version)
	if err != nil {
		return none, err
	}
	headerBuf, err := readRegion(readSet, index, 0, headerSize)
	if err != nil {
		return none, err
	}
	header, err := DecodeHeader(version, headerBuf)
	if err != nil {
		return none, err
	}
	if err := header.Verify(); err != nil {
		return none, err
	}

	key, err := factory.ParseKey(newReadSetReader(readSet, index, headerSize))
	if err != nil {
		return none, err
	}
	if indexKey := readSet.KeyAt(index); key.Compare(indexKey) != 0 {
		return none, newError(StoreKeyMismatch,
			"key mismatch between record and store: record %s store %s", key, indexKey)
	}

	if header.IsDeleteRecord() {
		return none, newError(DeleteRecordUnsupported,
			"hard delete of a delete record is unsupported, key %s", key)
	}

	propsBuf, err := readRegion(readSet, index, int64(header.PropsOffset), header.PropsRegionSize())
	if err != nil {
		return none, err
	}
	props, err := DeserializeBlobProperties(propsBuf)
	if err != nil {
		return none, err
	}

	metadataBuf, err := readRegion(readSet, index, int64(header.MetadataOffset), header.MetadataRegionSize())
	if err != nil {
		return none, err
	}
	metadata, err := DeserializeUserMetadata(metadataBuf)
	if err != nil {
		return none, err
	}

	payloadBuf, err := readRegion(readSet, index, int64(header.PayloadOffset), header.PayloadRegionSize())
	if err != nil {
		return none, err
	}
	payloadLen, err := DeserializeBlob(payloadBuf)
	if err != nil {
		return none, err
	}

	replacement, err := NewHardDeleteReplacement(key, props, uint32(len(metadata)), payloadLen, version)
	if err != nil {
		return none, err
	}
	if replacement.Size() != readSet.SizeAt(index) {
		return none, newError(HeaderConstraintViolation,
			"replacement size %d does not match record size %d for key %s",
			replacement.Size(), readSet.SizeAt(index), key)
	}

	recovery := &HardDeleteRecoveryMetadata{
		HeaderVersion: version,
		Key:           key,
		MetadataLen:   uint32(len(metadata)),
		PayloadLen:    payloadLen,
	}

	return store.HardDeleteInfo{
		Index:            index,
		Replacement:      replacement,
		Size:             replacement.Size(),
		RecoveryMetadata: recovery.Serialize(),
	}, nil
}

// readMessageInfo parses just enough of the record at offset to build its
// MessageInfo: header, key, and for put records the blob properties.
func readMessageInfo(read io.ReaderAt, offset int64, factory store.StoreKeyFactory) (store.MessageInfo, error) {
	var none store.MessageInfo

	versionBuf := make([]byte, VersionFieldSize)
	if _, err := read.ReadAt(versionBuf, offset); err != nil {
		return none, err
	}
	version := binary.LittleEndian.Uint16(versionBuf)

	headerSize, err := HeaderSize(version)
	if err != nil {
		return none, err
	}
	headerBuf := make([]byte, headerSize)
	if _, err := read.ReadAt(headerBuf, offset); err != nil {
		return none, err
	}
	header, err := DecodeHeader(version, headerBuf)
	if err != nil {
		return none, err
	}
	if err := header.Verify(); err != nil {
		return none, err
	}

	key, err := factory.ParseKey(io.NewSectionReader(read, offset+headerSize, maxStoreKeySize))
	if err != nil {
		return none, err
	}

	info := store.MessageInfo{
		Key:     key,
		Size:    headerSize + int64(len(key.Bytes())) + int64(header.MessageSize),
		Deleted: header.IsDeleteRecord(),
	}
	if !info.Deleted {
		propsBuf := make([]byte, header.PropsRegionSize())
		if _, err := read.ReadAt(propsBuf, offset+int64(header.PropsOffset)); err != nil {
			return none, err
		}
		props, err := DeserializeBlobProperties(propsBuf)
		if err != nil {
			return none, err
		}
		if props.TTLSeconds != NoTTL {
			info.ExpiresAt = time.UnixMilli(props.CreatedAtMs).Add(time.Duration(props.TTLSeconds) * time.Second)
		}
	}
	return info, nil
}

// readSetReader adapts a record of a read set to a sequential io.Reader
// starting at a relative offset, for collaborators that parse
// self-delimiting fields (the key factory).
type readSetReader struct {
	readSet store.MessageReadSet
	index   int
	off     int64
	size    int64
}

func newReadSetReader(readSet store.MessageReadSet, index int, start int64) *readSetReader {
	return &readSetReader{
		readSet: readSet,
		index:   index,
		off:     start,
		size:    readSet.SizeAt(index),
	}
}

func (r *readSetReader) Read(p []byte) (int, error) {
	if r.off >= r.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	if remain := r.size - r.off; length > remain {
		length = remain
	}
	w := &sliceWriter{p: p[:length]}
	n, err := r.readSet.WriteRegion(r.index, w, r.off, length)
	r.off += n
	return int(n), err
}

// sliceWriter writes into a fixed caller-owned slice. Read sets are free to
// hand the writer to io.Copy, so it must land the bytes in p itself rather
// than in a growable buffer.
type sliceWriter struct {
	p []byte
	n int
}

func (w *sliceWriter) Write(b []byte) (int, error) {
	n := copy(w.p[w.n:], b)
	w.n += n
	if n < len(b) {
		return n, io.ErrShortWrite
	}
	return n, nil
}
