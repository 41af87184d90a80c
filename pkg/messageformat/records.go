package messageformat

import (
	"encoding/binary"
	"hash/crc32"
)

// Sub-record schema versions. Each sub-record carries its own version and
// trailing CRC so it can be validated independently of the header.
const (
	BlobPropertiesVersionV1 uint16 = 1
	UserMetadataVersionV1   uint16 = 1
	BlobVersionV1           uint16 = 1
	DeleteRecordVersionV1   uint16 = 1
)

// NoTTL marks a blob without an expiry.
const NoTTL int64 = -1

// BlobProperties is the store-owned metadata of a blob: ownership, size and
// TTL class. It survives a hard delete verbatim so the record keeps
// describing the same object.
type BlobProperties struct {
	ContentSize uint64
	TTLSeconds  int64
	CreatedAtMs int64
	ServiceID   string
	OwnerID     string
	ContentType string
}

// EncodedSize returns the byte length of the serialized properties
// sub-record, including framing and CRC.
func (p *BlobProperties) EncodedSize() int64 {
	// [Version(2)][ContentSize(8)][TTL(8)][CreatedAt(8)]
	// [len(2)+ServiceID][len(2)+OwnerID][len(2)+ContentType][CRC32(4)]
	return 2 + 8 + 8 + 8 +
		2 + int64(len(p.ServiceID)) +
		2 + int64(len(p.OwnerID)) +
		2 + int64(len(p.ContentType)) +
		4
}

// SerializeBlobProperties encodes the properties sub-record.
func SerializeBlobProperties(p *BlobProperties) []byte {
	buf := make([]byte, p.EncodedSize())
	binary.LittleEndian.PutUint16(buf[0:], BlobPropertiesVersionV1)
	binary.LittleEndian.PutUint64(buf[2:], p.ContentSize)
	binary.LittleEndian.PutUint64(buf[10:], uint64(p.TTLSeconds))
	binary.LittleEndian.PutUint64(buf[18:], uint64(p.CreatedAtMs))
	off := 26
	off += putString(buf[off:], p.ServiceID)
	off += putString(buf[off:], p.OwnerID)
	off += putString(buf[off:], p.ContentType)
	binary.LittleEndian.PutUint32(buf[off:], crc32.ChecksumIEEE(buf[:off]))
	return buf
}

// DeserializeBlobProperties decodes and CRC-validates a properties
// sub-record. A failed checksum or truncated frame is classified as
// DataCorrupt: the region cannot be trusted, not even for its length.
func DeserializeBlobProperties(buf []byte) (*BlobProperties, error) {
	if len(buf) < 30 {
		return nil, newError(DataCorrupt, "blob properties truncated: %d bytes", len(buf))
	}
	if v := binary.LittleEndian.Uint16(buf[0:2]); v != BlobPropertiesVersionV1 {
		return nil, newError(UnknownFormatVersion, "unknown blob properties version %d", v)
	}

	p := &BlobProperties{
		ContentSize: binary.LittleEndian.Uint64(buf[2:10]),
		TTLSeconds:  int64(binary.LittleEndian.Uint64(buf[10:18])),
		CreatedAtMs: int64(binary.LittleEndian.Uint64(buf[18:26])),
	}
	off := 26
	var ok bool
	if p.ServiceID, off, ok = getString(buf, off); !ok {
		return nil, newError(DataCorrupt, "blob properties service id truncated")
	}
	if p.OwnerID, off, ok = getString(buf, off); !ok {
		return nil, newError(DataCorrupt, "blob properties owner id truncated")
	}
	if p.ContentType, off, ok = getString(buf, off); !ok {
		return nil, newError(DataCorrupt, "blob properties content type truncated")
	}
	if len(buf) < off+4 {
		return nil, newError(DataCorrupt, "blob properties crc truncated")
	}
	stored := binary.LittleEndian.Uint32(buf[off : off+4])
	if computed := crc32.ChecksumIEEE(buf[:off]); computed != stored {
		return nil, newError(DataCorrupt,
			"blob properties crc mismatch: stored %d computed %d", stored, computed)
	}
	return p, nil
}

// SerializeUserMetadata encodes the user metadata sub-record:
// [Version(2)][Size(4)][bytes][CRC32(4)].
func SerializeUserMetadata(metadata []byte) []byte {
	buf := make([]byte, UserMetadataRecordSize(uint32(len(metadata))))
	binary.LittleEndian.PutUint16(buf[0:], UserMetadataVersionV1)
	binary.LittleEndian.PutUint32(buf[2:], uint32(len(metadata)))
	copy(buf[6:], metadata)
	end := 6 + len(metadata)
	binary.LittleEndian.PutUint32(buf[end:], crc32.ChecksumIEEE(buf[:end]))
	return buf
}

// UserMetadataRecordSize returns the framed size of a metadata sub-record
// holding metadataLen bytes.
func UserMetadataRecordSize(metadataLen uint32) int64 {
	return 2 + 4 + int64(metadataLen) + 4
}

// DeserializeUserMetadata decodes and CRC-validates a user metadata
// sub-record, returning the metadata bytes. The returned slice aliases buf.
func DeserializeUserMetadata(buf []byte) ([]byte, error) {
	if len(buf) < 10 {
		return nil, newError(DataCorrupt, "user metadata truncated: %d bytes", len(buf))
	}
	if v := binary.LittleEndian.Uint16(buf[0:2]); v != UserMetadataVersionV1 {
		return nil, newError(UnknownFormatVersion, "unknown user metadata version %d", v)
	}
	size := binary.LittleEndian.Uint32(buf[2:6])
	end := 6 + int(size)
	if len(buf) < end+4 {
		return nil, newError(DataCorrupt,
			"user metadata declares %d bytes, region has %d", size, len(buf)-10)
	}
	stored := binary.LittleEndian.Uint32(buf[end : end+4])
	if computed := crc32.ChecksumIEEE(buf[:end]); computed != stored {
		return nil, newError(DataCorrupt,
			"user metadata crc mismatch: stored %d computed %d", stored, computed)
	}
	return buf[6:end], nil
}

// BlobRecordSize returns the framed size of a payload sub-record holding
// payloadLen bytes: [Version(2)][Size(8)][bytes][CRC32(4)].
func BlobRecordSize(payloadLen uint64) int64 {
	return 2 + 8 + int64(payloadLen) + 4
}

// SerializeBlobFrame returns the leading frame of a payload sub-record. The
// payload bytes and trailing CRC are streamed separately; see put_message.go.
func SerializeBlobFrame(payloadLen uint64) []byte {
	buf := make([]byte, 10)
	binary.LittleEndian.PutUint16(buf[0:], BlobVersionV1)
	binary.LittleEndian.PutUint64(buf[2:], payloadLen)
	return buf
}

// DeserializeBlob validates a payload sub-record and returns the validated
// payload length. The payload bytes themselves are deliberately not
// returned: hard delete only needs to size the region it is about to
// destroy, never to expose its content.
func DeserializeBlob(buf []byte) (uint64, error) {
	if len(buf) < 14 {
		return 0, newError(DataCorrupt, "blob record truncated: %d bytes", len(buf))
	}
	if v := binary.LittleEndian.Uint16(buf[0:2]); v != BlobVersionV1 {
		return 0, newError(UnknownFormatVersion, "unknown blob record version %d", v)
	}
	size := binary.LittleEndian.Uint64(buf[2:10])
	end := 10 + int(size)
	if uint64(len(buf)) < uint64(end)+4 {
		return 0, newError(DataCorrupt,
			"blob record declares %d bytes, region has %d", size, len(buf)-14)
	}
	stored := binary.LittleEndian.Uint32(buf[end : end+4])
	if computed := crc32.ChecksumIEEE(buf[:end]); computed != stored {
		return 0, newError(DataCorrupt,
			"blob record crc mismatch: stored %d computed %d", stored, computed)
	}
	return size, nil
}

// DeleteRecordSize is the framed size of a delete sub-record:
// [Version(2)][Deleted(1)][CRC32(4)].
const DeleteRecordSize = 7

// SerializeDeleteRecord encodes the tombstone sub-record.
func SerializeDeleteRecord() []byte {
	buf := make([]byte, DeleteRecordSize)
	binary.LittleEndian.PutUint16(buf[0:], DeleteRecordVersionV1)
	buf[2] = 1
	binary.LittleEndian.PutUint32(buf[3:], crc32.ChecksumIEEE(buf[:3]))
	return buf
}

// DeserializeDeleteRecord validates a tombstone sub-record.
func DeserializeDeleteRecord(buf []byte) error {
	if len(buf) < DeleteRecordSize {
		return newError(DataCorrupt, "delete record truncated: %d bytes", len(buf))
	}
	if v := binary.LittleEndian.Uint16(buf[0:2]); v != DeleteRecordVersionV1 {
		return newError(UnknownFormatVersion, "unknown delete record version %d", v)
	}
	stored := binary.LittleEndian.Uint32(buf[3:7])
	if computed := crc32.ChecksumIEEE(buf[:3]); computed != stored {
		return newError(DataCorrupt,
			"delete record crc mismatch: stored %d computed %d", stored, computed)
	}
	return nil
}

func putString(buf []byte, s string) int {
	binary.LittleEndian.PutUint16(buf[0:], uint16(len(s)))
	copy(buf[2:], s)
	return 2 + len(s)
}

func getString(buf []byte, off int) (string, int, bool) {
	if len(buf) < off+2 {
		return "", off, false
	}
	n := int(binary.LittleEndian.Uint16(buf[off : off+2]))
	off += 2
	if len(buf) < off+n {
		return "", off, false
	}
	return string(buf[off : off+n]), off + n, true
}
