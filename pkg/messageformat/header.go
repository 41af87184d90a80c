package messageformat

import (
	"encoding/binary"
	"hash/crc32"
)

// Message header versions. The header is the only self-describing part of a
// record: everything else is located through the relative offsets it declares.
const (
	MessageHeaderVersionV1 uint16 = 1
	MessageHeaderVersionV2 uint16 = 2
)

const (
	// VersionFieldSize is the width of the version discriminator that every
	// header version starts with.
	VersionFieldSize = 2

	// InvalidRelativeOffset marks a region the record does not carry. A
	// header whose properties offset is invalid describes a delete record.
	InvalidRelativeOffset int32 = -1

	// HeaderSizeV1 layout:
	// [Version(2)][MessageSize(8)][PropsOffset(4)][DeleteOffset(4)]
	// [MetadataOffset(4)][PayloadOffset(4)][CRC32(4)]
	HeaderSizeV1 = 30

	// HeaderSizeV2 appends [LifeVersion(2)] before the CRC.
	HeaderSizeV2 = 32
)

// MessageHeader is the decoded fixed-size header of a record. All offsets are
// relative to the start of the record. MessageSize counts the bytes of the
// sub-records that follow the store key (properties + metadata + payload for
// a put record, the delete sub-record for a tombstone).
type MessageHeader struct {
	Version        uint16
	MessageSize    uint64
	PropsOffset    int32
	DeleteOffset   int32
	MetadataOffset int32
	PayloadOffset  int32
	LifeVersion    uint16 // V2 only, zero for V1
	CRC            uint32
}

// HeaderSize returns the encoded header size for a version.
func HeaderSize(version uint16) (int64, error) {
	switch version {
	case MessageHeaderVersionV1:
		return HeaderSizeV1, nil
	case MessageHeaderVersionV2:
		return HeaderSizeV2, nil
	default:
		return 0, newError(UnknownFormatVersion, "unknown header version %d", version)
	}
}

// DecodeHeader parses a header of the given version from buf. The version is
// passed separately because the caller has already consumed the discriminator
// to pick the schema; buf still begins with it. The header CRC is verified
// but region offsets are not; call Verify for that.
func DecodeHeader(version uint16, buf []byte) (*MessageHeader, error) {
	size, err := HeaderSize(version)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) < size {
		return nil, newError(HeaderConstraintViolation,
			"header truncated: %d bytes, need %d", len(buf), size)
	}

	h := &MessageHeader{
		Version:        binary.LittleEndian.Uint16(buf[0:2]),
		MessageSize:    binary.LittleEndian.Uint64(buf[2:10]),
		PropsOffset:    int32(binary.LittleEndian.Uint32(buf[10:14])),
		DeleteOffset:   int32(binary.LittleEndian.Uint32(buf[14:18])),
		MetadataOffset: int32(binary.LittleEndian.Uint32(buf[18:22])),
		PayloadOffset:  int32(binary.LittleEndian.Uint32(buf[22:26])),
	}
	if h.Version != version {
		return nil, newError(HeaderConstraintViolation,
			"version field %d does not match schema %d", h.Version, version)
	}

	crcStart := size - 4
	if version == MessageHeaderVersionV2 {
		h.LifeVersion = binary.LittleEndian.Uint16(buf[26:28])
	}
	h.CRC = binary.LittleEndian.Uint32(buf[crcStart : crcStart+4])

	if computed := crc32.ChecksumIEEE(buf[:crcStart]); computed != h.CRC {
		return nil, newError(HeaderConstraintViolation,
			"header crc mismatch: stored %d computed %d", h.CRC, computed)
	}

	return h, nil
}

// Encode serializes the header, computing its CRC.
func (h *MessageHeader) Encode() ([]byte, error) {
	size, err := HeaderSize(h.Version)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[0:], h.Version)
	binary.LittleEndian.PutUint64(buf[2:], h.MessageSize)
	binary.LittleEndian.PutUint32(buf[10:], uint32(h.PropsOffset))
	binary.LittleEndian.PutUint32(buf[14:], uint32(h.DeleteOffset))
	binary.LittleEndian.PutUint32(buf[18:], uint32(h.MetadataOffset))
	binary.LittleEndian.PutUint32(buf[22:], uint32(h.PayloadOffset))
	if h.Version == MessageHeaderVersionV2 {
		binary.LittleEndian.PutUint16(buf[26:], h.LifeVersion)
	}
	crcStart := size - 4
	binary.LittleEndian.PutUint32(buf[crcStart:], crc32.ChecksumIEEE(buf[:crcStart]))
	return buf, nil
}

// IsDeleteRecord reports whether the header describes a tombstone: no
// properties region, a valid delete region.
func (h *MessageHeader) IsDeleteRecord() bool {
	return h.PropsOffset == InvalidRelativeOffset
}

// HeaderSize returns the encoded size of this header.
func (h *MessageHeader) HeaderSize() int64 {
	size, _ := HeaderSize(h.Version)
	return size
}

// Verify checks structural consistency beyond the CRC already validated on
// decode. For a put record the region offsets must be strictly increasing,
// start at or after the header, and stay inside the declared message size.
// For a tombstone the put-region offsets must all be invalid and the delete
// offset valid.
func (h *MessageHeader) Verify() error {
	headerSize := h.HeaderSize()
	if headerSize == 0 {
		return newError(UnknownFormatVersion, "unknown header version %d", h.Version)
	}

	if h.IsDeleteRecord() {
		if h.MetadataOffset != InvalidRelativeOffset || h.PayloadOffset != InvalidRelativeOffset {
			return newError(HeaderConstraintViolation,
				"delete record with metadata offset %d payload offset %d",
				h.MetadataOffset, h.PayloadOffset)
		}
		if h.DeleteOffset < int32(headerSize) {
			return newError(HeaderConstraintViolation,
				"delete offset %d inside header of size %d", h.DeleteOffset, headerSize)
		}
		return nil
	}

	if h.DeleteOffset != InvalidRelativeOffset {
		return newError(HeaderConstraintViolation,
			"put record with delete offset %d", h.DeleteOffset)
	}
	if h.PropsOffset < int32(headerSize) {
		return newError(HeaderConstraintViolation,
			"properties offset %d inside header of size %d", h.PropsOffset, headerSize)
	}
	if h.MetadataOffset <= h.PropsOffset || h.PayloadOffset <= h.MetadataOffset {
		return newError(HeaderConstraintViolation,
			"region offsets not strictly increasing: props %d metadata %d payload %d",
			h.PropsOffset, h.MetadataOffset, h.PayloadOffset)
	}
	// All three sub-records live inside MessageSize bytes starting at the
	// properties offset.
	if uint64(h.PayloadOffset-h.PropsOffset) >= h.MessageSize {
		return newError(HeaderConstraintViolation,
			"payload offset %d outside message of size %d starting at %d",
			h.PayloadOffset, h.MessageSize, h.PropsOffset)
	}
	return nil
}

// PropsRegionSize returns the byte length of the blob properties sub-record
// as declared by the header.
func (h *MessageHeader) PropsRegionSize() int64 {
	return int64(h.MetadataOffset - h.PropsOffset)
}

// MetadataRegionSize returns the byte length of the user metadata sub-record.
func (h *MessageHeader) MetadataRegionSize() int64 {
	return int64(h.PayloadOffset - h.MetadataOffset)
}

// PayloadRegionSize returns the byte length of the payload sub-record.
func (h *MessageHeader) PayloadRegionSize() int64 {
	return int64(h.MessageSize) - int64(h.PayloadOffset-h.PropsOffset)
}
