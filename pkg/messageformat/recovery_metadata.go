package messageformat

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/muninstore/munin/pkg/store"
)

// hardDeleteRecoveryVersionV1 tags the recovery token layout:
// [TokenVersion(2)][HeaderVersion(2)][MetadataLen(4)][PayloadLen(8)]
// [Key][CRC32(4)].
const hardDeleteRecoveryVersionV1 uint16 = 1

// HardDeleteRecoveryMetadata is the per-candidate progress token a sweep
// persists so it can resume after a crash without redoing or skipping
// records. The store treats the serialized form as opaque bytes; only this
// package interprets it.
type HardDeleteRecoveryMetadata struct {
	HeaderVersion uint16
	Key           store.StoreKey
	MetadataLen   uint32
	PayloadLen    uint64
}

// Serialize encodes the token.
func (m *HardDeleteRecoveryMetadata) Serialize() []byte {
	keyBytes := m.Key.Bytes()
	buf := make([]byte, 16+len(keyBytes)+4)
	binary.LittleEndian.PutUint16(buf[0:], hardDeleteRecoveryVersionV1)
	binary.LittleEndian.PutUint16(buf[2:], m.HeaderVersion)
	binary.LittleEndian.PutUint32(buf[4:], m.MetadataLen)
	binary.LittleEndian.PutUint64(buf[8:], m.PayloadLen)
	copy(buf[16:], keyBytes)
	end := 16 + len(keyBytes)
	binary.LittleEndian.PutUint32(buf[end:], crc32.ChecksumIEEE(buf[:end]))
	return buf
}

// DeserializeHardDeleteRecoveryMetadata decodes a token, using factory to
// parse the embedded key.
func DeserializeHardDeleteRecoveryMetadata(buf []byte, factory store.StoreKeyFactory) (*HardDeleteRecoveryMetadata, error) {
	if len(buf) < 20 {
		return nil, newError(DataCorrupt, "recovery metadata truncated: %d bytes", len(buf))
	}
	if v := binary.LittleEndian.Uint16(buf[0:2]); v != hardDeleteRecoveryVersionV1 {
		return nil, newError(UnknownFormatVersion, "unknown recovery metadata version %d", v)
	}

	end := len(buf) - 4
	stored := binary.LittleEndian.Uint32(buf[end:])
	if computed := crc32.ChecksumIEEE(buf[:end]); computed != stored {
		return nil, newError(DataCorrupt,
			"recovery metadata crc mismatch: stored %d computed %d", stored, computed)
	}

	key, err := factory.ParseKey(bytes.NewReader(buf[16:end]))
	if err != nil {
		return nil, err
	}
	return &HardDeleteRecoveryMetadata{
		HeaderVersion: binary.LittleEndian.Uint16(buf[2:4]),
		Key:           key,
		MetadataLen:   binary.LittleEndian.Uint32(buf[4:8]),
		PayloadLen:    binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}
