package messageformat

import (
	"bytes"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"

	"github.com/muninstore/munin/pkg/store"
)

// PutMessage is a lazily-produced encoding of a complete put record: header,
// store key, blob properties, user metadata and payload sub-records. Size is
// known up front and the stream yields exactly that many bytes, which is
// what lets a hard-delete replacement overwrite the original record in
// place without shifting its neighbours.
type PutMessage struct {
	r    io.Reader
	size int64
}

// NewPutMessage assembles a put record stream. The metadata and payload
// bodies are consumed lazily from their readers, which must yield exactly
// metadataLen and payloadLen bytes; the sub-record CRCs are computed as the
// bodies stream through.
func NewPutMessage(key store.StoreKey, props *BlobProperties, metadata io.Reader, metadataLen uint32,
	payload io.Reader, payloadLen uint64, headerVersion uint16) (*PutMessage, error) {

	headerSize, err := HeaderSize(headerVersion)
	if err != nil {
		return nil, err
	}

	keyBytes := key.Bytes()
	propsBytes := SerializeBlobProperties(props)

	propsOffset := headerSize + int64(len(keyBytes))
	metadataOffset := propsOffset + int64(len(propsBytes))
	payloadOffset := metadataOffset + UserMetadataRecordSize(metadataLen)
	messageSize := uint64(payloadOffset-propsOffset) + uint64(BlobRecordSize(payloadLen))

	header := &MessageHeader{
		Version:        headerVersion,
		MessageSize:    messageSize,
		PropsOffset:    int32(propsOffset),
		DeleteOffset:   InvalidRelativeOffset,
		MetadataOffset: int32(metadataOffset),
		PayloadOffset:  int32(payloadOffset),
	}
	headerBytes, err := header.Encode()
	if err != nil {
		return nil, err
	}

	// User metadata frame: [Version(2)][Size(4)] + body + CRC.
	metaFrame := make([]byte, 6)
	binary.LittleEndian.PutUint16(metaFrame[0:], UserMetadataVersionV1)
	binary.LittleEndian.PutUint32(metaFrame[2:], metadataLen)

	stream := io.MultiReader(
		bytes.NewReader(headerBytes),
		bytes.NewReader(keyBytes),
		bytes.NewReader(propsBytes),
		newChecksummedReader(metaFrame, metadata, int64(metadataLen)),
		newChecksummedReader(SerializeBlobFrame(payloadLen), payload, int64(payloadLen)),
	)

	return &PutMessage{
		r:    stream,
		size: propsOffset + int64(messageSize),
	}, nil
}

// NewHardDeleteReplacement builds the put record that replaces a
// hard-deleted record: original key and properties, all-zero user metadata
// and payload of the original lengths, same header version so the total
// length matches the original on-segment size.
func NewHardDeleteReplacement(key store.StoreKey, props *BlobProperties, metadataLen uint32,
	payloadLen uint64, headerVersion uint16) (*PutMessage, error) {
	return NewPutMessage(key, props,
		&zeroReader{n: int64(metadataLen)}, metadataLen,
		&zeroReader{n: int64(payloadLen)}, payloadLen,
		headerVersion)
}

// SerializeDeleteMessage encodes a complete tombstone record: a header with
// an invalid properties offset, the store key, and the delete sub-record.
func SerializeDeleteMessage(key store.StoreKey, headerVersion uint16) ([]byte, error) {
	headerSize, err := HeaderSize(headerVersion)
	if err != nil {
		return nil, err
	}

	keyBytes := key.Bytes()
	header := &MessageHeader{
		Version:        headerVersion,
		MessageSize:    DeleteRecordSize,
		PropsOffset:    InvalidRelativeOffset,
		DeleteOffset:   int32(headerSize + int64(len(keyBytes))),
		MetadataOffset: InvalidRelativeOffset,
		PayloadOffset:  InvalidRelativeOffset,
	}
	headerBytes, err := header.Encode()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, headerSize+int64(len(keyBytes))+DeleteRecordSize)
	buf = append(buf, headerBytes...)
	buf = append(buf, keyBytes...)
	buf = append(buf, SerializeDeleteRecord()...)
	return buf, nil
}

// Size returns the total number of bytes the stream yields.
func (m *PutMessage) Size() int64 {
	return m.size
}

// Read implements io.Reader.
func (m *PutMessage) Read(p []byte) (int, error) {
	return m.r.Read(p)
}

// checksummedReader streams a sub-record: a fixed frame prefix, then exactly
// bodyLen bytes of body, then the little-endian CRC32 of frame+body. The CRC
// is accumulated while the body streams, so the body is never buffered.
type checksummedReader struct {
	frame   io.Reader
	body    io.Reader
	crc     hash.Hash32
	remain  int64
	trailer io.Reader
}

func newChecksummedReader(frame []byte, body io.Reader, bodyLen int64) *checksummedReader {
	crc := crc32.NewIEEE()
	crc.Write(frame)
	return &checksummedReader{
		frame:  bytes.NewReader(frame),
		body:   body,
		crc:    crc,
		remain: bodyLen,
	}
}

func (r *checksummedReader) Read(p []byte) (int, error) {
	if r.frame != nil {
		n, err := r.frame.Read(p)
		if err == io.EOF {
			r.frame = nil
			if n == 0 {
				return r.Read(p)
			}
			err = nil
		}
		return n, err
	}

	if r.remain > 0 {
		if int64(len(p)) > r.remain {
			p = p[:r.remain]
		}
		n, err := r.body.Read(p)
		if n > 0 {
			r.crc.Write(p[:n])
			r.remain -= int64(n)
		}
		if err == io.EOF {
			if r.remain > 0 {
				return n, io.ErrUnexpectedEOF
			}
			err = nil
		}
		return n, err
	}

	if r.trailer == nil {
		sum := make([]byte, 4)
		binary.LittleEndian.PutUint32(sum, r.crc.Sum32())
		r.trailer = bytes.NewReader(sum)
	}
	return r.trailer.Read(p)
}

// zeroReader yields n zero bytes. Writing the replacement through it is the
// destructive half of a hard delete.
type zeroReader struct {
	n int64
}

func (z *zeroReader) Read(p []byte) (int, error) {
	if z.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > z.n {
		p = p[:z.n]
	}
	for i := range p {
		p[i] = 0
	}
	z.n -= int64(len(p))
	return len(p), nil
}
