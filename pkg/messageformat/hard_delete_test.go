package messageformat

import (
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/muninstore/munin/pkg/key"
	"github.com/muninstore/munin/pkg/store"
)

// memReadSet is an in-memory MessageReadSet fixture over raw record bytes.
type memReadSet struct {
	records [][]byte
	keys    []store.StoreKey
	failAt  int // index whose reads fail with ioErr, -1 to disable
}

var ioErr = fmt.Errorf("injected read failure")

func newMemReadSet() *memReadSet {
	return &memReadSet{failAt: -1}
}

func (m *memReadSet) add(record []byte, k store.StoreKey) {
	m.records = append(m.records, record)
	m.keys = append(m.keys, k)
}

func (m *memReadSet) Count() int { return len(m.records) }

func (m *memReadSet) KeyAt(index int) store.StoreKey { return m.keys[index] }

func (m *memReadSet) SizeAt(index int) int64 { return int64(len(m.records[index])) }

func (m *memReadSet) WriteRegion(index int, w io.Writer, relativeOffset, length int64) (int64, error) {
	if index == m.failAt {
		return 0, ioErr
	}
	record := m.records[index]
	if relativeOffset < 0 || relativeOffset+length > int64(len(record)) {
		return 0, fmt.Errorf("region [%d, %d) outside record of size %d",
			relativeOffset, relativeOffset+length, len(record))
	}
	n, err := w.Write(record[relativeOffset : relativeOffset+length])
	return int64(n), err
}

// copyReadSet serves regions through io.Copy over a section reader, the way
// file-backed read sets do. io.Copy is free to drive the destination's
// ReadFrom, so this double exposes writers that only work under plain Write
// calls.
type copyReadSet struct {
	*memReadSet
}

func (c *copyReadSet) WriteRegion(index int, w io.Writer, relativeOffset, length int64) (int64, error) {
	record := c.records[index]
	if relativeOffset < 0 || relativeOffset+length > int64(len(record)) {
		return 0, fmt.Errorf("region [%d, %d) outside record of size %d",
			relativeOffset, relativeOffset+length, len(record))
	}
	return io.Copy(w, io.NewSectionReader(bytes.NewReader(record), relativeOffset, length))
}

// buildPutRecord authors one complete put record in memory.
func buildPutRecord(t *testing.T, id store.StoreKey, metadata, payload []byte, version uint16) []byte {
	t.Helper()
	props := &BlobProperties{
		ContentSize: uint64(len(payload)),
		TTLSeconds:  NoTTL,
		CreatedAtMs: time.Now().UnixMilli(),
		ServiceID:   "media-service",
		OwnerID:     "user-42",
		ContentType: "application/octet-stream",
	}
	msg, err := NewPutMessage(id, props,
		bytes.NewReader(metadata), uint32(len(metadata)),
		bytes.NewReader(payload), uint64(len(payload)),
		version)
	if err != nil {
		t.Fatalf("build put record: %v", err)
	}
	data, err := io.ReadAll(msg)
	if err != nil {
		t.Fatalf("build put record stream: %v", err)
	}
	return data
}

func buildDeleteRecord(t *testing.T, id store.StoreKey) []byte {
	t.Helper()
	data, err := SerializeDeleteMessage(id, MessageHeaderVersionV1)
	if err != nil {
		t.Fatalf("build delete record: %v", err)
	}
	return data
}

func collectScan(t *testing.T, readSet store.MessageReadSet) ([]store.HardDeleteInfo, [][]byte, error) {
	t.Helper()
	hd := NewBlobStoreHardDelete(nil, nil)
	it := hd.ScanHardDeleteMessages(readSet, key.BlobIDFactory{})

	var infos []store.HardDeleteInfo
	var streams [][]byte
	for it.Next() {
		info := it.Info()
		data, err := io.ReadAll(info.Replacement)
		if err != nil {
			t.Fatalf("replacement stream: %v", err)
		}
		infos = append(infos, info)
		streams = append(streams, data)
	}
	return infos, streams, it.Err()
}

func TestScanLengthAndDestructionInvariants(t *testing.T) {
	// Spec scenario: 50 byte metadata, 1000 byte payload.
	id := key.NewBlobID()
	metadata := bytes.Repeat([]byte{0xDD}, 50)
	payload := bytes.Repeat([]byte{0xEE}, 1000)
	record := buildPutRecord(t, id, metadata, payload, MessageHeaderVersionV1)

	rs := newMemReadSet()
	rs.add(record, id)

	infos, streams, err := collectScan(t, rs)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("emitted %d replacements, want 1", len(infos))
	}

	// Length invariant: the replacement is exactly as long as the original.
	if infos[0].Size != int64(len(record)) {
		t.Errorf("replacement size %d, original record size %d", infos[0].Size, len(record))
	}
	if int64(len(streams[0])) != infos[0].Size {
		t.Errorf("stream yielded %d bytes, declared %d", len(streams[0]), infos[0].Size)
	}

	// Destruction invariant: metadata and payload decode to zeroes of the
	// original lengths, properties decode identically.
	data := streams[0]
	header, err := DecodeHeader(MessageHeaderVersionV1, data[:HeaderSizeV1])
	if err != nil {
		t.Fatalf("replacement header decode: %v", err)
	}

	origHeader, err := DecodeHeader(MessageHeaderVersionV1, record[:HeaderSizeV1])
	if err != nil {
		t.Fatalf("original header decode: %v", err)
	}
	origProps := record[origHeader.PropsOffset : int64(origHeader.PropsOffset)+origHeader.PropsRegionSize()]
	newProps := data[header.PropsOffset : int64(header.PropsOffset)+header.PropsRegionSize()]
	if !bytes.Equal(origProps, newProps) {
		t.Error("properties region changed across hard delete")
	}

	gotMetadata, err := DeserializeUserMetadata(
		data[header.MetadataOffset : int64(header.MetadataOffset)+header.MetadataRegionSize()])
	if err != nil {
		t.Fatalf("replacement metadata decode: %v", err)
	}
	if len(gotMetadata) != 50 || !bytes.Equal(gotMetadata, make([]byte, 50)) {
		t.Error("metadata region is not 50 zero bytes")
	}

	payloadLen, err := DeserializeBlob(
		data[header.PayloadOffset : int64(header.PayloadOffset)+header.PayloadRegionSize()])
	if err != nil {
		t.Fatalf("replacement payload decode: %v", err)
	}
	if payloadLen != 1000 {
		t.Errorf("payload length %d, want 1000", payloadLen)
	}
	if !bytes.Equal(data[int64(header.PayloadOffset)+10:int64(header.PayloadOffset)+10+1000], make([]byte, 1000)) {
		t.Error("payload region is not all zero bytes")
	}

	// Key preservation: the replacement parses back to the original key.
	parsed, err := (key.BlobIDFactory{}).ParseKey(bytes.NewReader(data[HeaderSizeV1:]))
	if err != nil {
		t.Fatalf("replacement key parse: %v", err)
	}
	if parsed.Compare(id) != 0 {
		t.Errorf("replacement key %s, want %s", parsed, id)
	}
}

func TestScanParsesKeyThroughCopyDrivenReadSet(t *testing.T) {
	id := key.NewBlobID()
	record := buildPutRecord(t, id, []byte("metadata"), bytes.Repeat([]byte{0x5B}, 64), MessageHeaderVersionV1)

	rs := &copyReadSet{memReadSet: newMemReadSet()}
	rs.add(record, id)

	infos, streams, err := collectScan(t, rs)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("emitted %d replacements, want 1", len(infos))
	}
	if int64(len(streams[0])) != int64(len(record)) {
		t.Errorf("replacement size %d, want %d", len(streams[0]), len(record))
	}

	// The key parsed through the copying read set must be the record's own.
	token, err := DeserializeHardDeleteRecoveryMetadata(infos[0].RecoveryMetadata, key.BlobIDFactory{})
	if err != nil {
		t.Fatalf("recovery metadata decode: %v", err)
	}
	if token.Key.Compare(id) != 0 {
		t.Errorf("recovery key %s, want %s", token.Key, id)
	}
}

func TestScanIdempotence(t *testing.T) {
	id := key.NewBlobID()
	record := buildPutRecord(t, id, []byte("metadata"), bytes.Repeat([]byte{0x3C}, 256), MessageHeaderVersionV2)

	rs := newMemReadSet()
	rs.add(record, id)

	firstInfos, first, err := collectScan(t, rs)
	if err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	secondInfos, second, err := collectScan(t, rs)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	if len(firstInfos) != 1 || len(secondInfos) != 1 {
		t.Fatalf("emitted %d and %d replacements, want 1 and 1", len(firstInfos), len(secondInfos))
	}
	if !bytes.Equal(first[0], second[0]) {
		t.Error("replacement streams differ between scans of the same read set")
	}
	if !bytes.Equal(firstInfos[0].RecoveryMetadata, secondInfos[0].RecoveryMetadata) {
		t.Error("recovery metadata differs between scans of the same read set")
	}
}

func TestScanSkipsCorruptRecordAndContinues(t *testing.T) {
	goodID, badID := key.NewBlobID(), key.NewBlobID()
	good := buildPutRecord(t, goodID, []byte("keep me sized"), []byte("good payload"), MessageHeaderVersionV1)
	bad := buildPutRecord(t, badID, []byte("other metadata"), []byte("bad payload"), MessageHeaderVersionV1)

	// Flip a payload byte below the header: checksum failure, DataCorrupt.
	bad[len(bad)-6] ^= 0x01

	rs := newMemReadSet()
	rs.add(bad, badID)
	rs.add(good, goodID)

	infos, streams, err := collectScan(t, rs)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("emitted %d replacements, want 1 (corrupt record skipped)", len(infos))
	}
	if infos[0].Index != 1 {
		t.Errorf("emitted index %d, want 1", infos[0].Index)
	}
	if int64(len(streams[0])) != int64(len(good)) {
		t.Errorf("replacement size %d, want %d", len(streams[0]), len(good))
	}
}

func TestScanKeyMismatchIsFatal(t *testing.T) {
	recordKey, indexKey := key.NewBlobID(), key.NewBlobID()
	record := buildPutRecord(t, recordKey, []byte("metadata"), []byte("payload"), MessageHeaderVersionV1)

	rs := newMemReadSet()
	rs.add(record, indexKey)

	infos, _, err := collectScan(t, rs)
	if len(infos) != 0 {
		t.Fatalf("emitted %d replacements, want 0", len(infos))
	}
	if !IsCode(err, StoreKeyMismatch) {
		t.Errorf("expected StoreKeyMismatch, got %v", err)
	}
}

func TestScanTombstoneIsUnsupported(t *testing.T) {
	id := key.NewBlobID()
	rs := newMemReadSet()
	rs.add(buildDeleteRecord(t, id), id)

	infos, _, err := collectScan(t, rs)
	if len(infos) != 0 {
		t.Fatalf("emitted %d replacements, want 0", len(infos))
	}
	if !IsCode(err, DeleteRecordUnsupported) {
		t.Errorf("expected DeleteRecordUnsupported, got %v", err)
	}
}

func TestScanUnknownHeaderVersionIsFatal(t *testing.T) {
	id := key.NewBlobID()
	record := buildPutRecord(t, id, []byte("metadata"), []byte("payload"), MessageHeaderVersionV1)
	record[0] = 0x63 // version 99

	rs := newMemReadSet()
	rs.add(record, id)

	_, _, err := collectScan(t, rs)
	if !IsCode(err, UnknownFormatVersion) {
		t.Errorf("expected UnknownFormatVersion, got %v", err)
	}
}

func TestScanHeaderCorruptionIsFatal(t *testing.T) {
	id := key.NewBlobID()
	record := buildPutRecord(t, id, []byte("metadata"), []byte("payload"), MessageHeaderVersionV1)
	record[5] ^= 0xFF // inside MessageSize, caught by the header crc

	rs := newMemReadSet()
	rs.add(record, id)

	_, _, err := collectScan(t, rs)
	if !IsCode(err, HeaderConstraintViolation) {
		t.Errorf("expected HeaderConstraintViolation, got %v", err)
	}
}

func TestScanRejectsOversizedRegionDeclaration(t *testing.T) {
	// A header can carry a valid CRC and still declare a message far larger
	// than the record holding it. The scan must reject the region instead of
	// sizing a buffer from the header's claim.
	id := key.NewBlobID()
	record := buildPutRecord(t, id, []byte("metadata"), []byte("payload"), MessageHeaderVersionV1)

	header, err := DecodeHeader(MessageHeaderVersionV1, record[:HeaderSizeV1])
	if err != nil {
		t.Fatalf("header decode: %v", err)
	}
	header.MessageSize = 1 << 41
	oversized, err := header.Encode()
	if err != nil {
		t.Fatalf("header encode: %v", err)
	}
	copy(record, oversized)

	rs := newMemReadSet()
	rs.add(record, id)

	infos, _, err := collectScan(t, rs)
	if len(infos) != 0 {
		t.Fatalf("emitted %d replacements, want 0", len(infos))
	}
	if err == nil {
		t.Fatal("expected the scan to fail on the oversized declared region")
	}
}

func TestScanIOErrorIsFatal(t *testing.T) {
	id := key.NewBlobID()
	record := buildPutRecord(t, id, []byte("metadata"), []byte("payload"), MessageHeaderVersionV1)

	rs := newMemReadSet()
	rs.add(record, id)
	rs.failAt = 0

	infos, _, err := collectScan(t, rs)
	if len(infos) != 0 {
		t.Fatalf("emitted %d replacements, want 0", len(infos))
	}
	if err != ioErr {
		t.Errorf("expected injected read failure to propagate unchanged, got %v", err)
	}
}

func TestScanRecoveryMetadataRoundTrip(t *testing.T) {
	id := key.NewBlobID()
	metadata := bytes.Repeat([]byte{0x01}, 50)
	payload := bytes.Repeat([]byte{0x02}, 1000)
	record := buildPutRecord(t, id, metadata, payload, MessageHeaderVersionV2)

	rs := newMemReadSet()
	rs.add(record, id)

	infos, _, err := collectScan(t, rs)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	token, err := DeserializeHardDeleteRecoveryMetadata(infos[0].RecoveryMetadata, key.BlobIDFactory{})
	if err != nil {
		t.Fatalf("recovery metadata decode: %v", err)
	}
	if token.Key.Compare(id) != 0 {
		t.Errorf("recovery key %s, want %s", token.Key, id)
	}
	if token.HeaderVersion != MessageHeaderVersionV2 {
		t.Errorf("recovery header version %d, want %d", token.HeaderVersion, MessageHeaderVersionV2)
	}
	if token.MetadataLen != 50 || token.PayloadLen != 1000 {
		t.Errorf("recovery lengths %d/%d, want 50/1000", token.MetadataLen, token.PayloadLen)
	}

	// A flipped token byte must not decode.
	bad := append([]byte(nil), infos[0].RecoveryMetadata...)
	bad[4] ^= 0x01
	if _, err := DeserializeHardDeleteRecoveryMetadata(bad, key.BlobIDFactory{}); !IsCode(err, DataCorrupt) {
		t.Errorf("expected DataCorrupt, got %v", err)
	}
}

func TestGetMessageInfoParsesRecords(t *testing.T) {
	id := key.NewBlobID()
	ttlProps := &BlobProperties{
		ContentSize: 5,
		TTLSeconds:  3600,
		CreatedAtMs: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		ServiceID:   "svc",
		OwnerID:     "owner",
		ContentType: "text/plain",
	}
	msg, err := NewPutMessage(id, ttlProps,
		bytes.NewReader([]byte("meta")), 4,
		bytes.NewReader([]byte("hello")), 5,
		MessageHeaderVersionV1)
	if err != nil {
		t.Fatalf("NewPutMessage failed: %v", err)
	}
	putBytes, _ := io.ReadAll(msg)

	delID := key.NewBlobID()
	delBytes := buildDeleteRecord(t, delID)

	// Lay both records out in one fake segment.
	segmentBytes := append(append([]byte(nil), putBytes...), delBytes...)
	reader := bytes.NewReader(segmentBytes)

	hd := NewBlobStoreHardDelete(nil, nil)

	putInfo, err := hd.GetMessageInfo(reader, 0, key.BlobIDFactory{})
	if err != nil {
		t.Fatalf("GetMessageInfo(put) failed: %v", err)
	}
	if putInfo.Key.Compare(id) != 0 {
		t.Errorf("put info key %s, want %s", putInfo.Key, id)
	}
	if putInfo.Size != int64(len(putBytes)) {
		t.Errorf("put info size %d, want %d", putInfo.Size, len(putBytes))
	}
	if putInfo.Deleted {
		t.Error("put record reported as deleted")
	}
	wantExpiry := time.UnixMilli(ttlProps.CreatedAtMs).Add(time.Hour)
	if !putInfo.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("put info expiry %v, want %v", putInfo.ExpiresAt, wantExpiry)
	}

	delInfo, err := hd.GetMessageInfo(reader, int64(len(putBytes)), key.BlobIDFactory{})
	if err != nil {
		t.Fatalf("GetMessageInfo(delete) failed: %v", err)
	}
	if !delInfo.Deleted {
		t.Error("delete record not reported as deleted")
	}
	if delInfo.Key.Compare(delID) != 0 {
		t.Errorf("delete info key %s, want %s", delInfo.Key, delID)
	}
	if delInfo.Size != int64(len(delBytes)) {
		t.Errorf("delete info size %d, want %d", delInfo.Size, len(delBytes))
	}
}

func TestGetMessageInfoUsesConfiguredSource(t *testing.T) {
	id := key.NewBlobID()
	source := store.NewBTreeMetadataSource()
	source.Put(1070, store.MessageInfo{Key: id, Size: 2048, Deleted: true})

	hd := NewBlobStoreHardDelete(source, nil)
	info, err := hd.GetMessageInfo(nil, 1070, key.BlobIDFactory{})
	if err != nil {
		t.Fatalf("GetMessageInfo failed: %v", err)
	}
	if info.Size != 2048 || !info.Deleted || info.Key.Compare(id) != 0 {
		t.Errorf("unexpected info %+v", info)
	}

	if _, err := hd.GetMessageInfo(nil, 9999, key.BlobIDFactory{}); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
