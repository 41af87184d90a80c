// Package messageformat defines the versioned binary record format of the
// Munin blob log and implements hard delete against it.
//
// # Record Format
//
// A record is a header, a store key, and one or more CRC-framed sub-records,
// laid out contiguously in a log segment:
//
//	put record:    [Header][Key][BlobProperties][UserMetadata][Blob]
//	delete record: [Header][Key][DeleteRecord]
//
// The header is self-describing: it starts with a 2-byte version
// discriminator, carries the total message size, and declares the relative
// byte offsets (from the record start) of each sub-record. V1 headers are
// 30 bytes:
//
//	[Version(2)][MessageSize(8)][PropsOffset(4)][DeleteOffset(4)]
//	[MetadataOffset(4)][PayloadOffset(4)][CRC32(4)]
//
// V2 appends a 2-byte life version before the CRC. An offset of -1 marks a
// region the record does not carry; a record without a properties region is
// a tombstone. All integers are little-endian and every CRC is crc32 IEEE
// over the bytes that precede it.
//
// # Hard Delete
//
// BlobStoreHardDelete permanently destroys the user metadata and payload of
// logically deleted records. For each candidate in a read set it parses and
// verifies the header, cross-checks the record's key against the key the
// index knows for that position, checksum-validates every region, and then
// synthesizes a put-shaped replacement: same key, same properties, metadata
// and payload zero-filled to their original lengths. The replacement's
// total size equals the original record's on-segment size exactly, so the
// caller can overwrite in place without shifting neighbouring records.
//
// Failures are classified, not uniform: a checksum failure below the header
// (DataCorrupt) skips that candidate and the scan continues, while header
// violations, unknown versions, key mismatches and tombstone candidates
// stop the scan. See ErrorCode.
//
// This package performs no writes. The destructive action is deferred to
// whatever consumes the replacement streams, normally the sweep driver in
// pkg/sweep.
package messageformat
