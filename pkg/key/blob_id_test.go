package key

import (
	"bytes"
	"io"
	"testing"
)

func TestBlobIDWireRoundTrip(t *testing.T) {
	id := NewBlobID()
	wire := id.Bytes()
	if len(wire) != 22 {
		t.Fatalf("wire form is %d bytes, want 22", len(wire))
	}

	parsed, err := BlobIDFactory{}.ParseKey(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if parsed.Compare(id) != 0 {
		t.Errorf("parsed key %s, want %s", parsed, id)
	}
	if !bytes.Equal(parsed.Bytes(), wire) {
		t.Error("wire form changed across round trip")
	}
}

func TestBlobIDStringRoundTrip(t *testing.T) {
	id := NewBlobID()
	parsed, err := ParseBlobID(id.String())
	if err != nil {
		t.Fatalf("ParseBlobID failed: %v", err)
	}
	if parsed.Compare(id) != 0 {
		t.Errorf("parsed %s, want %s", parsed, id)
	}

	if _, err := ParseBlobID("not a ksuid"); err == nil {
		t.Error("expected error for malformed id string")
	}
}

func TestBlobIDFactoryRejectsBadInput(t *testing.T) {
	t.Run("truncated stream", func(t *testing.T) {
		if _, err := (BlobIDFactory{}).ParseKey(bytes.NewReader([]byte{20})); err == nil {
			t.Error("expected error for truncated length prefix")
		}
	})

	t.Run("wrong declared length", func(t *testing.T) {
		wire := NewBlobID().Bytes()
		wire[0] = 19
		if _, err := (BlobIDFactory{}).ParseKey(bytes.NewReader(wire)); err == nil {
			t.Error("expected error for wrong key length")
		}
	})

	t.Run("short body", func(t *testing.T) {
		wire := NewBlobID().Bytes()
		if _, err := (BlobIDFactory{}).ParseKey(bytes.NewReader(wire[:10])); err == nil {
			t.Error("expected error for short key body")
		}
	})
}

func TestBlobIDOrdering(t *testing.T) {
	a, b := NewBlobID(), NewBlobID()
	if a.Compare(a) != 0 {
		t.Error("key does not compare equal to itself")
	}
	if a.Compare(b) == 0 {
		t.Error("distinct keys compare equal")
	}
	if a.Compare(b) != -b.Compare(a) {
		t.Error("comparison is not antisymmetric")
	}
}

func TestBlobIDFactoryLeavesTrailingBytes(t *testing.T) {
	// The key parser must consume exactly its own wire form so record
	// parsing can continue right after the key.
	wire := NewBlobID().Bytes()
	r := bytes.NewReader(append(append([]byte(nil), wire...), 0xAA, 0xBB))
	if _, err := (BlobIDFactory{}).ParseKey(r); err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	rest, _ := io.ReadAll(r)
	if !bytes.Equal(rest, []byte{0xAA, 0xBB}) {
		t.Errorf("parser consumed trailing bytes, %v left", rest)
	}
}
