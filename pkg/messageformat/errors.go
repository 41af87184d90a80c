package messageformat

import (
	"errors"
	"fmt"
)

// ErrorCode classifies message format failures. The scan in hard_delete.go
// keys its skip-versus-fail decision off this code, so callers that need to
// distinguish a corrupt record from a format bug should errors.As into
// *Error and switch on Code.
type ErrorCode int

const (
	// DataCorrupt means an embedded checksum below the header failed. The
	// record was already unreadable through normal read paths.
	DataCorrupt ErrorCode = iota

	// HeaderConstraintViolation means the header failed its own
	// self-consistency check: bad CRC, non-increasing region offsets, or
	// offsets outside the message bounds.
	HeaderConstraintViolation

	// UnknownFormatVersion means the record's version discriminator is not
	// one of the known header schemas.
	UnknownFormatVersion

	// StoreKeyMismatch means the key read from the record disagrees with
	// the key the read set knows for the same position.
	StoreKeyMismatch

	// DeleteRecordUnsupported means the operation was invoked on a
	// delete-type (tombstone) record that carries no payload to act on.
	DeleteRecordUnsupported
)

func (c ErrorCode) String() string {
	switch c {
	case DataCorrupt:
		return "data_corrupt"
	case HeaderConstraintViolation:
		return "header_constraint_violation"
	case UnknownFormatVersion:
		return "unknown_format_version"
	case StoreKeyMismatch:
		return "store_key_mismatch"
	case DeleteRecordUnsupported:
		return "delete_record_unsupported"
	default:
		return "unknown"
	}
}

// Error is a message format error with a classification code.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("messageformat: %s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is, or wraps, a message format *Error
// carrying code.
func IsCode(err error, code ErrorCode) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == code
}
