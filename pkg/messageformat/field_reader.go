package messageformat

import (
	"bytes"
	"fmt"

	"github.com/muninstore/munin/pkg/store"
)

// readRegion materializes length bytes of the record at index, starting at
// relativeOffset from the record start. The read set owns bounds checking;
// its I/O errors propagate unchanged. A short copy without an error is
// still an I/O failure here because every caller sizes its region from a
// verified header.
func readRegion(readSet store.MessageReadSet, index int, relativeOffset, length int64) ([]byte, error) {
	// Bound before allocating: a CRC-valid header can still declare region
	// sizes far beyond the record it sits in.
	if size := readSet.SizeAt(index); relativeOffset < 0 || length < 0 || relativeOffset+length > size {
		return nil, fmt.Errorf("region [%d, %d) outside record of size %d at index %d",
			relativeOffset, relativeOffset+length, size, index)
	}
	buf := bytes.NewBuffer(make([]byte, 0, length))
	n, err := readSet.WriteRegion(index, buf, relativeOffset, length)
	if err != nil {
		return nil, err
	}
	if n != length {
		return nil, fmt.Errorf("short region read at index %d offset %d: %d of %d bytes",
			index, relativeOffset, n, length)
	}
	return buf.Bytes(), nil
}
