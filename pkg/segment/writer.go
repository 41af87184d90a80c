package segment

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/muninstore/munin/pkg/messageformat"
	"github.com/muninstore/munin/pkg/store"
)

// Writer appends records to a segment file.
type Writer struct {
	file   *os.File
	writer *bufio.Writer
	mutex  sync.Mutex
	offset int64
}

// NewWriter opens path for appending, creating it and its directory if
// needed.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Writer{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		offset: stat.Size(),
	}, nil
}

// WritePut appends a put record and returns its index entry.
func (w *Writer) WritePut(key store.StoreKey, props *messageformat.BlobProperties,
	metadata, payload []byte, headerVersion uint16) (IndexEntry, error) {
	msg, err := messageformat.NewPutMessage(key, props,
		bytes.NewReader(metadata), uint32(len(metadata)),
		bytes.NewReader(payload), uint64(len(payload)),
		headerVersion)
	if err != nil {
		return IndexEntry{}, err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	offset := w.offset
	n, err := io.Copy(w.writer, msg)
	if err != nil {
		return IndexEntry{}, fmt.Errorf("write put record: %w", err)
	}
	if n != msg.Size() {
		return IndexEntry{}, fmt.Errorf("write put record: wrote %d of %d bytes", n, msg.Size())
	}
	w.offset += n

	return IndexEntry{Offset: offset, Size: n, Key: key}, nil
}

// WriteTombstone appends a delete record and returns its index entry.
func (w *Writer) WriteTombstone(key store.StoreKey, headerVersion uint16) (IndexEntry, error) {
	buf, err := messageformat.SerializeDeleteMessage(key, headerVersion)
	if err != nil {
		return IndexEntry{}, err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	offset := w.offset
	if _, err := w.writer.Write(buf); err != nil {
		return IndexEntry{}, fmt.Errorf("write delete record: %w", err)
	}
	w.offset += int64(len(buf))

	return IndexEntry{Offset: offset, Size: int64(len(buf)), Key: key}, nil
}

// Offset returns the current append offset.
func (w *Writer) Offset() int64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.offset
}

// Sync flushes buffered records to stable storage.
func (w *Writer) Sync() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes and closes the writer.
func (w *Writer) Close() error {
	if err := w.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
