package tfrecord

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Writer emits framed records to a shard file and, when an index path is
// given, the matching DALI-style index file. Index files are usually
// produced by an external tool (tfrecord2idx); carrying a writer here lets
// tests and tooling build complete shards in one step.
type Writer struct {
	f   *os.File
	buf *bufio.Writer

	idx    *os.File
	idxBuf *bufio.Writer

	offset int64
	count  int
}

// Create creates a shard file and its index file. indexPath may be empty to
// skip index generation.
func Create(dataPath, indexPath string) (*Writer, error) {
	f, err := os.Create(dataPath)
	if err != nil {
		return nil, errors.Wrapf(err, "creating shard %s", dataPath)
	}
	w := &Writer{f: f, buf: bufio.NewWriter(f)}
	if indexPath != "" {
		idx, err := os.Create(indexPath)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "creating index %s", indexPath)
		}
		w.idx = idx
		w.idxBuf = bufio.NewWriter(idx)
	}
	return w, nil
}

// Write frames one payload and appends it to the shard, recording its span
// in the index file when one is being written.
func (w *Writer) Write(payload []byte) error {
	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(header[8:12], maskedCRC32C(header[0:8]))

	var footer [footerSize]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC32C(payload))

	if _, err := w.buf.Write(header[:]); err != nil {
		return errors.Wrap(err, "writing record header")
	}
	if _, err := w.buf.Write(payload); err != nil {
		return errors.Wrap(err, "writing record payload")
	}
	if _, err := w.buf.Write(footer[:]); err != nil {
		return errors.Wrap(err, "writing record footer")
	}

	frameSize := int64(headerSize + len(payload) + footerSize)
	if w.idxBuf != nil {
		if _, err := fmt.Fprintf(w.idxBuf, "%d %d\n", w.offset, frameSize); err != nil {
			return errors.Wrap(err, "writing index entry")
		}
	}
	w.offset += frameSize
	w.count++
	return nil
}

// WriteExample serializes an Example and writes it as one record.
func (w *Writer) WriteExample(ex Example) error {
	return w.Write(EncodeExample(ex))
}

// NumRecords returns the number of records written so far.
func (w *Writer) NumRecords() int {
	return w.count
}

// Close flushes and closes the shard and index files.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		return errors.Wrap(err, "flushing shard")
	}
	if err := w.f.Close(); err != nil {
		return errors.Wrap(err, "closing shard")
	}
	if w.idx != nil {
		if err := w.idxBuf.Flush(); err != nil {
			return errors.Wrap(err, "flushing index")
		}
		if err := w.idx.Close(); err != nil {
			return errors.Wrap(err, "closing index")
		}
	}
	return nil
}
