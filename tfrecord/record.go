// Package tfrecord reads and writes TFRecord shard files together with the
// text index files that allow random access into them.
//
// A TFRecord file is a sequence of framed records:
//
//	uint64 length  (little endian)
//	uint32 masked crc32c of the length bytes
//	byte   payload[length]
//	uint32 masked crc32c of the payload
//
// The payload of each record is a serialized tf.Example protobuf carrying an
// encoded image and its class label; see example.go for the schema handled
// here.
package tfrecord

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/pkg/errors"
)

const (
	headerSize = 12 // length + masked crc of length
	footerSize = 4  // masked crc of payload

	crcMaskDelta = 0xa282ead8
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC32C computes the masked Castagnoli checksum used by the TFRecord
// framing format.
func maskedCRC32C(data []byte) uint32 {
	c := crc32.Checksum(data, castagnoli)
	return ((c >> 15) | (c << 17)) + crcMaskDelta
}

// Span locates one framed record inside a shard file. Size covers the full
// frame, header and footer included.
type Span struct {
	Offset int64
	Size   int64
}

// File is an open shard file paired with its parsed index. Records are read
// by position using the index spans, so no sequential scan is ever needed.
// File is safe for concurrent Record calls: reads go through ReadAt.
type File struct {
	dataPath  string
	indexPath string
	f         *os.File
	spans     []Span
}

// Open opens a shard data file and parses its paired index file. It fails
// fast on an unreadable or empty index, or on index spans that fall outside
// the data file.
func Open(dataPath, indexPath string) (*File, error) {
	spans, err := ReadIndex(indexPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening shard %s", dataPath)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", dataPath)
	}
	last := spans[len(spans)-1]
	if last.Offset+last.Size > info.Size() {
		f.Close()
		return nil, errors.Errorf("index %s does not match shard %s: last record ends at %d but file has %d bytes",
			indexPath, dataPath, last.Offset+last.Size, info.Size())
	}

	return &File{
		dataPath:  dataPath,
		indexPath: indexPath,
		f:         f,
		spans:     spans,
	}, nil
}

// NumRecords returns the number of records in the shard.
func (f *File) NumRecords() int {
	return len(f.spans)
}

// Path returns the path of the underlying data file.
func (f *File) Path() string {
	return f.dataPath
}

// Size returns the total byte size covered by the shard's records.
func (f *File) Size() int64 {
	var n int64
	for _, s := range f.spans {
		n += s.Size
	}
	return n
}

// Record reads record i, verifies both frame checksums and returns the
// payload bytes. Corrupt frames are fatal errors, there is no retry at this
// layer.
func (f *File) Record(i int) ([]byte, error) {
	if i < 0 || i >= len(f.spans) {
		return nil, errors.Errorf("record %d out of range [0, %d) in %s", i, len(f.spans), f.dataPath)
	}
	span := f.spans[i]
	if span.Size < headerSize+footerSize {
		return nil, errors.Errorf("record %d in %s: frame of %d bytes is too small", i, f.dataPath, span.Size)
	}

	buf := make([]byte, span.Size)
	if _, err := f.f.ReadAt(buf, span.Offset); err != nil {
		return nil, errors.Wrapf(err, "reading record %d from %s", i, f.dataPath)
	}

	length := binary.LittleEndian.Uint64(buf[0:8])
	if int64(length) != span.Size-headerSize-footerSize {
		return nil, errors.Errorf("record %d in %s: frame declares %d payload bytes, index span allows %d",
			i, f.dataPath, length, span.Size-headerSize-footerSize)
	}
	if got, want := binary.LittleEndian.Uint32(buf[8:12]), maskedCRC32C(buf[0:8]); got != want {
		return nil, errors.Errorf("record %d in %s: length checksum mismatch", i, f.dataPath)
	}
	payload := buf[headerSize : headerSize+int64(length)]
	if got, want := binary.LittleEndian.Uint32(buf[span.Size-footerSize:]), maskedCRC32C(payload); got != want {
		return nil, errors.Errorf("record %d in %s: payload checksum mismatch", i, f.dataPath)
	}
	return payload, nil
}

// Close closes the underlying data file.
func (f *File) Close() error {
	return f.f.Close()
}
