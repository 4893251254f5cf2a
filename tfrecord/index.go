package tfrecord

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReadIndex parses a DALI-style index file: one text line per record,
// "<offset> <size>", where size covers the whole frame. The spans are
// required to be non-empty, in ascending offset order and non-overlapping.
func ReadIndex(path string) ([]Span, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening index %s", path)
	}
	defer f.Close()

	var spans []Span
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, errors.Errorf("index %s line %d: expected \"offset size\", got %q", path, line, text)
		}
		offset, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "index %s line %d: bad offset", path, line)
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "index %s line %d: bad size", path, line)
		}
		if size <= 0 {
			return nil, errors.Errorf("index %s line %d: non-positive record size %d", path, line, size)
		}
		if n := len(spans); n > 0 && offset < spans[n-1].Offset+spans[n-1].Size {
			return nil, errors.Errorf("index %s line %d: offset %d overlaps previous record", path, line, offset)
		}
		spans = append(spans, Span{Offset: offset, Size: size})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading index %s", path)
	}
	if len(spans) == 0 {
		return nil, errors.Errorf("index %s contains no records", path)
	}
	return spans, nil
}
