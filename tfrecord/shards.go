package tfrecord

import (
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ShardSet is an ordered collection of shard files discovered from a pair of
// glob patterns. Data and index files are matched by lexicographic sort
// order, so shard assignment stays consistent across worker processes that
// see the same directory layout.
type ShardSet struct {
	files []*File

	// cumCounts[i] is the number of records in shards [0, i); records are
	// addressed by a global index mapped through this table.
	cumCounts []int
	total     int
}

// Discover globs the data and index patterns, sorts both lists, pairs them
// by order and opens every shard. It fails fast on empty globs, on a count
// mismatch between data and index files, and on any unreadable shard.
func Discover(dataPattern, indexPattern string) (*ShardSet, error) {
	dataPaths, err := filepath.Glob(dataPattern)
	if err != nil {
		return nil, errors.Wrapf(err, "globbing %s", dataPattern)
	}
	if len(dataPaths) == 0 {
		return nil, errors.Errorf("no shard files found matching pattern: %s", dataPattern)
	}
	indexPaths, err := filepath.Glob(indexPattern)
	if err != nil {
		return nil, errors.Wrapf(err, "globbing %s", indexPattern)
	}
	if len(indexPaths) == 0 {
		return nil, errors.Errorf("no index files found matching pattern: %s", indexPattern)
	}
	if len(dataPaths) != len(indexPaths) {
		return nil, errors.Errorf("shard/index count mismatch: %d files match %s but %d match %s",
			len(dataPaths), dataPattern, len(indexPaths), indexPattern)
	}
	sort.Strings(dataPaths)
	sort.Strings(indexPaths)

	set := &ShardSet{
		files:     make([]*File, 0, len(dataPaths)),
		cumCounts: make([]int, 1, len(dataPaths)+1),
	}
	var totalBytes int64
	for i := range dataPaths {
		f, err := Open(dataPaths[i], indexPaths[i])
		if err != nil {
			set.Close()
			return nil, err
		}
		set.files = append(set.files, f)
		set.cumCounts = append(set.cumCounts, set.cumCounts[i]+f.NumRecords())
		totalBytes += f.Size()
	}
	set.total = set.cumCounts[len(set.files)]

	klog.V(1).Infof("discovered %d shards (%d records, %s) from %s",
		len(set.files), set.total, humanize.Bytes(uint64(totalBytes)), dataPattern)
	return set, nil
}

// NumShards returns the number of shard files in the set.
func (s *ShardSet) NumShards() int {
	return len(s.files)
}

// NumRecords returns the total record count across all shards.
func (s *ShardSet) NumRecords() int {
	return s.total
}

// Files returns the opened shard files in sorted order.
func (s *ShardSet) Files() []*File {
	return s.files
}

// Record reads the record with the given global index, mapping it to the
// owning shard through the cumulative counts.
func (s *ShardSet) Record(i int) ([]byte, error) {
	if i < 0 || i >= s.total {
		return nil, errors.Errorf("record %d out of range [0, %d)", i, s.total)
	}
	// The shard list is small; a linear scan over cumCounts is fine.
	for fileIdx := range s.files {
		if i < s.cumCounts[fileIdx+1] {
			return s.files[fileIdx].Record(i - s.cumCounts[fileIdx])
		}
	}
	return nil, errors.Errorf("record %d not covered by cumulative counts", i)
}

// Example reads and parses the tf.Example at the given global index.
func (s *ShardSet) Example(i int) (Example, error) {
	payload, err := s.Record(i)
	if err != nil {
		return Example{}, err
	}
	return ParseExample(payload)
}

// Close closes all shard files. The first error encountered is returned.
func (s *ShardSet) Close() error {
	var first error
	for _, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
