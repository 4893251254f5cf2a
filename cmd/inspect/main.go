// Command inspect summarizes a set of TFRecord shards: per-shard record
// counts and sizes, the raw label range, and an optional label histogram
// rendered to PNG.
//
// Usage:
//
//	inspect -root /data/imagenet -split train -histogram labels.png
//	inspect -data '/data/train/*' -index '/data/idx_files/train/*'
package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/imagefeed/tfrecord"
)

var (
	rootDir     = flag.String("root", "", "dataset root containing <split>/ and idx_files/<split>/")
	split       = flag.String("split", "train", "split name under the root (train or validation)")
	dataPattern = flag.String("data", "", "glob for shard data files (overrides -root)")
	idxPattern  = flag.String("index", "", "glob for shard index files (overrides -root)")
	histogram   = flag.String("histogram", "", "write a label histogram PNG to this path")
	maxRecords  = flag.Int("max-records", 0, "limit of records scanned for labels (0 = all)")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	data, index := *dataPattern, *idxPattern
	if data == "" || index == "" {
		if *rootDir == "" {
			log.Fatal("either -root or both -data and -index are required")
		}
		data = filepath.Join(*rootDir, *split, "*")
		index = filepath.Join(*rootDir, "idx_files", *split, "*")
	}

	shards, err := tfrecord.Discover(data, index)
	if err != nil {
		log.Fatalf("discovering shards: %v", err)
	}
	defer shards.Close()

	var totalBytes int64
	for _, f := range shards.Files() {
		fmt.Printf("%-60s %8d records %10s\n", f.Path(), f.NumRecords(), humanize.Bytes(uint64(f.Size())))
		totalBytes += f.Size()
	}
	fmt.Printf("total: %d shards, %d records, %s\n", shards.NumShards(), shards.NumRecords(), humanize.Bytes(uint64(totalBytes)))

	labels, err := scanLabels(shards, *maxRecords)
	if err != nil {
		log.Fatalf("scanning labels: %v", err)
	}
	lo, hi := labels[0], labels[0]
	for _, l := range labels {
		lo, hi = min(lo, l), max(hi, l)
	}
	fmt.Printf("labels: %d scanned, raw range [%d, %d]\n", len(labels), lo, hi)

	if *histogram != "" {
		if err := plotHistogram(labels, *histogram); err != nil {
			log.Fatalf("plotting histogram: %v", err)
		}
		fmt.Printf("wrote %s\n", *histogram)
	}
}

func scanLabels(shards *tfrecord.ShardSet, limit int) ([]int64, error) {
	n := shards.NumRecords()
	if limit > 0 && limit < n {
		n = limit
	}
	labels := make([]int64, 0, n)
	for i := range n {
		ex, err := shards.Example(i)
		if err != nil {
			return nil, err
		}
		labels = append(labels, ex.Label)
	}
	return labels, nil
}

func plotHistogram(labels []int64, path string) error {
	values := make(plotter.Values, len(labels))
	for i, l := range labels {
		values[i] = float64(l)
	}

	p := plot.New()
	p.Title.Text = "Raw label distribution"
	p.X.Label.Text = "label"
	p.Y.Label.Text = "count"

	bins := 50
	if len(labels) < bins {
		bins = len(labels)
	}
	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return err
	}
	p.Add(h)

	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}
