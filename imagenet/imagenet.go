// Package imagenet builds the standard train/test loader pair from an
// ImageNet-style directory of TFRecord shards:
//
//	root/train/*              training shards
//	root/validation/*         evaluation shards
//	root/idx_files/train/*    paired index files
//	root/idx_files/validation/*
//
// Data and index files pair by lexicographic sort order. Globbing and
// sorting happen once at construction; nothing is written to the
// filesystem.
package imagenet

import (
	"fmt"
	"path/filepath"

	"github.com/Noofbiz/imagefeed/pipeline"
	"github.com/Noofbiz/imagefeed/tfrecord"
)

// Keys of the dataset namespace.
const (
	Train = "train"
	Test  = "test"
)

// Options configures both loaders. Zero values take the pipeline defaults.
type Options struct {
	ShardID   int
	NumShards int
	BatchSize int
	Threads   int
	Prefetch  int
	Resize    int
	Crop      int
	GPUAug    bool
	OnDevice  bool
	Seed      int64
}

// Dataset maps the namespace keys "train" and "test" to independently
// iterable loaders. The two entries share no state: each owns its shard
// set, engine and read cursor.
type Dataset map[string]*pipeline.Loader

// Done releases every loader in the namespace, stopping their engine
// workers and closing their shard sets.
func (d Dataset) Done() {
	for _, loader := range d {
		loader.Done()
	}
}

// New discovers the shard layout under root and builds the two pipelines.
// Any layout problem (missing directory, empty glob, shard/index count
// mismatch) fails here with a descriptive error rather than surfacing later
// from the engine.
func New(root string, opts Options) (Dataset, error) {
	train, err := build(root, "train", pipeline.Config{
		Name:      "imagenet-train",
		BatchSize: opts.BatchSize,
		Threads:   opts.Threads,
		ShardID:   opts.ShardID,
		NumShards: opts.NumShards,
		Resize:    opts.Resize,
		Crop:      opts.Crop,
		Prefetch:  opts.Prefetch,
		Training:  true,
		GPUAug:    opts.GPUAug,
		OnDevice:  opts.OnDevice,
		Seed:      opts.Seed,
	})
	if err != nil {
		return nil, err
	}
	test, err := build(root, "validation", pipeline.Config{
		Name:      "imagenet-test",
		BatchSize: opts.BatchSize,
		Threads:   opts.Threads,
		ShardID:   opts.ShardID,
		NumShards: opts.NumShards,
		Resize:    opts.Resize,
		Crop:      opts.Crop,
		Prefetch:  opts.Prefetch,
		Training:  false,
		GPUAug:    opts.GPUAug,
		OnDevice:  opts.OnDevice,
		Seed:      opts.Seed,
	})
	if err != nil {
		train.Done()
		return nil, err
	}
	return Dataset{Train: train, Test: test}, nil
}

// build discovers one split's shards and compiles its pipeline.
func build(root, split string, cfg pipeline.Config) (*pipeline.Loader, error) {
	dataPattern := filepath.Join(root, split, "*")
	indexPattern := filepath.Join(root, "idx_files", split, "*")
	shards, err := tfrecord.Discover(dataPattern, indexPattern)
	if err != nil {
		return nil, fmt.Errorf("discovering %s split: %w", split, err)
	}
	loader, err := pipeline.Build(cfg, shards)
	if err != nil {
		shards.Close()
		return nil, fmt.Errorf("building %s pipeline: %w", split, err)
	}
	return loader, nil
}
