// Package pipeline declares the fixed operator graph that turns sharded
// TFRecord shards into batches of decoded, augmented, normalized image
// tensors, and wraps the result as a gomlx train.Dataset with auto-resetting
// epoch semantics.
//
// The graph is declared once through a Config and compiled by Build; any
// configuration change requires building a new pipeline. Parallel batch
// production and prefetch buffering are owned by gomlx's datasets engine,
// this package starts no goroutines of its own.
package pipeline

import (
	"fmt"
)

// Default values applied by Config.withDefaults. They mirror the standard
// ImageNet training setup.
const (
	DefaultBatchSize = 128
	DefaultThreads   = 4
	DefaultResize    = 256
	DefaultCrop      = 224
	DefaultPrefetch  = 2
	DefaultSeed      = 1024
)

// Config holds the construction parameters of a pipeline. It is immutable
// once passed to Build; zero values are filled with sensible defaults at
// build time.
type Config struct {
	// Name is used for the loader's dataset name and log lines.
	Name string

	// BatchSize of the yielded image/label tensors.
	BatchSize int

	// Threads is the number of engine workers producing batches. Evaluation
	// pipelines always run with a single worker so that pass order stays
	// deterministic; the prefetch buffer still applies.
	Threads int

	// ShardID and NumShards statically partition the record set across
	// distributed worker processes. ShardID is in [0, NumShards).
	ShardID   int
	NumShards int

	// Resize is the square side images are resized to before the final
	// center crop to Crop. Crop must not exceed Resize.
	Resize int
	Crop   int

	// Prefetch is the number of batches the engine may buffer ahead of
	// consumption.
	Prefetch int

	// Training selects the augmenting branch (random crop, mirror,
	// rotation), per-epoch shuffling, and drop-last-batch semantics.
	// Evaluation reads sequentially and keeps the trailing partial batch.
	Training bool

	// GPUAug requests that decode and augmentation run on the accelerator.
	// OnDevice requests the output tensors be placed on the accelerator.
	// Both are recorded for the execution backend; see the package notes on
	// device placement.
	GPUAug   bool
	OnDevice bool

	// Seed for shuffling and augmentation randomness. Zero selects the
	// fixed default so runs are reproducible unless a seed is chosen.
	Seed int64
}

// withDefaults returns a copy of the config with zero values replaced by
// defaults.
func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Threads == 0 {
		c.Threads = DefaultThreads
	}
	if c.NumShards == 0 {
		c.NumShards = 1
	}
	if c.Resize == 0 {
		c.Resize = DefaultResize
	}
	if c.Crop == 0 {
		c.Crop = DefaultCrop
	}
	if c.Prefetch == 0 {
		c.Prefetch = DefaultPrefetch
	}
	if c.Seed == 0 {
		c.Seed = DefaultSeed
	}
	return c
}

// validate reports the first construction error of an already-defaulted
// config.
func (c Config) validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Threads < 1 {
		return fmt.Errorf("thread count must be positive, got %d", c.Threads)
	}
	if c.NumShards < 1 {
		return fmt.Errorf("shard count must be positive, got %d", c.NumShards)
	}
	if c.ShardID < 0 || c.ShardID >= c.NumShards {
		return fmt.Errorf("shard id %d out of range [0, %d)", c.ShardID, c.NumShards)
	}
	if c.Crop < 1 || c.Resize < 1 {
		return fmt.Errorf("resize (%d) and crop (%d) must be positive", c.Resize, c.Crop)
	}
	if c.Crop > c.Resize {
		return fmt.Errorf("crop %d exceeds resize %d", c.Crop, c.Resize)
	}
	if c.Prefetch < 1 {
		return fmt.Errorf("prefetch depth must be positive, got %d", c.Prefetch)
	}
	return nil
}
