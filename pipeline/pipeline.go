package pipeline

import (
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/imagefeed/tfrecord"
)

// Pipeline is the compiled operator graph over one shard of a record set.
// It implements train.Dataset, yielding one assembled batch per call; batch
// production is parallelized by the engine wrapper installed in Build, so
// Yield is safe for concurrent callers.
type Pipeline struct {
	cfg    Config
	shards *tfrecord.ShardSet

	// Contiguous block of global record indices owned by this worker,
	// derived from ShardID/NumShards.
	begin, end int

	mu    sync.Mutex
	order []int
	pos   int
	rng   *rand.Rand
}

func newPipeline(cfg Config, shards *tfrecord.ShardSet) (*Pipeline, error) {
	total := shards.NumRecords()
	begin := cfg.ShardID * total / cfg.NumShards
	end := (cfg.ShardID + 1) * total / cfg.NumShards
	if end <= begin {
		return nil, fmt.Errorf("shard %d of %d owns no records (%d total)", cfg.ShardID, cfg.NumShards, total)
	}

	p := &Pipeline{
		cfg:    cfg,
		shards: shards,
		begin:  begin,
		end:    end,
		order:  make([]int, end-begin),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	for i := range p.order {
		p.order[i] = begin + i
	}
	if cfg.Training {
		p.shuffleLocked()
	}
	return p, nil
}

// shuffleLocked permutes the read order. Index files give random access, so
// the whole shard block is permuted each epoch rather than shuffling
// through a bounded reservoir.
func (p *Pipeline) shuffleLocked() {
	p.rng.Shuffle(len(p.order), func(i, j int) {
		p.order[i], p.order[j] = p.order[j], p.order[i]
	})
}

// NumSamples returns the number of records in this pipeline's shard block.
func (p *Pipeline) NumSamples() int {
	return p.end - p.begin
}

// SamplesPerEpoch returns the number of samples one epoch yields: the full
// block for evaluation, the block truncated to whole batches for training.
func (p *Pipeline) SamplesPerEpoch() int {
	n := p.NumSamples()
	if p.cfg.Training {
		return n - n%p.cfg.BatchSize
	}
	return n
}

// Name implements train.Dataset.
func (p *Pipeline) Name() string {
	if p.cfg.Name != "" {
		return p.cfg.Name
	}
	return "pipeline"
}

// Reset implements train.Dataset: it rewinds the read position and, when
// training, reshuffles the block for the new epoch.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = 0
	if p.cfg.Training {
		p.shuffleLocked()
	}
}

// Yield implements train.Dataset. It claims the next run of record indices
// under the lock and assembles the batch outside it. End of epoch is
// io.EOF; a trailing run shorter than the batch size is dropped when
// training and yielded as a partial batch otherwise.
func (p *Pipeline) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	p.mu.Lock()
	remaining := len(p.order) - p.pos
	n := p.cfg.BatchSize
	if remaining < n {
		if p.cfg.Training || remaining == 0 {
			p.mu.Unlock()
			return nil, nil, nil, io.EOF
		}
		n = remaining
	}
	batch := make([]int, n)
	copy(batch, p.order[p.pos:p.pos+n])
	p.pos += n
	var seed int64
	if p.cfg.Training {
		seed = p.rng.Int63()
	}
	p.mu.Unlock()

	return p.assemble(batch, seed)
}

// assemble reads, decodes and transforms the records of one batch and packs
// them into an image tensor [n, 3, crop, crop] and a label tensor [n].
func (p *Pipeline) assemble(indices []int, seed int64) (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	crop := p.cfg.Crop
	plane := 3 * crop * crop
	flat := make([]float32, len(indices)*plane)
	labelValues := make([]int32, len(indices))

	var rng *rand.Rand
	if p.cfg.Training {
		rng = rand.New(rand.NewSource(seed))
	}

	for i, idx := range indices {
		ex, err := p.shards.Example(idx)
		if err != nil {
			return nil, nil, nil, err
		}
		out := flat[i*plane : (i+1)*plane]
		if p.cfg.Training {
			err = p.augmentTrain(ex.Encoded, rng, out)
		} else {
			err = p.transformEval(ex.Encoded, out)
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("decoding record %d: %w", idx, err)
		}
		// Shift the raw 1-indexed label into the 0-indexed class space.
		labelValues[i] = int32(ex.Label) - 1
	}

	images := imageTensor(flat, len(indices), crop)
	return nil, []*tensors.Tensor{images}, []*tensors.Tensor{tensors.FromAnyValue(labelValues)}, nil
}

// imageTensor reshapes the flat CHW buffer into nested slices for
// tensors.FromAnyValue, producing shape [batch, 3, crop, crop].
func imageTensor(flat []float32, batch, crop int) *tensors.Tensor {
	data := make([][][][]float32, batch)
	for b := range batch {
		channels := make([][][]float32, 3)
		for c := range 3 {
			rows := make([][]float32, crop)
			for y := range crop {
				off := ((b*3+c)*crop + y) * crop
				rows[y] = flat[off : off+crop]
			}
			channels[c] = rows
		}
		data[b] = channels
	}
	return tensors.FromAnyValue(data)
}

// Build compiles the pipeline for the given shard set and wraps it in the
// parallel prefetching engine. The returned Loader is the only handle: the
// graph cannot be reconfigured afterwards, and the loader takes ownership
// of the shard set, which is closed by Loader.Done together with the
// engine's workers.
func Build(cfg Config, shards *tfrecord.ShardSet) (*Loader, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p, err := newPipeline(cfg, shards)
	if err != nil {
		return nil, err
	}

	// Evaluation keeps a single worker so two passes over the same shard
	// are identical batch for batch.
	workers := cfg.Threads
	if !cfg.Training {
		workers = 1
	}
	engine := datasets.CustomParallel(p).Parallelism(workers).Buffer(cfg.Prefetch).Start()

	klog.V(1).Infof("built pipeline %s: %d samples/epoch (shard %d/%d), batch %d, %d workers, prefetch %d, gpu_aug=%v, on_device=%v",
		p.Name(), p.SamplesPerEpoch(), cfg.ShardID, cfg.NumShards, cfg.BatchSize, workers, cfg.Prefetch, cfg.GPUAug, cfg.OnDevice)
	loader := NewLoader(p.Name(), engine, p.SamplesPerEpoch())
	loader.done = func() {
		engine.Done()
		shards.Close()
	}
	return loader, nil
}
