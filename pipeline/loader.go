package pipeline

import (
	"fmt"
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// Loader adapts a built pipeline into a pull-based batch source with epoch
// semantics. It implements train.Dataset: Yield returns io.EOF exactly once
// per epoch and rewinds automatically, so the pull after an end-of-epoch
// yields the first batch of a fresh pass without an explicit Reset.
//
// A negative epoch size marks an unbounded source: the loader then wraps
// seamlessly at engine exhaustion and never reports io.EOF. Loader is meant
// for a single consumer, the usual training-loop arrangement. Loaders
// produced by Build own their engine and shard set; call Done when finished
// to stop the worker goroutines and release the shard files.
type Loader struct {
	name   string
	engine train.Dataset
	size   int
	count  int
	done   func()
}

// NewLoader wraps an engine dataset with epoch accounting. epochSize is the
// declared number of samples per epoch; negative means unbounded.
func NewLoader(name string, engine train.Dataset, epochSize int) *Loader {
	return &Loader{name: name, engine: engine, size: epochSize}
}

// Name implements train.Dataset.
func (l *Loader) Name() string {
	return l.name
}

// EpochSize returns the declared number of samples per epoch; negative
// means unbounded.
func (l *Loader) EpochSize() int {
	return l.size
}

// Reset implements train.Dataset, rewinding the engine and the consumed
// sample counter.
func (l *Loader) Reset() {
	l.engine.Reset()
	l.count = 0
}

// Yield implements train.Dataset.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if l.size >= 0 && l.count >= l.size {
		// Epoch exhausted on the previous pull: signal end-of-epoch once
		// and rewind so the next pull starts a fresh pass.
		l.Reset()
		return nil, nil, nil, io.EOF
	}

	spec, inputs, labels, err = l.engine.Yield()
	if err == io.EOF {
		l.Reset()
		if l.size >= 0 {
			return nil, nil, nil, io.EOF
		}
		// Unbounded: wrap without surfacing the engine's exhaustion.
		spec, inputs, labels, err = l.engine.Yield()
	}
	if err != nil {
		return nil, nil, nil, err
	}
	if len(inputs) == 0 || len(labels) == 0 {
		// The engine reports a worker's fatal read or decode failure as an
		// empty yield; surface it as the fatal error it is.
		return nil, nil, nil, fmt.Errorf("dataset %s: engine worker failed while producing a batch", l.name)
	}
	l.count += labels[0].Shape().Dimensions[0]
	return spec, inputs, labels, nil
}

// Done releases the loader: it stops the engine's worker goroutines and,
// when the loader owns its shard set, closes it. The loader must not be
// used afterwards.
func (l *Loader) Done() {
	if l.done != nil {
		l.done()
		l.done = nil
	}
}

// Next pulls one batch and unpacks the pair: the image tensor shaped
// [batch, 3, crop, crop] and the label tensor shaped [batch] (the trailing
// singleton dimension of the raw label feature is already collapsed).
// io.EOF marks the end of an epoch; the following call yields again.
func (l *Loader) Next() (images, labels *tensors.Tensor, err error) {
	_, inputs, labelList, err := l.Yield()
	if err != nil {
		return nil, nil, err
	}
	return inputs[0], labelList[0], nil
}
