package pipeline

import (
	"io"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// stubDataset yields a fixed number of two-sample batches per pass.
type stubDataset struct {
	batches int
	pos     int
	resets  int
}

func (s *stubDataset) Name() string { return "stub" }

func (s *stubDataset) Reset() {
	s.pos = 0
	s.resets++
}

func (s *stubDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if s.pos >= s.batches {
		return nil, nil, nil, io.EOF
	}
	s.pos++
	images := tensors.FromAnyValue([][]float32{{0}, {1}})
	batchLabels := tensors.FromAnyValue([]int32{int32(s.pos), int32(s.pos)})
	return nil, []*tensors.Tensor{images}, []*tensors.Tensor{batchLabels}, nil
}

// TestLoaderEpochCounting expects the loader to signal io.EOF exactly once
// per epoch, driven by the consumed-sample counter, and to start a fresh
// pass on the following pull.
func TestLoaderEpochCounting(t *testing.T) {
	stub := &stubDataset{batches: 3}
	loader := NewLoader("test", stub, 6)

	for i := range 3 {
		if _, _, _, err := loader.Yield(); err != nil {
			t.Fatalf("Yield %d failed: %v", i, err)
		}
	}
	if _, _, _, err := loader.Yield(); err != io.EOF {
		t.Fatalf("expected io.EOF at epoch end, got %v", err)
	}
	if stub.resets != 1 {
		t.Fatalf("expected 1 engine reset, got %d", stub.resets)
	}

	// The pull after the end-of-epoch signal yields the first batch again.
	_, _, labels, err := loader.Yield()
	if err != nil {
		t.Fatalf("pull after epoch end failed: %v", err)
	}
	if got := labels[0].Value().([]int32)[0]; got != 1 {
		t.Fatalf("new pass starts with batch %d, want 1", got)
	}
}

// TestLoaderUnbounded expects a negative epoch size to wrap at engine
// exhaustion without ever surfacing io.EOF.
func TestLoaderUnbounded(t *testing.T) {
	stub := &stubDataset{batches: 3}
	loader := NewLoader("stream", stub, -1)

	for i := range 10 {
		if _, _, _, err := loader.Yield(); err != nil {
			t.Fatalf("Yield %d failed: %v", i, err)
		}
	}
	if stub.resets < 3 {
		t.Fatalf("expected at least 3 wraps, got %d resets", stub.resets)
	}
}

// failingDataset yields an empty batch with a nil error, the way the
// parallel engine reports a worker's fatal failure.
type failingDataset struct{}

func (failingDataset) Name() string { return "failing" }
func (failingDataset) Reset()       {}
func (failingDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	return nil, nil, nil, nil
}

// TestLoaderEngineFailure expects an empty engine yield to surface as a
// fatal error instead of a panic on the missing label tensor.
func TestLoaderEngineFailure(t *testing.T) {
	loader := NewLoader("bad", failingDataset{}, 4)
	_, _, _, err := loader.Yield()
	if err == nil || err == io.EOF {
		t.Fatalf("expected fatal error from failed engine yield, got %v", err)
	}
}

// TestLoaderDoneRunsOnce checks the release hook runs exactly once however
// many times Done is called.
func TestLoaderDoneRunsOnce(t *testing.T) {
	loader := NewLoader("test", &stubDataset{batches: 1}, 2)
	calls := 0
	loader.done = func() { calls++ }

	loader.Done()
	loader.Done()
	if calls != 1 {
		t.Fatalf("Done ran the release hook %d times, want 1", calls)
	}
}

// TestLoaderExplicitReset checks that Reset rewinds mid-epoch.
func TestLoaderExplicitReset(t *testing.T) {
	stub := &stubDataset{batches: 3}
	loader := NewLoader("test", stub, 6)

	if _, _, _, err := loader.Yield(); err != nil {
		t.Fatalf("Yield failed: %v", err)
	}
	loader.Reset()

	count := 0
	for {
		_, _, _, err := loader.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Yield failed: %v", err)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("expected a full 3-batch epoch after Reset, got %d", count)
	}
}
