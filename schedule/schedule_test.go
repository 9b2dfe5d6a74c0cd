// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package schedule

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bastionpass/bastion/capability"
	"github.com/bastionpass/bastion/errors"
	"github.com/bastionpass/bastion/label"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testCapability() capability.Capability {
	return capability.Capability{MaxMemoryMb: 8, ConcurrentWorkers: true}
}

// testSpec uses a 1 MB stretch so a full batch stays fast.
func testSpec(count int) Spec {
	nonce := label.Nonce{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}
	return Spec{
		SeedType: label.Phrase,
		CardID:   "vault-7",
		Base:     90,
		Nonce:    &nonce,
		Params:   label.Params{Time: 1, MemoryMb: 1, Parallelism: 1},
		Count:    count,
	}
}

func TestWorkers(t *testing.T) {
	s := New(testCapability(), Options{Workers: 16, MemoryBudgetMb: 400})
	// 400 MB over a 96 MB footprint allows four workers.
	assert.Equal(t, 4, s.Workers(64))
	// An ample budget is still bounded by the hard cap.
	s = New(testCapability(), Options{Workers: 16, MemoryBudgetMb: 1 << 20})
	assert.Equal(t, HardCap, s.Workers(64))
	// A budget below one footprint forces sequential processing.
	s = New(testCapability(), Options{Workers: 16, MemoryBudgetMb: 16})
	assert.Equal(t, 0, s.Workers(64))
	// So does an environment without concurrent workers.
	s = New(capability.Capability{MaxMemoryMb: 512}, Options{Workers: 16, MemoryBudgetMb: 1 << 20})
	assert.Equal(t, 0, s.Workers(64))
}

func TestBatch(t *testing.T) {
	s := New(testCapability(), Options{Workers: 4, MemoryBudgetMb: 512})
	result, err := s.Batch(context.Background(), []byte("correct horse battery staple"), testSpec(20))
	require.NoError(t, err)
	assert.Empty(t, result.Errs)
	require.Len(t, result.Records, 20)
	seen := make(map[string]bool)
	for i, rec := range result.Records {
		// Records arrive in job order regardless of dispatch order.
		assert.Equal(t, label.MustCoordAt(i), rec.CardIndex)
		assert.False(t, seen[rec.ID], "duplicate record %s", rec.ID)
		seen[rec.ID] = true
	}
	for _, st := range s.States() {
		assert.Equal(t, Complete, st)
	}
}

func TestBatchDeterministic(t *testing.T) {
	s := New(testCapability(), Options{Workers: 4, MemoryBudgetMb: 512})
	seed := []byte("correct horse battery staple")
	a, err := s.Batch(context.Background(), seed, testSpec(10))
	require.NoError(t, err)
	b, err := s.Batch(context.Background(), seed, testSpec(10))
	require.NoError(t, err)
	require.Len(t, b.Records, len(a.Records))
	for i := range a.Records {
		assert.Equal(t, a.Records[i].Digest, b.Records[i].Digest)
		assert.Equal(t, a.Records[i].Matrix, b.Records[i].Matrix)
	}
}

func TestBatchSequential(t *testing.T) {
	s := New(capability.Capability{MaxMemoryMb: 8}, Options{MemoryBudgetMb: 64})
	result, err := s.Batch(context.Background(), []byte("seed"), testSpec(5))
	require.NoError(t, err)
	assert.Empty(t, result.Errs)
	assert.Len(t, result.Records, 5)
}

func TestBatchBroken(t *testing.T) {
	s := New(capability.Capability{Broken: true}, Options{})
	_, err := s.Batch(context.Background(), []byte("seed"), testSpec(1))
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Unavailable, err))
}

func TestBatchCountOutOfRange(t *testing.T) {
	s := New(testCapability(), Options{Workers: 2, MemoryBudgetMb: 512})
	_, err := s.Batch(context.Background(), []byte("seed"), testSpec(BatchSize+1))
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestBatchPerJobFailure(t *testing.T) {
	// A grant below every ladder tier fails each job individually; the
	// batch still runs to completion, reports them all, and surfaces
	// the first hard failure as its own error since nothing succeeded.
	s := New(capability.Capability{MaxMemoryMb: 4, ConcurrentWorkers: true},
		Options{Workers: 4, MemoryBudgetMb: 512})
	spec := testSpec(10)
	spec.Params.MemoryMb = 64
	result, err := s.Batch(context.Background(), []byte("seed"), spec)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Broken, err), "got %v", err)
	assert.Empty(t, result.Records)
	assert.Len(t, result.Errs, 10)
	for _, jobErr := range result.Errs {
		assert.True(t, errors.Is(errors.Broken, jobErr))
	}
	for _, st := range s.States() {
		assert.Equal(t, Error, st)
	}
}

// cancelAfter cancels the scheduler once n jobs have completed.
type cancelAfter struct {
	s *Scheduler
	n int

	mu   sync.Mutex
	done int
}

func (c *cancelAfter) Init(int)  {}
func (c *cancelAfter) Complete() {}
func (c *cancelAfter) Begin(int) {}
func (c *cancelAfter) End(i int, st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st == Complete {
		c.done++
		if c.done == c.n {
			c.s.Cancel()
		}
	}
}

func TestBatchCancel(t *testing.T) {
	s := New(testCapability(), Options{Workers: 2, MemoryBudgetMb: 512})
	s.opts.Reporter = &cancelAfter{s: s, n: 3}
	result, err := s.Batch(context.Background(), []byte("seed"), testSpec(50))
	require.NoError(t, err)
	assert.Empty(t, result.Errs, "cancelled jobs must not count as failures")
	assert.NotEmpty(t, result.Records)
	assert.Less(t, len(result.Records), 50)

	// Only Complete jobs may surface, each at most once, and the
	// state table must agree with the returned records.
	states := s.States()
	complete := 0
	for _, st := range states {
		switch st {
		case Complete:
			complete++
		case Cancelled:
		default:
			t.Errorf("unexpected terminal state %v", st)
		}
	}
	assert.Equal(t, complete, len(result.Records))
	seen := make(map[string]bool)
	for _, rec := range result.Records {
		assert.False(t, seen[rec.ID])
		seen[rec.ID] = true
		assert.Equal(t, Complete, states[rec.CardIndex.Index()])
	}
}

func TestBatchRestart(t *testing.T) {
	// Starting a new batch cancels and awaits a stale one; the fresh
	// run must complete fully.
	s := New(testCapability(), Options{Workers: 2, MemoryBudgetMb: 512})
	started := make(chan struct{})
	firstDone := make(chan Result, 1)
	go func() {
		close(started)
		result, err := s.Batch(context.Background(), []byte("seed"), testSpec(50))
		assert.NoError(t, err)
		firstDone <- result
	}()
	<-started
	time.Sleep(20 * time.Millisecond)
	result, err := s.Batch(context.Background(), []byte("seed"), testSpec(5))
	require.NoError(t, err)
	assert.Len(t, result.Records, 5)
	assert.Empty(t, result.Errs)
	first := <-firstDone
	assert.LessOrEqual(t, len(first.Records), 50)
}

// countingReporter records event counts under simulated scheduling
// jitter.
type countingReporter struct {
	mu               sync.Mutex
	inits, completes int
	begins, ends, n  int
	states           map[State]int
}

func (r *countingReporter) Init(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits++
	r.n = n
}

func (r *countingReporter) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes++
}

func (r *countingReporter) Begin(int) {
	r.mu.Lock()
	r.begins++
	r.mu.Unlock()
	time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
}

func (r *countingReporter) End(i int, st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
	if r.states == nil {
		r.states = map[State]int{}
	}
	r.states[st]++
}

func TestReporter(t *testing.T) {
	r := &countingReporter{}
	s := New(testCapability(), Options{Workers: 4, MemoryBudgetMb: 512, Reporter: r})
	result, err := s.Batch(context.Background(), []byte("seed"), testSpec(12))
	require.NoError(t, err)
	require.Len(t, result.Records, 12)
	assert.Equal(t, 1, r.inits)
	assert.Equal(t, 1, r.completes)
	assert.Equal(t, 12, r.n)
	assert.Equal(t, 12, r.begins)
	assert.Equal(t, 12, r.ends)
	assert.Equal(t, map[State]int{Complete: 12}, r.states)
}
