// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package schedule orchestrates batches of card derivations across a
// pool of workers under a memory budget. Workers share no mutable
// state; each takes one stretch-then-expand job at a time and reports
// a result or an error. The per-job state table, indexed by job
// index, is the single authority on batch progress: results complete
// out of order and callers must never infer state from dispatch or
// completion order.
//
// Cancellation is cooperative. The flag is observed before a worker
// claims a job and again when its stretch returns; an in-flight
// stretch cannot be interrupted, only discarded (and its buffers
// wiped) once control returns.
package schedule

import (
	"context"
	"crypto/rand"
	"math/big"
	"runtime"
	"sync"
	"time"

	"github.com/bastionpass/bastion/capability"
	"github.com/bastionpass/bastion/errors"
	"github.com/bastionpass/bastion/grid"
	"github.com/bastionpass/bastion/kdf"
	"github.com/bastionpass/bastion/label"
	"github.com/bastionpass/bastion/limiter"
	"github.com/bastionpass/bastion/log"
)

// BatchSize is the fixed number of jobs in a full batch: one card per
// coordinate.
const BatchSize = 100

// HardCap bounds the worker count regardless of cores or budget.
const HardCap = 8

// OverheadMb is the fixed per-worker overhead charged against the
// memory budget on top of the stretch's own request.
const OverheadMb = 32

// chunkYield is the cooperative pause between chunks, giving the
// runtime a chance to reclaim the previous chunk's allocations.
const chunkYield = 10 * time.Millisecond

// State is a job's position in its lifecycle.
type State int

const (
	// Pending jobs have not been claimed by a worker.
	Pending State = iota
	// Generating jobs are being stretched and expanded.
	Generating
	// Complete jobs produced a record.
	Complete
	// Error jobs failed unrecoverably.
	Error
	// Cancelled jobs were discarded by cancellation; they are not
	// failures.
	Cancelled
)

var stateNames = map[State]string{
	Pending:    "pending",
	Generating: "generating",
	Complete:   "complete",
	Error:      "error",
	Cancelled:  "cancelled",
}

// String returns the lowercase name of the state.
func (s State) String() string {
	return stateNames[s]
}

// A Reporter receives events from an ongoing batch. Reporters are
// used to monitor progress of long-running batches; events carry job
// indices, which resolve against the state table.
type Reporter interface {
	// Init is called when a batch is about to begin with the number
	// of jobs in it.
	Init(n int)
	// Complete is called after the batch has finished.
	Complete()
	// Begin is called when job i is claimed by a worker.
	Begin(i int)
	// End is called when job i reaches a terminal state.
	End(i int, s State)
}

// A Job is one unit of scheduled work: derive the card its label
// names. Index is the job's authoritative position in the batch.
type Job struct {
	Index int
	Card  label.Card
}

// A Spec describes one batch.
type Spec struct {
	// SeedType names the kind of seed material supplied.
	SeedType label.SeedType
	// CardID is the shared user-facing id of the batch's cards.
	CardID string
	// Base is the token alphabet size.
	Base int
	// Date is the optional label date.
	Date time.Time
	// Nonce is the batch nonce; nil draws a fresh one. All cards of
	// the batch share it.
	Nonce *label.Nonce
	// Params are the stretch cost parameters.
	Params label.Params
	// Count is the number of cards; zero means a full batch. At most
	// BatchSize.
	Count int
}

// A Result is the outcome of a batch. Records holds the successful
// cards in ascending job order; Errs holds per-job failures.
// Cancelled jobs appear in neither: cancellation is not a failure.
type Result struct {
	Records []grid.Record
	Errs    map[int]error
}

// Options configure a Scheduler.
type Options struct {
	// MemoryBudgetMb bounds the aggregate memory of in-flight
	// stretches. Zero defaults to four times the capability's
	// per-stretch maximum.
	MemoryBudgetMb int
	// Reporter receives progress events; may be nil.
	Reporter Reporter
	// Workers overrides the detected core count, for tests.
	Workers int
}

// A Scheduler derives batches under one memory configuration. It
// bakes the capability's memory ceiling in at construction: when the
// memory parameter or capability changes, tear the scheduler down and
// build a new one rather than reconfiguring in place.
type Scheduler struct {
	cap    capability.Capability
	opts   Options
	budget int

	mu      sync.Mutex
	states  []State
	cancel  context.CancelFunc // cancels the current run
	running chan struct{}      // closed when the current run finishes
}

// New builds a Scheduler for the probed capability.
func New(cap capability.Capability, opts Options) *Scheduler {
	budget := opts.MemoryBudgetMb
	if budget == 0 {
		budget = 4 * cap.MaxMemoryMb
	}
	return &Scheduler{cap: cap, opts: opts, budget: budget}
}

// Workers reports the concurrency the scheduler will use for
// stretches of the given memory request: the core count, the memory
// budget divided by the per-worker footprint, and the hard cap,
// whichever is least. Zero means strictly sequential processing.
func (s *Scheduler) Workers(memoryMb int) int {
	if !s.cap.ConcurrentWorkers {
		return 0
	}
	n := s.opts.Workers
	if n == 0 {
		n = runtime.NumCPU()
	}
	if byBudget := s.budget / (memoryMb + OverheadMb); byBudget < n {
		n = byBudget
	}
	if n > HardCap {
		n = HardCap
	}
	if n < 1 {
		return 0
	}
	return n
}

// States returns a snapshot of the current batch's state table.
func (s *Scheduler) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.states))
	copy(out, s.states)
	return out
}

// Cancel requests cancellation of the current batch, if any. Jobs
// already Complete keep their results; everything else winds down at
// the next cancellation point.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) setState(i int, st State) {
	s.mu.Lock()
	s.states[i] = st
	s.mu.Unlock()
}

// begin registers a new run, cancelling and awaiting any stale one: a
// leftover "still generating" batch must never block a restart with
// fresh parameters.
func (s *Scheduler) begin(ctx context.Context, n int) (context.Context, func()) {
	s.mu.Lock()
	for s.cancel != nil {
		cancel, running := s.cancel, s.running
		cancel()
		s.mu.Unlock()
		<-running
		s.mu.Lock()
	}
	runCtx, cancel := context.WithCancel(ctx)
	running := make(chan struct{})
	s.cancel, s.running = cancel, running
	s.states = make([]State, n)
	s.mu.Unlock()
	return runCtx, func() {
		cancel()
		s.mu.Lock()
		if s.running == running {
			s.cancel, s.running = nil, nil
		}
		s.mu.Unlock()
		close(running)
	}
}

func (s *Spec) jobs() ([]Job, error) {
	count := s.Count
	if count == 0 {
		count = BatchSize
	}
	if count < 1 || count > BatchSize {
		return nil, errors.E(errors.Invalid, "batch count out of range")
	}
	if s.Nonce == nil {
		nonce, err := label.NewNonce(rand.Reader)
		if err != nil {
			return nil, err
		}
		s.Nonce = &nonce
	}
	jobs := make([]Job, count)
	for i := range jobs {
		jobs[i] = Job{
			Index: i,
			Card: label.Card{
				SeedType: s.SeedType,
				KDF:      label.Argon2id,
				Params:   s.Params,
				Base:     s.Base,
				Date:     s.Date,
				Nonce:    *s.Nonce,
				CardID:   s.CardID,
				Index:    label.MustCoordAt(i),
			},
		}
	}
	return jobs, nil
}

// shuffle permutes dispatch order for presentation variety only. The
// deterministic mapping from job index to output is untouched: state
// and results are keyed by Job.Index throughout.
func shuffle(jobs []Job) {
	for i := len(jobs) - 1; i > 0; i-- {
		r, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return // dispatch order is cosmetic; keep what we have
		}
		j := int(r.Int64())
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
}

// Batch derives spec's cards from seedMaterial. Per-job failures do
// not abort the batch: failed jobs are reported in Result.Errs while
// successful ones are still returned. A batch in which no job
// succeeds returns the first hard failure as its error. Cancellation
// mid-batch returns the records completed so far with a nil error.
// The caller retains ownership of seedMaterial and wipes it when the
// batch returns.
func (s *Scheduler) Batch(ctx context.Context, seedMaterial []byte, spec Spec) (Result, error) {
	if s.cap.Broken {
		return Result{}, errors.E(errors.Unavailable, errors.Fatal,
			"environment cannot run the stretcher")
	}
	jobs, err := spec.jobs()
	if err != nil {
		return Result{}, err
	}
	runCtx, done := s.begin(ctx, len(jobs))
	defer done()

	if r := s.opts.Reporter; r != nil {
		r.Init(len(jobs))
		defer r.Complete()
	}

	order := make([]Job, len(jobs))
	copy(order, jobs)
	shuffle(order)

	mem := limiter.New()
	mem.Release(s.budget)

	var (
		resmu   sync.Mutex
		records = make(map[int]grid.Record)
		errs    = make(map[int]error)
		hard    errors.Once
	)
	run := func(job Job) {
		rec, err := s.runJob(runCtx, mem, seedMaterial, job)
		if err != nil {
			if errors.Is(errors.Canceled, err) {
				return // silent: not a failure
			}
			hard.Set(err)
			resmu.Lock()
			errs[job.Index] = err
			resmu.Unlock()
			return
		}
		resmu.Lock()
		records[job.Index] = rec
		resmu.Unlock()
	}

	if workers := s.Workers(spec.Params.MemoryMb); workers > 1 {
		// Chunked concurrency: at most workers stretches in flight,
		// a full chunk awaited before the next is issued, a short
		// yield in between.
		for start := 0; start < len(order); start += workers {
			end := start + workers
			if end > len(order) {
				end = len(order)
			}
			var wg sync.WaitGroup
			for _, job := range order[start:end] {
				wg.Add(1)
				go func(job Job) {
					defer wg.Done()
					run(job)
				}(job)
			}
			wg.Wait()
			if runCtx.Err() != nil {
				break
			}
			select {
			case <-time.After(chunkYield):
			case <-runCtx.Done():
			}
		}
	} else {
		// Strictly sequential fallback over the same jobs; each job
		// still recovers via the fallback ladder.
		log.Debug.Printf("schedule: no concurrent workers, running batch sequentially")
		for _, job := range order {
			if runCtx.Err() != nil {
				break
			}
			run(job)
		}
	}

	// Anything never claimed was cancelled.
	s.mu.Lock()
	for i, st := range s.states {
		if st == Pending || st == Generating {
			s.states[i] = Cancelled
		}
	}
	s.mu.Unlock()

	result := Result{Errs: errs}
	for _, job := range jobs {
		if rec, ok := records[job.Index]; ok {
			result.Records = append(result.Records, rec)
		}
	}
	if len(result.Records) == 0 {
		if err := hard.Err(); err != nil {
			return result, errors.E("no card in the batch succeeded", err)
		}
	}
	return result, nil
}

// runJob executes one job: claim, stretch (with ladder), expand,
// record. The job's card seed never outlives the call.
func (s *Scheduler) runJob(ctx context.Context, mem *limiter.Limiter, seedMaterial []byte, job Job) (grid.Record, error) {
	// Cancellation point: before claiming.
	if err := ctx.Err(); err != nil {
		s.setState(job.Index, Cancelled)
		s.report(func(r Reporter) { r.End(job.Index, Cancelled) })
		return grid.Record{}, errors.E("claim", err)
	}
	need := job.Card.Params.MemoryMb + OverheadMb
	if need > s.budget {
		need = s.budget
	}
	if err := mem.Acquire(ctx, need); err != nil {
		s.setState(job.Index, Cancelled)
		s.report(func(r Reporter) { r.End(job.Index, Cancelled) })
		return grid.Record{}, errors.E("memory budget", err)
	}
	defer mem.Release(need)

	s.setState(job.Index, Generating)
	s.report(func(r Reporter) { r.Begin(job.Index) })

	stretcher := kdf.Stretcher{GrantMb: s.cap.MaxMemoryMb}
	cardSeed, effective, err := kdf.DeriveCardSeed(ctx, stretcher, seedMaterial, job.Card)
	if err != nil {
		st := Error
		if errors.Is(errors.Canceled, err) {
			// Cancellation observed after the stretch returned; the
			// ladder has already wiped the discarded seed.
			st = Cancelled
		}
		s.setState(job.Index, st)
		s.report(func(r Reporter) { r.End(job.Index, st) })
		return grid.Record{}, err
	}
	defer kdf.Zero(cardSeed)

	m, err := grid.DeriveTokenMatrix(cardSeed, effective.Index, effective.Base)
	if err == nil {
		var rec grid.Record
		if rec, err = grid.NewRecord(effective, m); err == nil {
			s.setState(job.Index, Complete)
			s.report(func(r Reporter) { r.End(job.Index, Complete) })
			return rec, nil
		}
	}
	s.setState(job.Index, Error)
	s.report(func(r Reporter) { r.End(job.Index, Error) })
	return grid.Record{}, err
}

func (s *Scheduler) report(f func(Reporter)) {
	if r := s.opts.Reporter; r != nil {
		f(r)
	}
}
