// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package capability determines how much memory the hosting
// environment can grant the memory-hard stretcher before any batch is
// scheduled. Environment-specific ceilings are injected through
// Config; nothing here is hard-coded into the derivation logic.
package capability

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/bastionpass/bastion/log"
)

// Capability is the probe's verdict.
type Capability struct {
	// MaxMemoryMb is the largest stretch the environment is believed
	// to grant.
	MaxMemoryMb int
	// Broken reports that no memory tier worked at all. Callers must
	// surface this prominently; it is not a transient condition.
	Broken bool
	// ConcurrentWorkers reports that parallel workers are available,
	// in which case MaxMemoryMb is a conservative default and each
	// worker self-limits via the fallback ladder.
	ConcurrentWorkers bool
}

// Config carries the injected ceiling table and probe settings. The
// zero value of any field selects its default.
type Config struct {
	// Candidates is the descending list of memory sizes to attempt
	// when probing sequentially.
	Candidates []int
	// ProbeTimeout bounds one probe attempt.
	ProbeTimeout time.Duration
	// DefaultMb is reported without probing when concurrent workers
	// are available.
	DefaultMb int
	// ConstrainedDefaultMb replaces DefaultMb on memory-constrained
	// environments.
	ConstrainedDefaultMb int
	// ConstrainedBelowMb classifies the environment as constrained
	// when total system memory is below it.
	ConstrainedBelowMb int
	// Workers is the detected worker count; zero means the number of
	// CPUs.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.Candidates == nil {
		c.Candidates = []int{2048, 1024, 512, 256, 128, 64, 32, 16, 8}
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.DefaultMb == 0 {
		c.DefaultMb = 512
	}
	if c.ConstrainedDefaultMb == 0 {
		c.ConstrainedDefaultMb = 128
	}
	if c.ConstrainedBelowMb == 0 {
		c.ConstrainedBelowMb = 4096
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

// Probe reports the environment's memory capability.
//
// With concurrent workers available, probing is skipped: every worker
// recovers from over-grants through the fallback ladder on its own,
// so a conservative default (lower on constrained environments)
// suffices and the probe's own large allocations are avoided.
// Otherwise candidates are attempted in descending order with a
// minimal stretch under a short timeout; the first success is the
// reported maximum, and if none succeeds the stretcher is flagged
// Broken.
func Probe(ctx context.Context, cfg Config) Capability {
	cfg = cfg.withDefaults()
	if cfg.Workers > 1 {
		mb := cfg.DefaultMb
		if total := totalMemoryMb(); total > 0 && total < cfg.ConstrainedBelowMb {
			mb = cfg.ConstrainedDefaultMb
		}
		return Capability{MaxMemoryMb: mb, ConcurrentWorkers: true}
	}
	for _, cand := range cfg.Candidates {
		if probeOnce(ctx, cand, cfg.ProbeTimeout) {
			return Capability{MaxMemoryMb: cand}
		}
		log.Debug.Printf("capability: probe at %d MB failed", cand)
	}
	return Capability{Broken: true}
}

// probeOnce runs a minimal Argon2id call (one pass, one lane, 32-byte
// hash) at the candidate size. A timed-out attempt keeps running in
// the background until its allocation is reclaimed; only its verdict
// is discarded.
func probeOnce(ctx context.Context, mb int, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		argon2.IDKey([]byte("bastion-probe"), []byte("bastion-probe-salt"),
			1, uint32(mb)<<10, 1, 32)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}
