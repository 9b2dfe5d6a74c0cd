// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package limiter

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	l := New()
	l.Release(10)

	if err := l.Acquire(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if want, got := context.DeadlineExceeded, l.Acquire(ctx, 10); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	l.Release(5)
	if err := l.Acquire(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
}

// TestLimiterMemoryBudget exercises the limiter the way the scheduler
// does: tokens are megabytes and concurrent acquirers must never hold
// more than the budget in aggregate.
func TestLimiterMemoryBudget(t *testing.T) {
	const (
		N      = 1000
		budget = 100
	)
	var pending int32
	l := New()
	l.Release(budget)
	var begin, done sync.WaitGroup
	begin.Add(N)
	done.Add(N)
	errc := make(chan error, N)
	for i := 0; i < N; i++ {
		go func() {
			defer done.Done()
			begin.Done()
			begin.Wait()
			n := rand.Intn(budget) + 1
			if err := l.Acquire(context.Background(), n); err != nil {
				errc <- err
				return
			}
			if m := atomic.AddInt32(&pending, int32(n)); m > budget {
				errc <- fmt.Errorf("too many tokens: %d > %d", m, budget)
			}
			atomic.AddInt32(&pending, -int32(n))
			l.Release(n)
		}()
	}
	done.Wait()
	select {
	case err := <-errc:
		t.Fatal(err)
	default:
	}
}

func TestNilLimiter(t *testing.T) {
	var l *Limiter
	if err := l.Acquire(context.Background(), 1<<30); err != nil {
		t.Fatal(err)
	}
	l.Release(1)
}
