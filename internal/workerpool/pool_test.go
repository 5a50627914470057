package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsEveryTaskExactlyOnce(t *testing.T) {
	const workers = 4
	const tasks = 200

	p := New(workers, 0)
	defer p.Shutdown(Graceful)

	var count int64
	var wg sync.WaitGroup
	wg.Add(tasks)
	for i := 0; i < tasks; i++ {
		ok := p.Submit(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
		if !ok {
			t.Fatalf("submit %d rejected", i)
		}
	}
	wg.Wait()

	if got := atomic.LoadInt64(&count); got != tasks {
		t.Fatalf("count = %d, want %d", got, tasks)
	}
}

func TestMaxQueueRejectsOverflow(t *testing.T) {
	p := New(1, 2)

	started := make(chan struct{})
	block := make(chan struct{})
	release := make(chan struct{})
	if !p.Submit(func() {
		close(started)
		<-block
	}) {
		t.Fatal("first submit rejected")
	}
	// The single worker must have dequeued the first task before the queue
	// bound is probed, so exactly the next two submits fit in the queue.
	<-started
	if !p.Submit(func() { <-release }) {
		t.Fatal("second submit rejected")
	}
	if !p.Submit(func() { <-release }) {
		t.Fatal("third submit rejected")
	}
	if p.Submit(func() {}) {
		t.Fatal("fourth submit should have been rejected, queue is full")
	}

	close(block)
	close(release)
	p.Shutdown(Graceful)
}

func TestGracefulShutdownDrainsQueue(t *testing.T) {
	p := New(2, 0)

	var count int64
	for i := 0; i < 20; i++ {
		p.Submit(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&count, 1)
		})
	}
	p.Shutdown(Graceful)

	if got := atomic.LoadInt64(&count); got != 20 {
		t.Fatalf("count = %d, want 20 after graceful shutdown", got)
	}
	if p.Submit(func() {}) {
		t.Fatal("submit after shutdown should be rejected")
	}
}

func TestImmediateShutdownDiscardsQueue(t *testing.T) {
	p := New(1, 0)

	started := make(chan struct{})
	block := make(chan struct{})
	p.Submit(func() {
		close(started)
		<-block
	})
	<-started

	var count int64
	for i := 0; i < 20; i++ {
		p.Submit(func() { atomic.AddInt64(&count, 1) })
	}

	// Shutdown must truncate the queue while the one worker is still
	// blocked in its current task, or the worker could race ahead and
	// dequeue one of the 20 increments before truncation happens. Start
	// the shutdown first (it blocks in wg.Wait until the running task
	// returns), wait until the queue holds only the one exit sentinel, then
	// unblock that task.
	shutdownDone := make(chan struct{})
	go func() {
		p.Shutdown(Immediate)
		close(shutdownDone)
	}()
	for p.Stats().Queued != 1 {
		time.Sleep(time.Millisecond)
	}
	close(block)
	<-shutdownDone

	if got := atomic.LoadInt64(&count); got != 0 {
		t.Fatalf("count = %d, want 0: immediate shutdown should discard queued work", got)
	}
}

func TestConcurrencyNeverExceedsWorkerCount(t *testing.T) {
	const workers = 3
	p := New(workers, 0)
	defer p.Shutdown(Graceful)

	var active int32
	var maxActive int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers*5; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			n := atomic.AddInt32(&active, 1)
			mu.Lock()
			if n > maxActive {
				maxActive = n
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxActive > int32(workers) {
		t.Fatalf("observed %d concurrent tasks, want at most %d", maxActive, workers)
	}
}
