package orchestrator

import (
	"sync"
	"testing"
)

// TestTaskLockManagerExclusion verifies a held lock rejects a second
// acquire and is reusable after release.
func TestTaskLockManagerExclusion(t *testing.T) {
	m := newTaskLockManager()

	if !m.TryAcquire("t1") {
		t.Fatal("first TryAcquire failed")
	}
	if m.TryAcquire("t1") {
		t.Error("second TryAcquire succeeded while held")
	}
	m.Release("t1")
	if !m.TryAcquire("t1") {
		t.Error("TryAcquire failed after release")
	}
	m.Release("t1")
}

// TestTaskLockManagerIndependentKeys verifies locks for different tasks
// do not interfere.
func TestTaskLockManagerIndependentKeys(t *testing.T) {
	m := newTaskLockManager()

	if !m.TryAcquire("a") {
		t.Fatal("TryAcquire(a) failed")
	}
	if !m.TryAcquire("b") {
		t.Error("TryAcquire(b) failed while a is held")
	}
	m.Release("a")
	m.Release("b")
}

// TestTaskLockManagerConcurrent verifies exactly one of many concurrent
// acquirers wins.
func TestTaskLockManagerConcurrent(t *testing.T) {
	m := newTaskLockManager()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.TryAcquire("t1") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d goroutines acquired the lock, want exactly 1", wins)
	}
}
