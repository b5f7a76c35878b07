package orchestrator

import (
	"sync"
)

// taskLockManager provides per-task mutual exclusion for workflow runs.
// Keyed mutex pattern: each task id gets its own mutex, so runs for
// different tasks proceed concurrently while a second run for the same
// task is rejected up front.
type taskLockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTaskLockManager() *taskLockManager {
	return &taskLockManager{locks: make(map[string]*sync.Mutex)}
}

// TryAcquire attempts the per-task lock without blocking. It returns
// false when another run holds it; the caller maps that to TaskBusy
// rather than queueing.
func (m *taskLockManager) TryAcquire(taskID string) bool {
	m.mu.Lock()
	lock, exists := m.locks[taskID]
	if !exists {
		lock = &sync.Mutex{}
		m.locks[taskID] = lock
	}
	m.mu.Unlock()

	return lock.TryLock()
}

// Release unlocks the per-task lock. Must only be called after a
// successful TryAcquire, once the run reached a terminal state.
func (m *taskLockManager) Release(taskID string) {
	m.mu.Lock()
	lock, exists := m.locks[taskID]
	m.mu.Unlock()

	if exists {
		lock.Unlock()
	}
}
