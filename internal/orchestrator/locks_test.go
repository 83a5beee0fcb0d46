package orchestrator

import (
	"sync"
	"testing"
	"time"
)

func TestPathLocksSerializeSamePath(t *testing.T) {
	locks := NewPathLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("src/api.go")
			counter++
			locks.Unlock("src/api.go")
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("expected 100 serialized increments, got %d", counter)
	}
}

func TestPathLocksIndependentPaths(t *testing.T) {
	locks := NewPathLocks()

	locks.Lock("src/a.go")
	done := make(chan struct{})
	go func() {
		locks.Lock("src/b.go")
		locks.Unlock("src/b.go")
		close(done)
	}()
	<-done // b must not block behind a
	locks.Unlock("src/a.go")
}

func TestLockAllOverlappingSetsNoDeadlock(t *testing.T) {
	locks := NewPathLocks()

	// Two goroutines lock overlapping sets in opposite declaration order.
	// Sorted acquisition must prevent deadlock.
	setA := []string{"src/a.go", "src/b.go", "src/c.go"}
	setB := []string{"src/c.go", "src/a.go"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			locks.LockAll(setA)
			locks.UnlockAll(setA)
		}()
		go func() {
			defer wg.Done()
			locks.LockAll(setB)
			locks.UnlockAll(setB)
		}()
	}
	wg.Wait()
}

func TestLockAllDuplicatePaths(t *testing.T) {
	locks := NewPathLocks()

	// The same path listed twice must be locked once, not acquired
	// twice against itself.
	paths := []string{"src/a.go", "src/a.go", "src/b.go"}

	done := make(chan struct{})
	go func() {
		locks.LockAll(paths)
		locks.UnlockAll(paths)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("LockAll deadlocked on duplicate paths")
	}

	// The locks must be fully released afterwards.
	locks.Lock("src/a.go")
	locks.Unlock("src/a.go")
}

func TestLockAllEmpty(t *testing.T) {
	locks := NewPathLocks()
	locks.LockAll(nil)
	locks.UnlockAll(nil)
}
