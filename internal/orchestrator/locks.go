package orchestrator

import (
	"sort"
	"sync"
)

// PathLocks provides per-path mutual exclusion for concurrent handlers
// writing generated files. Each path gets its own mutex, so handlers
// touching different files proceed in parallel while writes to the same
// file are serialized.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPathLocks creates an empty lock table.
func NewPathLocks() *PathLocks {
	return &PathLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for path, creating it on first use.
func (p *PathLocks) Lock(path string) {
	p.mu.Lock()
	lock, exists := p.locks[path]
	if !exists {
		lock = &sync.Mutex{}
		p.locks[path] = lock
	}
	p.mu.Unlock()

	// Acquired outside the table lock so one held path cannot stall
	// lookups for unrelated paths.
	lock.Lock()
}

// Unlock releases the mutex for path.
func (p *PathLocks) Unlock(path string) {
	p.mu.Lock()
	lock, exists := p.locks[path]
	p.mu.Unlock()

	if exists {
		lock.Unlock()
	}
}

// LockAll acquires locks for every distinct path, in sorted order so
// that two handlers locking overlapping sets cannot deadlock. Repeated
// paths are locked once; acquiring the same mutex twice would block
// forever.
func (p *PathLocks) LockAll(paths []string) {
	for _, path := range sortedUnique(paths) {
		p.Lock(path)
	}
}

// UnlockAll releases locks for all distinct paths, in reverse sorted order.
func (p *PathLocks) UnlockAll(paths []string) {
	sorted := sortedUnique(paths)
	for i := len(sorted) - 1; i >= 0; i-- {
		p.Unlock(sorted[i])
	}
}

func sortedUnique(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	unique := sorted[:1]
	for _, path := range sorted[1:] {
		if path != unique[len(unique)-1] {
			unique = append(unique, path)
		}
	}
	return unique
}
