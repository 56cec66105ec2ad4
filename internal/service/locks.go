package service

import "sync"

// LockTable serializes transactional units per book. Every mutation of a
// book's copy counters or its loan/reservation rows holds the book's lock
// from begin to commit or rollback, which closes the lost-update race on
// available_copies. Email sends must never happen under a book lock.
type LockTable struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewLockTable creates an empty lock table
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the lock for a book and returns the release function.
// Lock entries are never removed; the table is bounded by catalog size.
func (lt *LockTable) Lock(bookID int64) func() {
	lt.mu.Lock()
	m, ok := lt.locks[bookID]
	if !ok {
		m = &sync.Mutex{}
		lt.locks[bookID] = m
	}
	lt.mu.Unlock()

	m.Lock()
	return m.Unlock
}
