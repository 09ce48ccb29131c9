package auction

import (
	"context"
	"sync"
	"time"
)

// KeyLock provides an exclusive critical section per auction id. The
// bid engine and the settlement sweeper share one instance, so the two
// mutators of an auction row exclude each other while unrelated
// auctions never contend.
//
// Acquisition is bounded: a caller that cannot take the lock within
// maxWait fails with ErrBusy instead of queueing indefinitely.
type KeyLock struct {
	mu      sync.Mutex
	locks   map[int64]*lockSlot
	maxWait time.Duration
}

// lockSlot is refcounted by holders and waiters; the map entry is
// evicted when the last of them leaves, so the map stays bounded by
// live contention rather than growing with every auction ever seen.
type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewKeyLock(maxWait time.Duration) *KeyLock {
	if maxWait <= 0 {
		maxWait = 3 * time.Second
	}
	return &KeyLock{
		locks:   make(map[int64]*lockSlot),
		maxWait: maxWait,
	}
}

func (kl *KeyLock) slot(id int64) *lockSlot {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	s, ok := kl.locks[id]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		kl.locks[id] = s
	}
	s.refs++
	return s
}

func (kl *KeyLock) unref(id int64) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	s := kl.locks[id]
	s.refs--
	if s.refs == 0 {
		delete(kl.locks, id)
	}
}

// Acquire takes the exclusive section for id. It returns ErrBusy when
// the bounded wait elapses, or the context error when ctx ends first.
func (kl *KeyLock) Acquire(ctx context.Context, id int64) error {
	s := kl.slot(id)

	select {
	case s.ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(kl.maxWait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-timer.C:
		kl.unref(id)
		return ErrBusy
	case <-ctx.Done():
		kl.unref(id)
		return ctx.Err()
	}
}

// Release frees the section. It must only follow a successful Acquire
// for the same id.
func (kl *KeyLock) Release(id int64) {
	kl.mu.Lock()
	s := kl.locks[id]
	kl.mu.Unlock()

	<-s.ch
	kl.unref(id)
}

// With runs fn inside the exclusive section for id.
func (kl *KeyLock) With(ctx context.Context, id int64, fn func() error) error {
	if err := kl.Acquire(ctx, id); err != nil {
		return err
	}
	defer kl.Release(id)
	return fn()
}
