package services

import (
	"context"
	"sync"
	"time"
)

// Sequencer funnels every state-mutating call for a given operation through a
// single writer slot. Holding the slot both serializes revision numbering and
// fixes the broadcast order for that operation. Different operations are
// fully independent; there is no global lock.
//
// A separate keyspace of category locks guards group-inheritance fan-out so a
// concurrent category-membership edit cannot observe a half-applied snapshot.
// The category lock is never held together with an operation's writer slot
// across the whole fan-out, so individual commits are not blocked by a
// running propagation.
type Sequencer struct {
	mu         sync.Mutex
	ops        map[uint]chan struct{}
	categories map[string]chan struct{}
	timeout    time.Duration
}

// NewSequencer creates a sequencer whose Acquire gives up after timeout with
// ErrBusy.
func NewSequencer(timeout time.Duration) *Sequencer {
	return &Sequencer{
		ops:        make(map[uint]chan struct{}),
		categories: make(map[string]chan struct{}),
		timeout:    timeout,
	}
}

func (s *Sequencer) slot(opID uint) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.ops[opID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.ops[opID] = ch
	}
	return ch
}

func (s *Sequencer) categorySlot(category string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.categories[category]
	if !ok {
		ch = make(chan struct{}, 1)
		s.categories[category] = ch
	}
	return ch
}

// Acquire takes the writer slot of an operation. It returns a release
// function on success, ErrBusy when the slot cannot be taken within the
// bounded wait, or the context error when ctx is cancelled first.
func (s *Sequencer) Acquire(ctx context.Context, opID uint) (func(), error) {
	return acquire(ctx, s.slot(opID), s.timeout)
}

// AcquireCategory takes the short-lived category lock used during group
// propagation.
func (s *Sequencer) AcquireCategory(ctx context.Context, category string) (func(), error) {
	return acquire(ctx, s.categorySlot(category), s.timeout)
}

func acquire(ctx context.Context, slot chan struct{}, timeout time.Duration) (func(), error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-slot })
		}, nil
	case <-timer.C:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
