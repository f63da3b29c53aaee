// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import (
	"context"
	"sync"
)

// workQueue is an unbounded FIFO that drops pushes whose key is already queued.
// Producers never block; the store is the durable record, the queue only schedules.
type workQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	queued map[string]struct{}
	keyFn  func(T) string
	notify chan struct{}
	done   chan struct{}
	closed bool
}

func newWorkQueue[T any](keyFn func(T) string) *workQueue[T] {
	return &workQueue[T]{
		queued: make(map[string]struct{}),
		keyFn:  keyFn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push enqueues item unless an item with the same key is already waiting.
func (q *workQueue[T]) Push(item T) bool {
	key := q.keyFn(item)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if _, ok := q.queued[key]; ok {
		q.mu.Unlock()
		return false
	}
	q.queued[key] = struct{}{}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.wake()
	return true
}

// Pop blocks until an item is available, the queue is closed, or ctx ends.
func (q *workQueue[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			delete(q.queued, q.keyFn(item))
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return item, true
		}
		if q.closed {
			q.mu.Unlock()
			return zero, false
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, false
		case <-q.notify:
		case <-q.done:
		}
	}
}

func (q *workQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *workQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

func (q *workQueue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// keyedMutex serializes work per key without holding memory for idle keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
