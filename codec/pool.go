package codec

import (
	"errors"
	"time"
)

var ErrPoolExhausted = errors.New("codec: pool exhausted")

// Pool hands out a fixed number of instances that must not be used concurrently.
//
// Pool design: a buffered channel holds the idle instances. Borrow blocks on an empty channel for
// at most the configured wait, so a leaked instance degrades into errors rather than a deadlock.
type Pool[T any] struct {
	items chan T
	wait  time.Duration
}

// NewPool creates size instances up front with newFn.
func NewPool[T any](size int, wait time.Duration, newFn func() T) *Pool[T] {
	if size <= 0 {
		size = 1
	}
	p := &Pool[T]{
		items: make(chan T, size),
		wait:  wait,
	}
	for i := 0; i < size; i++ {
		p.items <- newFn()
	}
	return p
}

// Borrow takes an idle instance, waiting up to the pool's wait time.
// Strategy:
//  1. Non-blocking receive for the common case
//  2. Otherwise block until an instance is released or the wait elapses
func (p *Pool[T]) Borrow() (T, error) {
	select {
	case item := <-p.items:
		return item, nil
	default:
	}

	timer := time.NewTimer(p.wait)
	defer timer.Stop()
	select {
	case item := <-p.items:
		return item, nil
	case <-timer.C:
		var zero T
		return zero, ErrPoolExhausted
	}
}

// Release returns an instance borrowed from this pool.
func (p *Pool[T]) Release(item T) {
	p.items <- item
}

// Idle returns the number of instances currently available.
func (p *Pool[T]) Idle() int {
	return len(p.items)
}

// Size returns the total number of instances.
func (p *Pool[T]) Size() int {
	return cap(p.items)
}
