// The Pool keeps a small set of multiplexed transports per server address.
//
// Pool design: connections are created lazily, one per Get until the set is full, and
// handed out round-robin afterwards. A transport is shared, not borrowed, so there is
// no Put. Dead transports are dropped on the next Get and redialled.

package transport

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("transport: pool closed")

// DialFunc opens a transport to addr.
type DialFunc func(ctx context.Context, addr string) (*ClientTransport, error)

type Pool struct {
	mu     sync.Mutex
	size   int
	dial   DialFunc
	sets   map[string]*transportSet
	closed bool
}

type transportSet struct {
	mu    sync.Mutex
	conns []*ClientTransport
	next  uint64
}

// NewPool creates a pool with up to size transports per address.
func NewPool(size int, dial DialFunc) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		size: size,
		dial: dial,
		sets: make(map[string]*transportSet),
	}
}

// Get returns a live transport to addr.
// Strategy:
//  1. Drop transports whose connection has died
//  2. If the set is under its limit, dial a new transport
//  3. Otherwise pick the next one round-robin
//
// A failed dial falls back to an existing transport if there is one.
func (p *Pool) Get(ctx context.Context, addr string) (*ClientTransport, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	set, ok := p.sets[addr]
	if !ok {
		set = &transportSet{}
		p.sets[addr] = set
	}
	p.mu.Unlock()

	set.mu.Lock()
	defer set.mu.Unlock()

	live := set.conns[:0]
	for _, t := range set.conns {
		if !t.IsClosed() {
			live = append(live, t)
		}
	}
	clear(set.conns[len(live):])
	set.conns = live

	if len(set.conns) < p.size {
		t, err := p.dial(ctx, addr)
		if err == nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed {
				t.Close()
				return nil, ErrPoolClosed
			}
			set.conns = append(set.conns, t)
			return t, nil
		}
		if len(set.conns) == 0 {
			return nil, err
		}
	}

	t := set.conns[set.next%uint64(len(set.conns))]
	set.next++
	return t, nil
}

// Remove closes and forgets every transport to addr.
func (p *Pool) Remove(addr string) {
	p.mu.Lock()
	set, ok := p.sets[addr]
	delete(p.sets, addr)
	p.mu.Unlock()
	if ok {
		set.closeAll()
	}
}

// Addrs returns the addresses the pool holds transports for.
func (p *Pool) Addrs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sets))
	for addr := range p.sets {
		out = append(out, addr)
	}
	return out
}

// Len returns the number of live transports to addr.
func (p *Pool) Len(addr string) int {
	p.mu.Lock()
	set, ok := p.sets[addr]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	n := 0
	for _, t := range set.conns {
		if !t.IsClosed() {
			n++
		}
	}
	return n
}

// Close shuts down the pool and closes all transports.
func (p *Pool) Close() error {
	p.mu.Lock()
	sets := p.sets
	p.sets = make(map[string]*transportSet)
	p.closed = true
	p.mu.Unlock()

	for _, set := range sets {
		set.closeAll()
	}
	return nil
}

func (s *transportSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.conns {
		t.Close()
	}
	s.conns = nil
}
