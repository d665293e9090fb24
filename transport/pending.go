package transport

import (
	"lite-rpc/message"
	"sync"
)

type result struct {
	resp *message.Response
	err  error
}

// pendingTable maps request IDs to the slot their caller waits on.
//
// A slot is completed at most once: whoever removes the entry first (the receive loop, the
// timed-out caller or the close fan-out) owns it. Slots are buffered so completing never blocks.
type pendingTable struct {
	mu    sync.Mutex
	calls map[uint64]chan result
	err   error // set once the connection is gone; add fails from then on
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uint64]chan result)}
}

func (p *pendingTable) add(id uint64) (chan result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan result, 1)
	p.calls[id] = ch
	return ch, nil
}

// complete delivers resp to the waiting caller. It returns false for unknown or abandoned IDs.
func (p *pendingTable) complete(id uint64, resp *message.Response) bool {
	p.mu.Lock()
	ch, ok := p.calls[id]
	delete(p.calls, id)
	p.mu.Unlock()
	if ok {
		ch <- result{resp: resp}
	}
	return ok
}

// remove abandons id. It returns false if the slot was already completed.
func (p *pendingTable) remove(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.calls[id]
	delete(p.calls, id)
	return ok
}

// failAll completes every slot with err and refuses new ones.
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[uint64]chan result)
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()

	for _, ch := range calls {
		ch <- result{err: err}
	}
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
