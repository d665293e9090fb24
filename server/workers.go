package server

import "sync"

// workerPool runs request handlers on a fixed set of goroutines.
//
// Jobs go through a bounded channel: when every worker is busy and the queue is full, the
// submitting read loop waits, which pushes back on that connection only.
type workerPool struct {
	jobs     chan func()
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newWorkerPool(workers, queueSize int) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &workerPool{
		jobs: make(chan func(), queueSize),
		quit: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *workerPool) run() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			job()
		case <-p.quit:
			return
		}
	}
}

// submit queues job. It returns false if the pool has been stopped.
func (p *workerPool) submit(job func()) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.quit:
		return false
	}
}

// stop makes the workers exit after their current job; queued jobs are dropped.
func (p *workerPool) stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}
