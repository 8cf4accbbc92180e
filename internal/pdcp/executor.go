package pdcp

import (
	"sync"
	"sync/atomic"
)

// Executor is a single-producer-single-consumer task queue modeling the
// UE-UL / UE-DL serial execution contexts of §5: tasks submitted to it run
// one at a time, in submission order, on a dedicated goroutine. Submit is
// non-blocking; a full queue drops the task, matching the "queue full"
// back-pressure policy the spec assigns to handle_sdu/handle_pdu.
type Executor struct {
	tasks chan func()
	wg    sync.WaitGroup
}

// NewExecutor starts the executor's goroutine with a queue of the given
// depth.
func NewExecutor(queueDepth int) *Executor {
	e := &Executor{tasks: make(chan func(), queueDepth)}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Executor) run() {
	defer e.wg.Done()
	for task := range e.tasks {
		task()
	}
}

// Submit enqueues fn for execution; it returns false without running fn if
// the queue is full.
func (e *Executor) Submit(fn func()) bool {
	select {
	case e.tasks <- fn:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for the in-flight and already-queued
// tasks to drain. Safe to call once.
func (e *Executor) Stop() {
	close(e.tasks)
	e.wg.Wait()
}

// CryptoPool is the N-worker parallel crypto executor of §5. Each worker
// owns a private queue so that a task submitted to worker i is always
// processed by the goroutine whose thread-local index is i -- this is what
// lets the security.WorkerPool hand out one engine per worker with no
// internal locking.
type CryptoPool struct {
	queues []chan cryptoTask
	wg     sync.WaitGroup
	next   atomic.Uint32
}

type cryptoTask struct {
	workerIdx int
	fn        func(workerIdx int)
}

// NewCryptoPool starts n worker goroutines, each with its own bounded
// queue.
func NewCryptoPool(n, queueDepthPerWorker int) *CryptoPool {
	p := &CryptoPool{queues: make([]chan cryptoTask, n)}
	for i := 0; i < n; i++ {
		p.queues[i] = make(chan cryptoTask, queueDepthPerWorker)
		p.wg.Add(1)
		go p.runWorker(i)
	}
	return p
}

func (p *CryptoPool) runWorker(idx int) {
	defer p.wg.Done()
	for t := range p.queues[idx] {
		t.fn(t.workerIdx)
	}
}

// NumWorkers returns the pool's worker count.
func (p *CryptoPool) NumWorkers() int { return len(p.queues) }

// Dispatch assigns fn to a worker round-robin and submits it. fn receives
// the worker index it landed on, which the caller uses to select its
// per-worker security engine. Returns false if that worker's queue is full.
func (p *CryptoPool) Dispatch(fn func(workerIdx int)) bool {
	idx := int(p.next.Add(1)-1) % len(p.queues)
	select {
	case p.queues[idx] <- cryptoTask{workerIdx: idx, fn: fn}:
		return true
	default:
		return false
	}
}

// Stop closes every worker queue and waits for drain.
func (p *CryptoPool) Stop() {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
}
