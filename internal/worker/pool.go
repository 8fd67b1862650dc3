package worker

import (
	"context"
	"sync"
)

// Task is a unit of work producing a value of type T
type Task[T any] func(ctx context.Context) (T, error)

// Outcome is the result of a task, tagged with its submission index
type Outcome[T any] struct {
	Index int
	Value T
	Err   error
}

type indexedTask[T any] struct {
	index int
	task  Task[T]
}

// Pool runs tasks on a fixed number of workers and returns outcomes in
// submission order
type Pool[T any] struct {
	workers    int
	jobQueue   chan indexedTask[T]
	results    chan Outcome[T]
	collected  []Outcome[T]
	rejected   []Outcome[T]
	submitted  int
	closed     bool
	mu         sync.Mutex
	wg         sync.WaitGroup
	collectWg  sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
}

// NewPool creates a pool bound to ctx with the specified number of workers
func NewPool[T any](ctx context.Context, workers int) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool[T]{
		workers:    workers,
		jobQueue:   make(chan indexedTask[T], workers*2),
		results:    make(chan Outcome[T], workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start starts the workers and the result collector
func (p *Pool[T]) Start() {
	p.collectWg.Add(1)
	go func() {
		defer p.collectWg.Done()
		for out := range p.results {
			p.collected = append(p.collected, out)
		}
	}()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			out := Outcome[T]{Index: job.index}
			if err := p.ctx.Err(); err != nil {
				out.Err = err
			} else {
				out.Value, out.Err = job.task(p.ctx)
			}
			// The collector always drains results, so this send cannot stall
			p.results <- out
		}
	}
}

// Submit queues a task and returns its index. Tasks submitted after the
// pool is done complete immediately with an error.
func (p *Pool[T]) Submit(task Task[T]) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	index := p.submitted
	p.submitted++

	if p.closed {
		p.rejected = append(p.rejected, Outcome[T]{Index: index, Err: context.Canceled})
		return index
	}
	if err := p.ctx.Err(); err != nil {
		p.rejected = append(p.rejected, Outcome[T]{Index: index, Err: err})
		return index
	}

	select {
	case <-p.ctx.Done():
		p.rejected = append(p.rejected, Outcome[T]{Index: index, Err: p.ctx.Err()})
	case p.jobQueue <- indexedTask[T]{index: index, task: task}:
	}
	return index
}

// Wait waits for all submitted tasks and returns one outcome per task,
// ordered by index. Tasks abandoned by cancellation carry the context error.
func (p *Pool[T]) Wait() []Outcome[T] {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobQueue)
	}
	p.mu.Unlock()

	p.drain()
	defer p.cancelFunc()

	p.mu.Lock()
	defer p.mu.Unlock()

	missing := p.ctx.Err()
	if missing == nil {
		missing = context.Canceled
	}

	outcomes := make([]Outcome[T], p.submitted)
	filled := make([]bool, p.submitted)
	for _, group := range [][]Outcome[T]{p.collected, p.rejected} {
		for _, out := range group {
			outcomes[out.Index] = out
			filled[out.Index] = true
		}
	}
	for i := range outcomes {
		if !filled[i] {
			outcomes[i] = Outcome[T]{Index: i, Err: missing}
		}
	}
	return outcomes
}

// Shutdown cancels outstanding tasks and waits for the workers to exit
func (p *Pool[T]) Shutdown() {
	p.cancelFunc()
	p.drain()
}

func (p *Pool[T]) drain() {
	p.wg.Wait()
	p.closeOnce.Do(func() {
		close(p.results)
	})
	p.collectWg.Wait()
}

// FirstError returns the error of the lowest-indexed failed outcome
func FirstError[T any](outcomes []Outcome[T]) error {
	for _, out := range outcomes {
		if out.Err != nil {
			return out.Err
		}
	}
	return nil
}
