package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Do after Close.
var ErrPoolClosed = errors.New("worker pool closed")

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Pool runs transcode jobs on a fixed number of goroutines so request handlers
// never run ffmpeg themselves.
type Pool struct {
	jobs      chan job
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPool 创建固定大小的工作池
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			j.done <- j.fn(j.ctx)
		}
	}
}

// Do blocks until a worker has run fn or ctx ends while fn is still queued.
// Once started, fn runs to completion; it gets ctx and is expected to honour it.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- j:
	}
	return <-j.done
}

// Close stops the workers after their current job. Queued callers get
// ErrPoolClosed.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
	})
}
