package engine

import (
	"context"
	"sync"

	"orderengine/src/model"

	logger "github.com/sirupsen/logrus"
)

type SubmitFunc func(ctx context.Context, userID uint, req model.OrderRequest) (*model.OrderExecution, error)

type submission struct {
	ctx    context.Context
	userID uint
	req    model.OrderRequest
	done   chan result
}

type result struct {
	exec *model.OrderExecution
	err  error
}

// Pool runs order submissions on a fixed set of workers. Different users proceed
// in parallel; the same user is serialized by the arena lock inside submit.
type Pool struct {
	submit  SubmitFunc
	workers int
	jobs    chan submission

	stop     chan struct{}
	drained  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(workers, queueSize int, submit SubmitFunc) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		submit:  submit,
		workers: workers,
		jobs:    make(chan submission, queueSize),
		stop:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	logger.WithField("workers", p.workers).Info("order worker pool started")
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for {
		// stop wins over queued work
		select {
		case <-p.stop:
			return
		default:
		}
		select {
		case <-p.stop:
			return
		case job := <-p.jobs:
			if err := job.ctx.Err(); err != nil {
				job.done <- result{err: err}
				continue
			}
			exec, err := p.submit(job.ctx, job.userID, job.req)
			job.done <- result{exec: exec, err: err}
		}
	}
}

// Submit queues the request and waits for its result, ctx, or pool shutdown.
func (p *Pool) Submit(ctx context.Context, userID uint, req model.OrderRequest) (*model.OrderExecution, error) {
	job := submission{ctx: ctx, userID: userID, req: req, done: make(chan result, 1)}

	select {
	case <-p.stop:
		return nil, ErrEngineStopped
	default:
	}

	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stop:
		return nil, ErrEngineStopped
	}

	select {
	case r := <-job.done:
		return r.exec, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.drained:
		select {
		case r := <-job.done:
			return r.exec, r.err
		default:
			return nil, ErrEngineStopped
		}
	}
}

// Stop lets running submissions finish and drops queued ones.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		for {
			select {
			case job := <-p.jobs:
				job.done <- result{err: ErrEngineStopped}
			default:
				close(p.drained)
				return
			}
		}
	})
}
