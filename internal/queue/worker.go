package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/app"
)

// Runner executes one job. *app.App implements it.
type Runner interface {
	Run(ctx context.Context, job app.Job) (*app.Report, error)
}

// DefaultPollTimeout is how long the dispatcher blocks on an empty list
// before checking for shutdown.
const DefaultPollTimeout = time.Second

// Worker runs requests handed to it by the dispatcher, one at a time.
type Worker struct {
	id         int
	jobQueue   chan *Request
	workerPool chan chan *Request
	queue      *Queue
	runner     Runner
	log        logs.Log
}

func newWorker(id int, workerPool chan chan *Request, queue *Queue, runner Runner, log logs.Log) *Worker {
	return &Worker{
		id:         id,
		jobQueue:   make(chan *Request),
		workerPool: workerPool,
		queue:      queue,
		runner:     runner,
		log:        log,
	}
}

func (w *Worker) start(ctx context.Context, wg *sync.WaitGroup) {
	w.log.Debugf("Worker %d starting", w.id)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			// Offer this worker's queue to the dispatcher.
			select {
			case w.workerPool <- w.jobQueue:
			case <-ctx.Done():
				w.log.Debugf("Worker %d stopping", w.id)
				return
			}

			select {
			case req := <-w.jobQueue:
				w.process(ctx, req)
			case <-ctx.Done():
				w.log.Debugf("Worker %d stopping", w.id)
				return
			}
		}
	}()
}

// process runs req and stores its result. A request handed over while the
// worker is shutting down is put back at the head of the queue unstarted.
func (w *Worker) process(ctx context.Context, req *Request) {
	if ctx.Err() != nil {
		if err := w.queue.Requeue(req); err != nil {
			w.log.Errorf("Worker %d: couldn't requeue %v: %v", w.id, req.ID, err)
		}
		return
	}

	w.log.Infof("Worker %d: request %v (%v frames %d+%d)", w.id, req.ID, req.Job.Kind, req.Job.Start, req.Job.Count)

	report, err := w.runner.Run(ctx, req.Job)

	res := &Result{ID: req.ID, Status: "failed", FinishedAt: time.Now()}
	if report != nil {
		res.RunID = report.RunID
		res.Status = string(report.Status)
		res.Summary = report.Summary
		if report.Failure != nil {
			f := report.Failure.Frame
			res.FailedFrame = &f
		}
	}
	if err != nil {
		res.Error = err.Error()
		w.log.Warnf("Worker %d: request %v failed: %v", w.id, req.ID, err)
	}

	if err := w.queue.StoreResult(res); err != nil {
		w.log.Errorf("Worker %d: couldn't store result of %v: %v", w.id, req.ID, err)
	}
}

// Dispatcher pulls requests from the queue and assigns each to an idle worker.
type Dispatcher struct {
	queue       *Queue
	runner      Runner
	workerPool  chan chan *Request
	maxWorkers  int
	pollTimeout time.Duration
	log         logs.Log
}

// NewDispatcher creates a dispatcher with maxWorkers workers.
func NewDispatcher(queue *Queue, runner Runner, maxWorkers int, log logs.Log) *Dispatcher {
	maxWorkers = max(maxWorkers, 1)
	return &Dispatcher{
		queue:       queue,
		runner:      runner,
		workerPool:  make(chan chan *Request, maxWorkers),
		maxWorkers:  maxWorkers,
		pollTimeout: DefaultPollTimeout,
		log:         log,
	}
}

// Run starts the workers and dispatches requests until ctx is cancelled. A
// request is only popped once a worker is idle. In-flight runs are cancelled
// on shutdown; Run returns after every worker has stopped.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.maxWorkers; i++ {
		newWorker(i+1, d.workerPool, d.queue, d.runner, d.log).start(ctx, &wg)
	}
	d.log.Infof("Dispatcher: %d workers on %v", d.maxWorkers, d.queue.Key())

	d.dispatch(ctx)
	wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) dispatch(ctx context.Context) {
	for {
		var workerJobQueue chan *Request
		select {
		case workerJobQueue = <-d.workerPool:
		case <-ctx.Done():
			return
		}

		req, err := d.next(ctx)
		if err != nil {
			return
		}

		select {
		case workerJobQueue <- req:
		case <-ctx.Done():
			if err := d.queue.Requeue(req); err != nil {
				d.log.Errorf("Dispatcher: couldn't requeue %v: %v", req.ID, err)
			}
			return
		}
	}
}

// next blocks until a request is available or ctx is done.
func (d *Dispatcher) next(ctx context.Context) (*Request, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := d.queue.Dequeue(d.pollTimeout)
		switch {
		case err == nil:
			return req, nil
		case errors.Is(err, ErrEmpty):
		default:
			d.log.Warnf("Dispatcher: dequeue: %v", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
}
