package pool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/seantiz/tagpool/internal/model"
)

// Pool dispatches jobs to a fixed number of workers.
type Pool struct {
	strategy        Strategy
	workers         int
	logger          *slog.Logger
	observer        Observer
	onProtocolError func(error)

	requests *queue[workItem]
	results  *queue[resultItem]
	registry *jobRegistry

	// mu orders Submit against Stop: no item is enqueued after the sentinels.
	mu       sync.RWMutex
	stopping bool
	stopOnce sync.Once

	workerWG   sync.WaitGroup
	routerDone chan struct{}
}

type options struct {
	workers         int
	logger          *slog.Logger
	observers       []Observer
	onProtocolError func(error)
}

// Option configures a Pool.
type Option func(*options)

// WithWorkers sets the number of workers. The default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithLogger sets the logger used for pool events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver adds an observer. It may be given more than once.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithProtocolErrorHandler replaces the default handler for results that
// match no job, which panics.
func WithProtocolErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onProtocolError = fn }
}

// New starts a pool. Every worker's engine is built before New returns; if
// any fails, the ones already built are closed and the error is returned.
func New(strategy Strategy, opts ...Option) (*Pool, error) {
	o := options{
		workers: runtime.NumCPU(),
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
		onProtocolError: func(err error) {
			panic(err)
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if strategy == nil {
		return nil, &ConfigError{Field: "strategy", Reason: "required"}
	}
	if o.workers < 1 {
		return nil, &ConfigError{Field: "workers", Reason: fmt.Sprintf("must be at least 1, got %d", o.workers)}
	}
	if err := strategy.validate(); err != nil {
		return nil, err
	}

	logger := o.logger.With("component", "pool", "strategy", strategy.Name())
	p := &Pool{
		strategy:        strategy,
		workers:         o.workers,
		logger:          logger,
		observer:        Observers(append([]Observer{LogObserver(logger)}, o.observers...)...),
		onProtocolError: o.onProtocolError,
		requests:        newQueue[workItem](),
	}
	if strategy.isolated() {
		p.results = newQueue[resultItem]()
		p.registry = newJobRegistry()
	}

	execs := make([]executor, 0, o.workers)
	for i := range o.workers {
		ex, err := strategy.newExecutor(i, p)
		if err != nil {
			for _, built := range execs {
				built.close()
			}
			return nil, fmt.Errorf("start worker %d: %w", i, err)
		}
		execs = append(execs, ex)
	}

	for i, ex := range execs {
		p.workerWG.Go(func() {
			p.runWorker(i, ex)
		})
	}
	if p.results != nil {
		p.routerDone = make(chan struct{})
		go p.runRouter()
	}

	logger.Info("pool started", "workers", o.workers)
	return p, nil
}

// Submit accepts op for execution and returns its job handle. It never
// blocks on worker availability. op is copied; later changes by the caller
// do not affect the job.
func (p *Pool) Submit(op model.Operation) (*Job, error) {
	snap, err := model.Snapshot(op)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopping {
		return nil, ErrPoolStopped
	}

	job := newJob(snap)
	item := workItem{jobID: job.id, op: snap}
	if p.registry != nil {
		p.registry.add(job)
	} else {
		item.job = job
	}

	p.observe(Event{Type: EventJobSubmitted, Time: job.submittedAt, JobID: job.id, Kind: snap.Kind(), WorkerID: NoWorker})
	p.requests.put(item)
	return job, nil
}

// TagText submits a TagText operation.
func (p *Pool) TagText(text string, opts model.Options) (*Job, error) {
	return p.Submit(model.TagText{Text: text, Options: opts})
}

// TagFile submits a TagFile operation.
func (p *Pool) TagFile(inPath, encoding string, opts model.Options) (*Job, error) {
	return p.Submit(model.TagFile{InPath: inPath, Encoding: encoding, Options: opts})
}

// TagFileTo submits a TagFileTo operation.
func (p *Pool) TagFileTo(inPath, outPath, encoding string, opts model.Options) (*Job, error) {
	return p.Submit(model.TagFileTo{InPath: inPath, OutPath: outPath, Encoding: encoding, Options: opts})
}

// Stop rejects new submissions, lets workers finish every job already
// accepted, then stops workers, the router and all engines. It is idempotent;
// concurrent callers return once the first call has completed.
func (p *Pool) Stop() {
	p.stopOnce.Do(p.stop)
}

// Shutdown runs Stop but gives up waiting when ctx ends. Stop keeps running
// in the background in that case.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) stop() {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()

	p.observe(Event{Type: EventPoolStopping, Time: time.Now(), WorkerID: NoWorker, Pending: p.requests.len()})

	// One sentinel per worker, queued behind every accepted item.
	for range p.workers {
		p.requests.put(workItem{stop: true})
	}
	p.workerWG.Wait()

	if p.results != nil {
		p.results.put(resultItem{stop: true})
		<-p.routerDone
	}

	p.observe(Event{Type: EventPoolStopped, Time: time.Now(), WorkerID: NoWorker})
}

// Stopped reports whether Stop has been called.
func (p *Pool) Stopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopping
}

// Workers returns the number of workers.
func (p *Pool) Workers() int { return p.workers }

// Strategy returns the strategy name.
func (p *Pool) Strategy() string { return p.strategy.Name() }

// Pending returns the number of items waiting in the request queue.
func (p *Pool) Pending() int { return p.requests.len() }

func (p *Pool) observe(e Event) {
	p.observer.Observe(e)
}

// finish reports the outcome of a job to observers, then completes it, so
// observers have seen the outcome by the time waiters wake.
func (p *Pool) finish(job *Job, res resultItem) {
	var err error
	if res.err != nil {
		err = &OperationError{JobID: job.id, Kind: job.op.Kind(), Err: res.err}
	}

	ev := Event{
		Type:     EventJobFinished,
		Time:     time.Now(),
		JobID:    job.id,
		Kind:     job.op.Kind(),
		WorkerID: res.workerID,
		Duration: time.Since(res.startedAt),
		Lines:    len(res.output.Lines),
	}
	if err != nil {
		ev.Type = EventJobFailed
		ev.Err = err
	}
	p.observe(ev)

	job.complete(res.output, err)
}
