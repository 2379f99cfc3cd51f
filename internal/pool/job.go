package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/tagpool/internal/model"
)

// Job is the handle of one submitted operation. It moves from pending to
// finished exactly once; its result is immutable afterwards.
type Job struct {
	id          string
	op          model.Operation
	submittedAt time.Time

	once     sync.Once
	done     chan struct{}
	finished atomic.Bool
	output   model.Output
	err      error
}

func newJob(op model.Operation) *Job {
	return &Job{
		id:          model.NewID(),
		op:          op,
		submittedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// ID returns the pool-wide unique job id.
func (j *Job) ID() string { return j.id }

// Operation returns the snapshot of the submitted operation.
func (j *Job) Operation() model.Operation { return j.op }

// SubmittedAt returns when the job was accepted.
func (j *Job) SubmittedAt() time.Time { return j.submittedAt }

// Finished reports whether the job has completed. Once it returns true, Result
// observes the final outcome.
func (j *Job) Finished() bool { return j.finished.Load() }

// Done returns a channel closed when the job completes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job completes.
func (j *Job) Wait() { <-j.done }

// WaitContext blocks until the job completes or ctx ends. Giving up does not
// cancel the job.
func (j *Job) WaitContext(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the job outcome. Before completion it returns ErrNotFinished
// without blocking. A failed job returns an *OperationError.
func (j *Job) Result() (model.Output, error) {
	if !j.finished.Load() {
		return model.Output{}, ErrNotFinished
	}
	return j.output, j.err
}

// complete stores the outcome and releases waiters. Only the first call has
// any effect; it reports whether this call was it.
func (j *Job) complete(out model.Output, err error) bool {
	first := false
	j.once.Do(func() {
		j.output = out
		j.err = err
		j.finished.Store(true)
		close(j.done)
		first = true
	})
	return first
}

// jobRegistry maps ids of in-flight jobs to their handles for the router.
type jobRegistry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*Job)}
}

func (r *jobRegistry) add(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.id] = j
}

// take removes and returns the job registered under id.
func (r *jobRegistry) take(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	return j, ok
}

func (r *jobRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
