package pool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/tagpool/internal/model"
)

func TestQueueFIFO(t *testing.T) {
	q := newQueue[int]()
	for i := range 5 {
		q.put(i)
	}
	if q.len() != 5 {
		t.Fatalf("len = %d, want 5", q.len())
	}
	for i := range 5 {
		if got := q.get(); got != i {
			t.Errorf("get() = %d, want %d", got, i)
		}
	}
}

func TestQueueGetBlocksUntilPut(t *testing.T) {
	q := newQueue[string]()
	got := make(chan string)
	go func() { got <- q.get() }()

	select {
	case v := <-got:
		t.Fatalf("get() returned %q from an empty queue", v)
	case <-time.After(50 * time.Millisecond):
	}

	q.put("hello")
	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("get() = %q, want hello", v)
		}
	case <-time.After(time.Second):
		t.Fatal("get() did not wake after put")
	}
}

func TestQueueManyProducersAndConsumers(t *testing.T) {
	q := newQueue[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := range producers {
		wg.Go(func() {
			for i := range perProducer {
				q.put(p*perProducer + i)
			}
		})
	}

	seen := make([]bool, producers*perProducer)
	var mu sync.Mutex
	var consumers sync.WaitGroup
	for range 4 {
		consumers.Go(func() {
			for {
				v := q.get()
				if v < 0 {
					return
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		})
	}

	wg.Wait()
	for range 4 {
		q.put(-1)
	}
	consumers.Wait()

	for i, ok := range seen {
		if !ok {
			t.Fatalf("item %d was never consumed", i)
		}
	}
}

func TestJobCompletesOnce(t *testing.T) {
	j := newJob(model.TagText{Text: "x"})

	if !j.complete(model.Output{Lines: []string{"first"}}, nil) {
		t.Fatal("first complete() = false")
	}
	if j.complete(model.Output{Lines: []string{"second"}}, errors.New("late")) {
		t.Fatal("second complete() = true")
	}

	out, err := j.Result()
	if err != nil || len(out.Lines) != 1 || out.Lines[0] != "first" {
		t.Errorf("Result() = %v, %v; want first result kept", out, err)
	}
}

func TestJobRegistryTakeRemoves(t *testing.T) {
	r := newJobRegistry()
	j := newJob(model.TagText{})
	r.add(j)

	got, ok := r.take(j.ID())
	if !ok || got != j {
		t.Fatalf("take() = %v, %v; want the job", got, ok)
	}
	if _, ok := r.take(j.ID()); ok {
		t.Error("take() found the job twice")
	}
	if r.len() != 0 {
		t.Errorf("len = %d, want 0", r.len())
	}
}

// stubIsolated runs jobs in-line but routes results through the router.
type stubIsolated struct{}

func (stubIsolated) Name() string   { return "stub" }
func (stubIsolated) validate() error { return nil }
func (stubIsolated) isolated() bool  { return true }
func (stubIsolated) newExecutor(int, *Pool) (executor, error) {
	return stubExecutor{}, nil
}

type stubExecutor struct{}

func (stubExecutor) run(item workItem) resultItem {
	return resultItem{jobID: item.jobID, output: model.Output{Lines: []string{"routed"}}}
}
func (stubExecutor) close() error { return nil }

func TestRouterCompletesRegisteredJobs(t *testing.T) {
	p, err := New(stubIsolated{}, WithWorkers(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()

	j, err := p.TagText("x", model.Options{})
	if err != nil {
		t.Fatalf("TagText: %v", err)
	}
	<-j.Done()

	out, _ := j.Result()
	if len(out.Lines) != 1 || out.Lines[0] != "routed" {
		t.Errorf("Lines = %q, want [routed]", out.Lines)
	}
	if n := p.registry.len(); n != 0 {
		t.Errorf("registry holds %d jobs after completion, want 0", n)
	}
}

func TestRouterUnknownJobIsProtocolError(t *testing.T) {
	errs := make(chan error, 1)
	p, err := New(stubIsolated{}, WithWorkers(1), WithProtocolErrorHandler(func(err error) { errs <- err }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()

	p.results.put(resultItem{jobID: "ghost", workerID: 7})

	select {
	case err := <-errs:
		if !errors.Is(err, ErrUnknownJob) {
			t.Errorf("error = %v, want ErrUnknownJob", err)
		}
		var perr *ProtocolError
		if !errors.As(err, &perr) || perr.JobID != "ghost" || perr.WorkerID != 7 {
			t.Errorf("error = %#v, want ProtocolError for ghost from worker 7", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("protocol error handler not called")
	}
}

// mismatchIsolated reports every result under a wrong id.
type mismatchIsolated struct{ stubIsolated }

func (mismatchIsolated) newExecutor(int, *Pool) (executor, error) {
	return mismatchExecutor{}, nil
}

type mismatchExecutor struct{}

func (mismatchExecutor) run(item workItem) resultItem {
	return resultItem{jobID: "not-" + item.jobID}
}
func (mismatchExecutor) close() error { return nil }

func TestMismatchedResultFailsSentJob(t *testing.T) {
	errs := make(chan error, 1)
	p, err := New(mismatchIsolated{}, WithWorkers(1), WithProtocolErrorHandler(func(err error) { errs <- err }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()

	j, err := p.TagText("x", model.Options{})
	if err != nil {
		t.Fatalf("TagText: %v", err)
	}

	select {
	case <-errs:
	case <-time.After(5 * time.Second):
		t.Fatal("protocol error handler not called")
	}

	// The sent job is completed before the handler runs.
	if !j.Finished() {
		t.Fatal("sent job not finished when the handler ran")
	}
	_, jobErr := j.Result()
	var perr *ProtocolError
	if !errors.Is(jobErr, ErrUnknownJob) || !errors.As(jobErr, &perr) || perr.JobID != "not-"+j.ID() {
		t.Errorf("job error = %v, want ProtocolError for the reported id", jobErr)
	}
	if n := p.registry.len(); n != 0 {
		t.Errorf("registry holds %d jobs, want 0", n)
	}
}

func TestDefaultProtocolErrorHandlerPanics(t *testing.T) {
	p, err := New(stubIsolated{}, WithWorkers(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()

	defer func() {
		if recover() == nil {
			t.Error("default handler did not panic")
		}
	}()
	p.onProtocolError(&ProtocolError{JobID: "ghost"})
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("disk on fire")
	opErr := &OperationError{JobID: "j1", Kind: model.KindTagFile, Err: cause}
	if !errors.Is(opErr, ErrOperationFailed) || !errors.Is(opErr, cause) {
		t.Errorf("OperationError does not match its sentinel and cause: %v", opErr)
	}
	if errors.Is(opErr, ErrInvalidConfig) {
		t.Error("OperationError matches ErrInvalidConfig")
	}

	cfgErr := &ConfigError{Field: "workers", Reason: "must be at least 1"}
	if !errors.Is(cfgErr, ErrInvalidConfig) {
		t.Error("ConfigError does not match ErrInvalidConfig")
	}
}
