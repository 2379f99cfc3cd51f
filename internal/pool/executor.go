package pool

import (
	"time"

	"github.com/seantiz/tagpool/internal/model"
)

// Strategy selects how workers reach their engine. The implementations are
// InProcess and Subprocess.
type Strategy interface {
	// Name identifies the strategy in logs and APIs.
	Name() string

	validate() error

	// isolated reports whether results travel through the router.
	isolated() bool

	newExecutor(workerID int, p *Pool) (executor, error)
}

// executor is the engine side of one worker. It is used by a single
// goroutine and closed exactly once, when its worker exits.
type executor interface {
	run(item workItem) resultItem
	close() error
}

// workItem is one entry of the request queue. job is set only for shared
// memory strategies; isolated workers see plain data.
type workItem struct {
	stop  bool
	jobID string
	op    model.Operation
	job   *Job
}

// resultItem is one entry of the result queue. jobID is the id the executor
// reported; sentID is the id of the item the worker handed it.
type resultItem struct {
	stop      bool
	jobID     string
	sentID    string
	workerID  int
	startedAt time.Time
	output    model.Output
	err       error
}
