package pool

import "time"

// runRouter completes jobs from the result queue until it reads a sentinel.
// It is the only reader of the result queue.
//
// A result for an unknown id fails the job the worker was actually given
// before the protocol error handler runs, so no waiter is left behind when
// the handler returns.
func (p *Pool) runRouter() {
	defer close(p.routerDone)

	for {
		res := p.results.get()
		if res.stop {
			return
		}

		job, ok := p.registry.take(res.jobID)
		if !ok {
			perr := &ProtocolError{JobID: res.jobID, WorkerID: res.workerID}
			p.observe(Event{Type: EventProtocolError, Time: time.Now(), JobID: res.jobID, WorkerID: res.workerID, Err: perr})
			if orphan, ok := p.registry.take(res.sentID); ok {
				p.finish(orphan, resultItem{workerID: res.workerID, startedAt: res.startedAt, err: perr})
			}
			p.onProtocolError(perr)
			continue
		}

		p.finish(job, res)
	}
}
