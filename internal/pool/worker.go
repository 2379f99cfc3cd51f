package pool

import "time"

// runWorker pulls items until it reads a sentinel, then closes its executor.
func (p *Pool) runWorker(id int, ex executor) {
	p.observe(Event{Type: EventWorkerStarted, Time: time.Now(), WorkerID: id})

	defer func() {
		if err := ex.close(); err != nil {
			p.logger.Warn("close worker engine", "worker_id", id, "error", err)
		}
		p.observe(Event{Type: EventWorkerExited, Time: time.Now(), WorkerID: id})
	}()

	for {
		item := p.requests.get()
		if item.stop {
			return
		}

		started := time.Now()
		p.observe(Event{Type: EventJobStarted, Time: started, JobID: item.jobID, Kind: item.op.Kind(), WorkerID: id})

		res := ex.run(item)
		res.sentID = item.jobID
		res.workerID = id
		res.startedAt = started

		if item.job != nil {
			p.finish(item.job, res)
			continue
		}
		p.results.put(res)
	}
}
