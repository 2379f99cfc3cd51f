package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/backend/builtin"
	"github.com/seantiz/tagpool/internal/config"
	"github.com/seantiz/tagpool/internal/model"
	"github.com/seantiz/tagpool/internal/pool"
)

const defaultSentence = "The quick brown fox jumps over the lazy dog near the riverbank at 6 a.m. today."

type benchOptions struct {
	Jobs      int
	Workers   int
	Strategy  string
	Backend   backend.Config
	WorkerBin string
	Text      string
	Logger    *slog.Logger
}

type benchResult struct {
	Jobs      int
	Completed int
	Failed    int
	Lines     int
	Elapsed   time.Duration
	FirstErr  error
}

// Throughput returns finished jobs per second.
func (r benchResult) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Completed+r.Failed) / r.Elapsed.Seconds()
}

func (o benchOptions) strategy() (pool.Strategy, error) {
	switch o.Strategy {
	case config.StrategyInProcess:
		return pool.InProcess{Registry: builtin.NewRegistry(), Backend: o.Backend}, nil
	case config.StrategySubprocess:
		if o.WorkerBin == "" {
			return nil, fmt.Errorf("--worker-bin is required for the %s strategy", config.StrategySubprocess)
		}
		return pool.Subprocess{Path: o.WorkerBin, Backend: o.Backend}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", o.Strategy)
	}
}

// runBench submits o.Jobs copies of o.Text and waits for all of them. Pool
// start-up is not part of the measured time.
func runBench(ctx context.Context, o benchOptions) (benchResult, error) {
	if o.Jobs < 1 {
		return benchResult{}, fmt.Errorf("jobs must be at least 1, got %d", o.Jobs)
	}

	strategy, err := o.strategy()
	if err != nil {
		return benchResult{}, err
	}

	opts := []pool.Option{}
	if o.Workers > 0 {
		opts = append(opts, pool.WithWorkers(o.Workers))
	}
	if o.Logger != nil {
		opts = append(opts, pool.WithLogger(o.Logger))
	}

	p, err := pool.New(strategy, opts...)
	if err != nil {
		return benchResult{}, fmt.Errorf("start pool: %w", err)
	}
	defer p.Stop()

	res := benchResult{Jobs: o.Jobs}
	jobs := make([]*pool.Job, 0, o.Jobs)

	start := time.Now()
	for range o.Jobs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		job, err := p.TagText(o.Text, model.Options{})
		if err != nil {
			return res, fmt.Errorf("submit: %w", err)
		}
		jobs = append(jobs, job)
	}

	for _, job := range jobs {
		if err := job.WaitContext(ctx); err != nil {
			return res, err
		}
		out, err := job.Result()
		if err != nil {
			res.Failed++
			if res.FirstErr == nil {
				res.FirstErr = err
			}
			continue
		}
		res.Completed++
		res.Lines += len(out.Lines)
	}
	res.Elapsed = time.Since(start)

	return res, nil
}
