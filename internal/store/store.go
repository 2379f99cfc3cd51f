package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/tagpool/internal/model"
)

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// JobStats holds aggregate job statistics.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	TotalLines    int            `json:"total_lines"`
}

// Store persists the lifecycle journal of jobs.
type Store interface {
	CreateJob(ctx context.Context, rec *model.JobRecord) error
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.JobRecord, int, error)
	MarkStarted(ctx context.Context, id string, workerID int, at time.Time) error
	MarkFinished(ctx context.Context, id string, res Finish) error
	GetJobStats(ctx context.Context) (*JobStats, error)
	PruneFinished(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Finish describes how a job ended.
type Finish struct {
	Status     string
	Error      string
	LineCount  int
	DurationMS int
	At         time.Time
}
