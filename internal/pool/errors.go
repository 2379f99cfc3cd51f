package pool

import (
	"errors"
	"fmt"

	"github.com/seantiz/tagpool/internal/model"
)

var (
	// ErrPoolStopped is returned by Submit once Stop has begun.
	ErrPoolStopped = errors.New("pool is stopped")

	// ErrInvalidConfig matches every *ConfigError.
	ErrInvalidConfig = errors.New("invalid pool configuration")

	// ErrInvalidOperation is returned by Submit for nil or malformed operations.
	ErrInvalidOperation = model.ErrInvalidOperation

	// ErrOperationFailed matches every *OperationError.
	ErrOperationFailed = errors.New("operation failed")

	// ErrUnknownJob matches every *ProtocolError.
	ErrUnknownJob = errors.New("result for unknown job")

	// ErrNotFinished is returned by Job.Result before the job completes.
	ErrNotFinished = errors.New("job not finished")

	// ErrWorkerExited fails a job whose worker process died or could not be
	// restarted.
	ErrWorkerExited = errors.New("worker process exited")
)

// ConfigError reports an invalid pool setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid pool configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// OperationError is the failure outcome of a job. Err is what the engine, the
// file layer or the worker reported.
type OperationError struct {
	JobID string
	Kind  model.OpKind
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("job %s (%s): %v", e.JobID, e.Kind, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func (e *OperationError) Is(target error) bool { return target == ErrOperationFailed }

// ProtocolError means the router received a result for a job id it does not
// know. It indicates a broken invariant and is fatal by default.
type ProtocolError struct {
	JobID    string
	WorkerID int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("result for unknown job %q from worker %d", e.JobID, e.WorkerID)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrUnknownJob }
