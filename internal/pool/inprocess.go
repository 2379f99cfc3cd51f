package pool

import (
	"context"
	"fmt"

	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/model"
)

// InProcess runs one engine per worker inside this process. Each worker
// builds its own instance from Registry using Backend.
type InProcess struct {
	Registry *backend.Registry
	Backend  backend.Config
}

func (s InProcess) Name() string { return "inprocess" }

func (s InProcess) validate() error {
	if s.Registry == nil {
		return &ConfigError{Field: "registry", Reason: "required for inprocess strategy"}
	}
	if !s.Registry.Has(s.Backend.Name) {
		return &ConfigError{Field: "backend", Reason: fmt.Sprintf("%q is not registered", s.Backend.Name)}
	}
	return nil
}

func (s InProcess) isolated() bool { return false }

func (s InProcess) newExecutor(_ int, _ *Pool) (executor, error) {
	b, err := s.Registry.New(s.Backend)
	if err != nil {
		return nil, err
	}
	return &localExecutor{backend: b}, nil
}

type localExecutor struct {
	backend backend.Backend
}

func (e *localExecutor) run(item workItem) resultItem {
	out, err := e.invoke(item.op)
	return resultItem{jobID: item.jobID, output: out, err: err}
}

// invoke calls the engine. A panic becomes the job's error so one bad input
// cannot take the worker down.
func (e *localExecutor) invoke(op model.Operation) (out model.Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("engine panicked: %v", rec)
		}
	}()
	return backend.Invoke(context.Background(), e.backend, op)
}

func (e *localExecutor) close() error {
	return e.backend.Close()
}
