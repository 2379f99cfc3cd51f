package backend

import (
	"context"
	"errors"

	"github.com/seantiz/tagpool/internal/model"
)

// ErrEngine marks failures reported by the tagging engine itself, as opposed
// to I/O errors around it.
var ErrEngine = errors.New("engine failure")

// ErrClosed is returned by Tag after Close.
var ErrClosed = errors.New("backend closed")

// Backend is a single engine instance. Implementations need not be safe for
// concurrent use: the pool gives each worker its own instance.
type Backend interface {
	// Tag annotates text and returns one tagged line per token.
	Tag(ctx context.Context, text string, opts model.Options) ([]string, error)

	// Capabilities reports static information about the engine.
	Capabilities() Capabilities

	// Close releases the engine. It is idempotent and never panics.
	Close() error
}

// Capabilities describes an engine instance.
type Capabilities struct {
	Name     string `json:"name"`
	Lang     string `json:"lang,omitempty"`
	External bool   `json:"external"`
}

// Config holds the construction parameters of an engine. It is plain data so
// it can be shipped to a worker process that builds its own instance.
type Config struct {
	Name string            `json:"name"`
	Bin  string            `json:"bin,omitempty"`
	Args []string          `json:"args,omitempty"`
	Lang string            `json:"lang,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

// Factory builds a fresh engine instance from cfg.
type Factory func(cfg Config) (Backend, error)
