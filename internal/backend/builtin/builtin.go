// Package builtin assembles the registry of engines shipped with tagpool.
package builtin

import (
	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/backend/echo"
	"github.com/seantiz/tagpool/internal/backend/treetagger"
)

// NewRegistry returns a registry with every bundled engine registered.
func NewRegistry() *backend.Registry {
	reg := backend.NewRegistry()
	reg.Register(echo.Name, echo.New)
	reg.Register(treetagger.Name, treetagger.New)
	return reg
}
