//go:build !linux

package engine

import (
	"context"
	"errors"
	"fmt"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
)

// errNoSandbox is returned by every call on a non-linux host. The service
// still starts so that the HTTP surface and status reads keep working.
var errNoSandbox = fmt.Errorf("sandbox needs linux namespaces and cgroups: %w", errors.ErrUnsupported)

type unsupportedEngine struct{}

func NewEngine(Config) (Engine, error) {
	return unsupportedEngine{}, nil
}

func (unsupportedEngine) Run(context.Context, spec.RunSpec) (result.RunResult, error) {
	return result.RunResult{}, errNoSandbox
}

func (unsupportedEngine) KillSubmission(context.Context, string) error {
	return errNoSandbox
}
