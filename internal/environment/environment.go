// Package environment manages the lifecycle of test environments: disposable
// sandboxes holding a fetched project with its runtime and dependencies
// installed, addressable by ID until they are cleaned up.
package environment

import (
	"time"

	"github.com/jkaninda/runbox/internal/runtime"
	"github.com/jkaninda/runbox/internal/sandbox"
)

// Source records how an environment's project tree was obtained.
type Source string

const (
	SourcePath   Source = "path"
	SourceGitHub Source = "github"
)

// Environment is one live test environment. Immutable after creation except
// for the sandbox's internal state.
type Environment struct {
	ID        string          `json:"id"`
	Runtime   runtime.Config  `json:"-"`
	Source    Source          `json:"source"`
	Origin    string          `json:"origin"` // the path or repository URL it was created from
	CreatedAt time.Time       `json:"created_at"`
	Sandbox   *sandbox.Sandbox `json:"-"`
}

// Info is the externally visible description of an environment, returned to
// clients after creation.
type Info struct {
	ID        string    `json:"id"`
	Runtime   string    `json:"runtime"`
	Source    Source    `json:"source"`
	Origin    string    `json:"origin"`
	WorkDir   string    `json:"work_dir"`
	CreatedAt time.Time `json:"created_at"`
}

// Info builds the client-facing view.
func (e *Environment) Info() Info {
	return Info{
		ID:        e.ID,
		Runtime:   string(e.Runtime.Name),
		Source:    e.Source,
		Origin:    e.Origin,
		WorkDir:   e.Sandbox.WorkDir,
		CreatedAt: e.CreatedAt,
	}
}
