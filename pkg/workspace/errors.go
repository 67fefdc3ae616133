package workspace

import (
	"fmt"

	"github.com/permitops/gitgovern/internal/gitx"
)

// GitTransportError marks git network or authentication failures. The
// caller may retry the operation with fresh credentials.
type GitTransportError struct {
	Op  string
	Err error
}

func (e *GitTransportError) Error() string {
	return fmt.Sprintf("git transport failure during %s: %v", e.Op, e.Err)
}

func (e *GitTransportError) Unwrap() error {
	return e.Err
}

// RepoWorkspaceError is a fatal workspace failure that no retry will
// resolve.
type RepoWorkspaceError struct {
	Op  string
	Err error
}

func (e *RepoWorkspaceError) Error() string {
	return fmt.Sprintf("repo workspace failure during %s: %v", e.Op, e.Err)
}

func (e *RepoWorkspaceError) Unwrap() error {
	return e.Err
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if gitx.IsTransportError(err) {
		return &GitTransportError{Op: op, Err: err}
	}

	return &RepoWorkspaceError{Op: op, Err: err}
}
