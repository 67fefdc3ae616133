// Package request models self-service requests and drives their
// branch/pull-request lifecycle.
package request

import (
	"github.com/permitops/gitgovern/pkg/request/entity"
)

// The entity and its state machine vocabulary live in the leaf
// package entity so pkg/store can share them without importing this
// package; the aliases below keep this package's surface unchanged.

// ErrUnauthorized rejects a transition whose actor or state
// precondition does not hold. Surfaced to the caller, never retried.
var ErrUnauthorized = entity.ErrUnauthorized

type Status = entity.Status

const (
	StatusPending  = entity.StatusPending
	StatusApproved = entity.StatusApproved
	StatusRejected = entity.StatusRejected
	StatusExpired  = entity.StatusExpired
	StatusRunning  = entity.StatusRunning
	StatusFailed   = entity.StatusFailed
)

// Request is one user-submitted bundle of change-type instantiations,
// realized as an isolated Git branch and an external pull request.
type Request = entity.Request
