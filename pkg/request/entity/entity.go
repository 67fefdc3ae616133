// Package entity holds the request entity and its state machine
// vocabulary as a leaf package, so both the orchestrator in
// pkg/request and the persistence surface in pkg/store can import it
// without forming a cycle.
package entity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnauthorized rejects a transition whose actor or state
// precondition does not hold. Surfaced to the caller, never retried.
var ErrUnauthorized = errors.New("unauthorized request transition")

type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
	StatusExpired  Status = "Expired"
	StatusRunning  Status = "Running"
	StatusFailed   Status = "Failed"
)

// Terminal reports whether no further transition leaves the status.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Request is one user-submitted bundle of change-type instantiations,
// realized as an isolated Git branch and an external pull request.
type Request struct {
	ID               uuid.UUID
	TenantID         string
	RepoName         string
	PullRequestID    int64
	PullRequestURL   string
	Status           Status
	AllowedApprovers []string
	CreatedBy        string
	ApprovedBy       string
	Justification    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ActorIsApprover checks group intersection with the allow list.
func (r *Request) ActorIsApprover(groups []string) bool {
	allowed := make(map[string]bool, len(r.AllowedApprovers))
	for _, g := range r.AllowedApprovers {
		allowed[g] = true
	}
	for _, g := range groups {
		if allowed[g] {
			return true
		}
	}

	return false
}
