package jobs

import (
	"fmt"
	"slices"
)

// Scope names granted to callers.
const (
	ScopeAdmin           = "admin"
	ScopeClusterpost     = "clusterpost"
	ScopeExecutionServer = "executionserver"
)

// Credentials identify the caller of a lifecycle operation.
type Credentials struct {
	Email  string
	Scopes []string
	// ExecutionServer is set when the caller is an execution server agent.
	ExecutionServer string
}

// HasScope reports whether the caller was granted scope.
func (c Credentials) HasScope(scope string) bool { return slices.Contains(c.Scopes, scope) }

// IsServer reports whether the caller is the agent of the named server.
func (c Credentials) IsServer(key string) bool {
	return key != "" && c.ExecutionServer == key && c.HasScope(ScopeExecutionServer)
}

// IsAdmin reports whether the caller holds the administrative override.
func (c Credentials) IsAdmin() bool { return c.HasScope(ScopeAdmin) }

// ValidateOwnership returns ErrUnauthorized unless the caller owns the job,
// holds the admin scope, or is the agent of the job's execution server.
func ValidateOwnership(job *Job, creds Credentials) error {
	if creds.IsAdmin() || creds.IsServer(job.ExecutionServer()) {
		return nil
	}
	if creds.Email == "" || job.Owner() != creds.Email {
		return fmt.Errorf("%w: job %s belongs to someone else", ErrUnauthorized, job.ID())
	}
	return nil
}
