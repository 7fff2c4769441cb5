// Package agent defines the role invocation boundary: the Invoker interface,
// the error taxonomy for classifying backend failures, the retry envelope,
// and the default langchaingo-backed implementation.
package agent

import "context"

// Role is one of the four pipeline roles. Role values double as
// configuration keys and ledger labels.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleImplementer Role = "implementer"
	RoleReviewer    Role = "reviewer"
	RoleTechWriter  Role = "tech_writer"
)

// UsesTools reports whether a role gets filesystem/shell capabilities. Only
// the implementer and tech writer mutate anything; planner and reviewer are
// judge-only by construction.
func (r Role) UsesTools() bool {
	return r == RoleImplementer || r == RoleTechWriter
}

// Invoker is the agent-execution boundary: one blocking call that consumes a
// prompt and returns free-form report text. Implementations must wrap
// connectivity-class failures with ErrTransient and report turn-ceiling
// breaches as *TurnsExceededError.
type Invoker interface {
	Invoke(ctx context.Context, role Role, prompt string, maxTurns int) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, role Role, prompt string, maxTurns int) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, role Role, prompt string, maxTurns int) (string, error) {
	return f(ctx, role, prompt, maxTurns)
}
