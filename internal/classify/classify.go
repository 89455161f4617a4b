// Package classify is the decision core: it turns one run's observations
// into exactly one deployment action. The precedence is fixed and
// evaluated top to bottom. Operator overrides outrank automatic change
// detection, and destructive actions outrank additive ones.
package classify

import (
	"github.com/composewatch/composewatch/internal/directive"
)

// Kind enumerates the deployment actions.
type Kind int

const (
	NoAction Kind = iota
	ForcedUp
	FloatingRefresh
	Skip
	FullRestart
	RestartService
	ForcedFullRestart
	ForcedUpdate
	SafeUpdate
	SafeUp
)

// String returns the action label used in reports.
func (k Kind) String() string {
	switch k {
	case NoAction:
		return "no-action"
	case ForcedUp:
		return "forced-up"
	case FloatingRefresh:
		return "floating-refresh"
	case Skip:
		return "skip"
	case FullRestart:
		return "full-restart"
	case RestartService:
		return "restart-service"
	case ForcedFullRestart:
		return "forced-full-restart"
	case ForcedUpdate:
		return "forced-update"
	case SafeUpdate:
		return "safe-update"
	case SafeUp:
		return "safe-up"
	}
	return "unknown"
}

// Action is the single decision produced per run. Service is set only
// for RestartService.
type Action struct {
	Kind    Kind
	Service string
}

// String returns the report label, including the target service for
// service-scoped restarts.
func (a Action) String() string {
	if a.Kind == RestartService && a.Service != "" {
		return a.Kind.String() + ":" + a.Service
	}
	return a.Kind.String()
}

// AttachesCommit reports whether the outcome report for this action
// carries the triggering commit's details. Forced and floating paths are
// not commit-driven; no-action reports have nothing to attach.
func (a Action) AttachesCommit() bool {
	switch a.Kind {
	case Skip, FullRestart, RestartService, ForcedFullRestart, ForcedUpdate, SafeUpdate, SafeUp:
		return true
	}
	return false
}

// Deploys reports whether a successful execution of this action records
// the current snapshot and hash as the new deployed state.
func (a Action) Deploys() bool {
	switch a.Kind {
	case ForcedUp, FullRestart, RestartService, ForcedFullRestart, ForcedUpdate, SafeUpdate, SafeUp:
		return true
	}
	return false
}

// Inputs are one run's observations, gathered before classification.
type Inputs struct {
	// ForcedUp is the caller-supplied override flag.
	ForcedUp bool
	// RepoChanged is true when the local and remote commits differed
	// before any reset this run.
	RepoChanged bool
	// HasPrevSnapshot is true when a previous snapshot text is recorded.
	HasPrevSnapshot bool
	// HashChanged is true when a previous hash is recorded and the
	// current rendering hashes differently.
	HashChanged bool
	// RemovalDetected is true when the change removes a named resource.
	RemovalDetected bool
	// FloatingDue is true when a floating-tag staleness check is due.
	FloatingDue bool
	// Running is true when the stack has running containers.
	Running bool
	// Directives are the markers parsed from the latest commit message.
	Directives directive.Set
}

// Classify maps one run's observations to exactly one action, first
// match wins:
//
//  1. forced-up override
//  2. unchanged repo with known snapshot and nothing due: no action,
//     or first deployment when nothing is running
//  3. floating refresh due
//  4. skip directive
//  5. full-restart directive
//  6. service-restart directive
//  7. forced-update directive
//  8. content change: full restart on resource removal, safe update
//     otherwise
//  9. safe up
func Classify(in Inputs) Action {
	if in.ForcedUp {
		return Action{Kind: ForcedUp}
	}

	if !in.RepoChanged && in.HasPrevSnapshot && !in.FloatingDue {
		if !in.Running {
			return Action{Kind: SafeUp}
		}
		return Action{Kind: NoAction}
	}

	if in.FloatingDue {
		return Action{Kind: FloatingRefresh}
	}

	if in.Directives.Skip {
		return Action{Kind: Skip}
	}
	if in.Directives.FullRestart {
		return Action{Kind: ForcedFullRestart}
	}
	if in.Directives.RestartTarget != "" {
		return Action{Kind: RestartService, Service: in.Directives.RestartTarget}
	}
	if in.Directives.ForceUpdate {
		return Action{Kind: ForcedUpdate}
	}

	if in.HashChanged {
		if in.RemovalDetected {
			return Action{Kind: FullRestart}
		}
		return Action{Kind: SafeUpdate}
	}

	return Action{Kind: SafeUp}
}
