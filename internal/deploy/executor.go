package deploy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/composewatch/composewatch/internal/classify"
	"github.com/composewatch/composewatch/internal/compose"
)

// Executor maps a classified action to the ordered runtime calls that
// realize it. It owns only the sequencing and conditionality; the calls
// themselves are delegated to the runtime.
type Executor struct {
	runtime compose.Runtime
	logger  *slog.Logger
}

// NewExecutor creates an executor over the given runtime.
func NewExecutor(runtime compose.Runtime, logger *slog.Logger) *Executor {
	return &Executor{runtime: runtime, logger: logger}
}

// Execute performs the runtime operations for the action. imagesChanged
// gates the pull that precedes restart and update actions: pulling is
// pointless when the content change did not touch any image reference.
// Floating refreshes are handled by their own path, not here.
func (x *Executor) Execute(ctx context.Context, action classify.Action, imagesChanged bool) error {
	switch action.Kind {
	case classify.NoAction, classify.Skip:
		return nil

	case classify.ForcedUp, classify.SafeUp:
		x.logger.Info("bringing stack up")
		return x.runtime.Up(ctx, compose.UpOptions{})

	case classify.FullRestart, classify.ForcedFullRestart:
		x.logger.Info("tearing down stack", "remove_orphans", true)
		if err := x.runtime.Down(ctx, compose.DownOptions{RemoveOrphans: true}); err != nil {
			return fmt.Errorf("failed to tear down stack: %w", err)
		}
		if err := x.pullIfNeeded(ctx, imagesChanged); err != nil {
			return err
		}
		x.logger.Info("recreating stack", "build", true)
		return x.runtime.Up(ctx, compose.UpOptions{Build: true})

	case classify.RestartService:
		x.logger.Info("recreating service", "service", action.Service)
		return x.runtime.Up(ctx, compose.UpOptions{Build: true, Service: action.Service})

	case classify.ForcedUpdate, classify.SafeUpdate:
		if err := x.pullIfNeeded(ctx, imagesChanged); err != nil {
			return err
		}
		x.logger.Info("updating stack in place", "build", true)
		return x.runtime.Up(ctx, compose.UpOptions{Build: true})
	}

	return fmt.Errorf("no execution defined for action %q", action)
}

func (x *Executor) pullIfNeeded(ctx context.Context, imagesChanged bool) error {
	if !imagesChanged {
		return nil
	}
	x.logger.Info("pulling updated images")
	if err := x.runtime.Pull(ctx); err != nil {
		return fmt.Errorf("failed to pull images: %w", err)
	}
	return nil
}
