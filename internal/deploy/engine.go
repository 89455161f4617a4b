// Package deploy runs one complete decision pass: sync the repository,
// snapshot the rendered stack, classify the required action, execute it
// and persist the markers that the next run compares against. Each run
// is a single linear pass; durable memory lives only in the state store.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/composewatch/composewatch/internal/classify"
	"github.com/composewatch/composewatch/internal/compose"
	"github.com/composewatch/composewatch/internal/config"
	"github.com/composewatch/composewatch/internal/directive"
	"github.com/composewatch/composewatch/internal/floating"
	"github.com/composewatch/composewatch/internal/git"
	"github.com/composewatch/composewatch/internal/report"
	"github.com/composewatch/composewatch/internal/snapshot"
	"github.com/composewatch/composewatch/internal/state"
)

// Options are the per-invocation overrides from the command line.
type Options struct {
	// ForceUp brings the stack up without any git comparison.
	ForceUp bool
	// DryRun classifies and reports but never resets the checkout,
	// executes runtime changes or persists markers.
	DryRun bool
}

// Engine orchestrates a single run
type Engine struct {
	cfg      *config.Config
	git      git.Client
	runtime  compose.Runtime
	store    *state.Store
	executor *Executor
	notifier report.Notifier
	logger   *slog.Logger
	opts     Options
}

// NewEngine creates a new deployment engine
func NewEngine(cfg *config.Config, gitClient git.Client, runtime compose.Runtime, store *state.Store, notifier report.Notifier, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		cfg:      cfg,
		git:      gitClient,
		runtime:  runtime,
		store:    store,
		executor: NewExecutor(runtime, logger),
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// Run executes one decision pass. Any failure is reported once through
// the notifier before it is returned.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.run(ctx); err != nil {
		e.report(ctx, report.Event{
			Title:    "run failed",
			Message:  err.Error(),
			Severity: report.SeverityError,
			Time:     time.Now(),
		})
		return err
	}
	return nil
}

func (e *Engine) run(ctx context.Context) error {
	e.logger.Info("starting run",
		"repo", e.cfg.Repo.URL,
		"branch", e.cfg.Repo.Branch,
		"force_up", e.opts.ForceUp,
		"dry_run", e.opts.DryRun)

	// The lock file lives inside the state directory, so the directory
	// must exist before the lock can be taken.
	if err := e.store.Ensure(); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	locked, err := e.store.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		e.logger.Warn("another run holds the lock, skipping", "state_dir", e.store.Dir())
		return nil
	}
	defer func() {
		if err := e.store.Unlock(); err != nil {
			e.logger.Warn("failed to release run lock", "error", err)
		}
	}()

	available, err := e.runtime.IsAvailable(ctx)
	if err != nil {
		return fmt.Errorf("runtime preflight failed: %w", err)
	}
	if !available {
		return errors.New("runtime preflight failed: compose command not available")
	}

	if err := e.git.EnsureClone(ctx, e.cfg.Repo.URL, e.cfg.Repo.Branch, e.cfg.RepoDir()); err != nil {
		return fmt.Errorf("failed to ensure checkout: %w", err)
	}

	inputs := classify.Inputs{ForcedUp: e.opts.ForceUp}
	var commit *report.Commit

	if !e.opts.ForceUp {
		commit, inputs.RepoChanged, inputs.Directives, err = e.syncRepository(ctx)
		if err != nil {
			return err
		}
	}

	rendered, err := e.runtime.RenderConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to render stack config: %w", err)
	}
	snap, err := snapshot.New(rendered)
	if err != nil {
		return fmt.Errorf("failed to parse rendered config: %w", err)
	}

	prevHash, prevHashOK, err := e.store.LoadHash()
	if err != nil {
		return fmt.Errorf("failed to load hash marker: %w", err)
	}
	prevSnapshot, prevSnapshotOK, err := e.store.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("failed to load snapshot marker: %w", err)
	}
	lastPull, _, err := e.store.LoadLastPull()
	if err != nil {
		return fmt.Errorf("failed to load floating pull marker: %w", err)
	}

	inputs.HasPrevSnapshot = prevSnapshotOK
	inputs.HashChanged = prevHashOK && prevHash != snap.Hash
	inputs.RemovalDetected = snapshot.RemovalDetected(prevSnapshot, prevSnapshotOK, snap.Text)

	floatingServices := floating.Scan(snap.Project, e.cfg.Floating.Tags)
	inputs.FloatingDue = floating.Due(len(floatingServices) > 0, lastPull, e.cfg.FloatingInterval(), time.Now())

	containers, err := e.runtime.RunningContainers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running containers: %w", err)
	}
	inputs.Running = len(containers) > 0

	action := classify.Classify(inputs)
	e.logger.Info("classified action",
		"action", action.String(),
		"repo_changed", inputs.RepoChanged,
		"hash_changed", inputs.HashChanged,
		"removal_detected", inputs.RemovalDetected,
		"floating_due", inputs.FloatingDue,
		"running", inputs.Running)

	if e.opts.DryRun {
		e.report(ctx, dryRunEvent(action, commit))
		e.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	if action.Kind == classify.FloatingRefresh {
		return e.refreshFloating(ctx, floatingServices)
	}

	imagesChanged := inputs.HashChanged && snap.HasImages()
	if err := e.executor.Execute(ctx, action, imagesChanged); err != nil {
		return err
	}

	if action.Deploys() {
		if err := e.store.SaveDeployState(snap.Hash, snap.Text); err != nil {
			return fmt.Errorf("failed to save deploy state: %w", err)
		}
	}

	e.report(ctx, outcomeEvent(action, commit))
	e.logger.Info("run completed", "action", action.String())
	return nil
}

// syncRepository fetches the tracked branch and reads the local and
// remote heads before any reset, so an unchanged repository is still
// detectable when the checkout is force-synced afterwards.
func (e *Engine) syncRepository(ctx context.Context) (*report.Commit, bool, directive.Set, error) {
	repoDir := e.cfg.RepoDir()
	branch := e.cfg.Repo.Branch

	if err := e.git.Fetch(ctx, e.cfg.Repo.URL, repoDir, branch); err != nil {
		return nil, false, directive.Set{}, fmt.Errorf("failed to fetch repository: %w", err)
	}

	local, err := e.git.Head(ctx, repoDir)
	if err != nil {
		return nil, false, directive.Set{}, fmt.Errorf("failed to read local commit: %w", err)
	}
	remote, err := e.git.RemoteHead(ctx, repoDir, branch)
	if err != nil {
		return nil, false, directive.Set{}, fmt.Errorf("failed to read remote commit: %w", err)
	}
	changed := local != remote

	// Whatever the remote holds is what a force-synced run deploys, so
	// the commit under consideration is the remote tip. Without force
	// sync the checkout is operator-managed and HEAD is authoritative.
	ref, commitID := "HEAD", local
	if e.cfg.ForceSync() {
		ref, commitID = "origin/"+branch, remote
		if !e.opts.DryRun {
			if err := e.git.ResetToRemote(ctx, repoDir, branch); err != nil {
				return nil, false, directive.Set{}, fmt.Errorf("failed to reset checkout: %w", err)
			}
		}
	}

	message, err := e.git.CommitMessage(ctx, repoDir, ref)
	if err != nil {
		return nil, false, directive.Set{}, fmt.Errorf("failed to read commit message: %w", err)
	}

	e.logger.Info("repository synced",
		"local", local,
		"remote", remote,
		"changed", changed)

	return &report.Commit{ID: commitID, Message: message}, changed, directive.Parse(message), nil
}

// refreshFloating runs the floating-tag path. The pull timestamp is
// stamped whether or not any image changed: staleness tracking is about
// check frequency, not change frequency.
func (e *Engine) refreshFloating(ctx context.Context, services []floating.Service) error {
	e.logger.Info("refreshing floating images", "services", len(services))

	result, err := floating.Refresh(ctx, e.runtime, services)
	if err != nil {
		return err
	}

	if err := e.store.SaveLastPull(time.Now()); err != nil {
		return fmt.Errorf("failed to save floating pull marker: %w", err)
	}

	e.report(ctx, floatingEvent(result))
	e.logger.Info("run completed",
		"action", classify.Action{Kind: classify.FloatingRefresh}.String(),
		"updated", len(result.Updated),
		"recreated", result.Recreated)
	return nil
}

func (e *Engine) report(ctx context.Context, event report.Event) {
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Warn("failed to deliver notification", "error", err)
	}
}

func outcomeEvent(action classify.Action, commit *report.Commit) report.Event {
	event := report.Event{
		Severity: report.SeverityInfo,
		Action:   action.String(),
		Time:     time.Now(),
	}
	if action.AttachesCommit() {
		event.Commit = commit
	}

	switch action.Kind {
	case classify.NoAction:
		event.Title = "no changes detected"
		event.Message = "stack is up to date"
		event.Severity = report.SeverityDebug
	case classify.Skip:
		event.Title = "deployment skipped"
		event.Message = "latest commit requested no deployment"
	case classify.ForcedUp:
		event.Title = "stack forced up"
		event.Message = "stack brought up without repository comparison"
	default:
		event.Title = "stack deployed"
		event.Message = fmt.Sprintf("executed %s", action)
	}
	return event
}

func dryRunEvent(action classify.Action, commit *report.Commit) report.Event {
	event := report.Event{
		Title:    "dry-run decision",
		Message:  fmt.Sprintf("would execute %s", action),
		Severity: report.SeverityInfo,
		Action:   action.String(),
		Time:     time.Now(),
	}
	if action.AttachesCommit() {
		event.Commit = commit
	}
	return event
}

func floatingEvent(result *floating.Result) report.Event {
	event := report.Event{
		Title:    "floating images refreshed",
		Message:  "all floating images unchanged",
		Severity: report.SeverityInfo,
		Action:   classify.Action{Kind: classify.FloatingRefresh}.String(),
		Time:     time.Now(),
	}
	if len(result.Updated) > 0 {
		names := make([]string, 0, len(result.Updated))
		for _, svc := range result.Updated {
			names = append(names, svc.Name+" ("+svc.Image+")")
		}
		event.Message = "stack recreated for updated images"
		event.Fields = map[string]string{"updated": strings.Join(names, ", ")}
	}
	return event
}
