package compose

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runtime drives the compose stack and its container engine as black-box
// commands. Every operation maps to one runtime invocation.
type Runtime interface {
	// RenderConfig returns the fully resolved stack configuration
	RenderConfig(ctx context.Context) (string, error)
	// RunningContainers returns the IDs of the stack's running containers
	RunningContainers(ctx context.Context) ([]string, error)
	// Pull fetches current images for all services
	Pull(ctx context.Context) error
	// Up creates or updates the stack's containers
	Up(ctx context.Context, opts UpOptions) error
	// Down stops and removes the stack's containers
	Down(ctx context.Context, opts DownOptions) error
	// ServiceContainer returns the ID of the service's running container,
	// or an empty string when none is up
	ServiceContainer(ctx context.Context, service string) (string, error)
	// ContainerImageID returns the image identifier a container runs
	ContainerImageID(ctx context.Context, containerID string) (string, error)
	// LocalImageIDs returns the identifiers of local images matching ref,
	// most recent first
	LocalImageIDs(ctx context.Context, imageRef string) ([]string, error)
	// IsAvailable checks that the compose command can run at all
	IsAvailable(ctx context.Context) (bool, error)
}

// UpOptions control an Up invocation
type UpOptions struct {
	Build         bool
	RemoveOrphans bool
	Service       string
}

// DownOptions control a Down invocation
type DownOptions struct {
	RemoveOrphans bool
}

// ShellRuntime implements Runtime by shelling out to the configured
// compose command (docker compose by default)
type ShellRuntime struct {
	command []string
	workDir string
	file    string
	project string
}

// NewShellRuntime creates a runtime client. command is the compose
// invocation in argv form, workDir the directory holding the stack, and
// file/project optional compose file and project name overrides.
func NewShellRuntime(command []string, workDir, file, project string) *ShellRuntime {
	return &ShellRuntime{
		command: command,
		workDir: workDir,
		file:    file,
		project: project,
	}
}

// RenderConfig returns the canonical rendering of the stack configuration
func (c *ShellRuntime) RenderConfig(ctx context.Context) (string, error) {
	out, err := c.runQuery(c.composeCmd(ctx, "config"))
	if err != nil {
		return "", fmt.Errorf("compose config failed: %w", err)
	}
	return out, nil
}

// RunningContainers returns the IDs of the stack's running containers
func (c *ShellRuntime) RunningContainers(ctx context.Context) ([]string, error) {
	out, err := c.runQuery(c.composeCmd(ctx, "ps", "-q"))
	if err != nil {
		return nil, fmt.Errorf("compose ps failed: %w", err)
	}
	return splitLines(out), nil
}

// Pull fetches current images for all services
func (c *ShellRuntime) Pull(ctx context.Context) error {
	if err := c.runCommand(c.composeCmd(ctx, "pull")); err != nil {
		return fmt.Errorf("compose pull failed: %w", err)
	}
	return nil
}

// Up creates or updates the stack's containers in detached mode
func (c *ShellRuntime) Up(ctx context.Context, opts UpOptions) error {
	args := []string{"up", "-d"}
	if opts.Build {
		args = append(args, "--build")
	}
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if opts.Service != "" {
		args = append(args, opts.Service)
	}
	if err := c.runCommand(c.composeCmd(ctx, args...)); err != nil {
		return fmt.Errorf("compose up failed: %w", err)
	}
	return nil
}

// Down stops and removes the stack's containers
func (c *ShellRuntime) Down(ctx context.Context, opts DownOptions) error {
	args := []string{"down"}
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if err := c.runCommand(c.composeCmd(ctx, args...)); err != nil {
		return fmt.Errorf("compose down failed: %w", err)
	}
	return nil
}

// ServiceContainer returns the ID of the service's running container.
// An empty string means no container is up for the service.
func (c *ShellRuntime) ServiceContainer(ctx context.Context, service string) (string, error) {
	out, err := c.runQuery(c.composeCmd(ctx, "ps", "-q", service))
	if err != nil {
		return "", fmt.Errorf("compose ps failed for service %s: %w", service, err)
	}
	ids := splitLines(out)
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// ContainerImageID returns the image identifier the container runs
func (c *ShellRuntime) ContainerImageID(ctx context.Context, containerID string) (string, error) {
	out, err := c.runQuery(c.engineCmd(ctx, "inspect", "--format", "{{.Image}}", containerID))
	if err != nil {
		return "", fmt.Errorf("container inspect failed for %s: %w", containerID, err)
	}
	return out, nil
}

// LocalImageIDs returns the identifiers of local images matching ref
func (c *ShellRuntime) LocalImageIDs(ctx context.Context, imageRef string) ([]string, error) {
	out, err := c.runQuery(c.engineCmd(ctx, "image", "ls", "--no-trunc", "--quiet", imageRef))
	if err != nil {
		return nil, fmt.Errorf("image ls failed for %s: %w", imageRef, err)
	}
	return splitLines(out), nil
}

// IsAvailable checks that the compose command can run at all
func (c *ShellRuntime) IsAvailable(ctx context.Context) (bool, error) {
	cmd := c.composeCmd(ctx, "version")
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("compose runtime not available: %w", err)
	}
	return true, nil
}

// composeCmd builds a compose invocation with the configured file and
// project flags inserted before the subcommand
func (c *ShellRuntime) composeCmd(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{}, c.command[1:]...)
	if c.file != "" {
		full = append(full, "-f", c.file)
	}
	if c.project != "" {
		full = append(full, "-p", c.project)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, c.command[0], full...)
	cmd.Dir = c.workDir
	return cmd
}

// engineCmd builds a container engine invocation (docker, podman) for
// operations outside the compose plugin, such as image inspection
func (c *ShellRuntime) engineCmd(ctx context.Context, args ...string) *exec.Cmd {
	engine := c.command
	if len(engine) > 1 && engine[len(engine)-1] == "compose" {
		engine = engine[:len(engine)-1]
	}

	full := append([]string{}, engine[1:]...)
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, engine[0], full...)
	cmd.Dir = c.workDir
	return cmd
}

// runCommand executes a command and returns an error with output on failure
func (c *ShellRuntime) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

// runQuery executes a command and returns its trimmed stdout
func (c *ShellRuntime) runQuery(cmd *exec.Cmd) (string, error) {
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%w: %s", err, string(exitErr.Stderr))
		}
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// splitLines splits command output into non-empty trimmed lines
func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
