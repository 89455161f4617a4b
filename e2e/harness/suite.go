//go:build e2e

package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	defaultImageTag      = "composewatch-e2e-sut:latest"
	defaultDockerfileDir = "./docker/sut-dind"
	defaultTimeout       = 10 * time.Minute
	defaultOriginDir     = "/e2e/origin"
	defaultStateDir      = "/e2e/state"
)

// Suite orchestrates E2E tests in a docker-in-docker container
type Suite struct {
	// immutable config
	Name          string
	ImageTag      string
	DockerfileDir string
	Timeout       time.Duration
	KeepContainer bool

	// runtime state
	ContainerID string
	OriginDir   string
	StateDir    string

	// optional logger hook
	Logf func(format string, args ...any)

	// test reference
	t *testing.T
}

// SuiteOption configures a Suite
type SuiteOption func(*Suite)

// WithImageTag sets a custom image tag
func WithImageTag(tag string) SuiteOption {
	return func(s *Suite) { s.ImageTag = tag }
}

// WithDockerfileDir sets a custom dockerfile directory
func WithDockerfileDir(dir string) SuiteOption {
	return func(s *Suite) { s.DockerfileDir = dir }
}

// WithTimeout sets a custom suite timeout
func WithTimeout(d time.Duration) SuiteOption {
	return func(s *Suite) { s.Timeout = d }
}

// WithKeepContainer sets whether to keep the container on failure
func WithKeepContainer(v bool) SuiteOption {
	return func(s *Suite) { s.KeepContainer = v }
}

// WithPaths sets custom origin and state directories inside the container
func WithPaths(origin, state string) SuiteOption {
	return func(s *Suite) {
		s.OriginDir = origin
		s.StateDir = state
	}
}

// WithLogf sets a custom logger
func WithLogf(logf func(string, ...any)) SuiteOption {
	return func(s *Suite) { s.Logf = logf }
}

// NewSuite creates a new E2E test suite
func NewSuite(name string, t *testing.T, opts ...SuiteOption) *Suite {
	s := &Suite{
		Name:          name,
		ImageTag:      defaultImageTag,
		DockerfileDir: defaultDockerfileDir,
		Timeout:       defaultTimeout,
		KeepContainer: os.Getenv("E2E_KEEP_CONTAINER") == "1",
		OriginDir:     defaultOriginDir,
		StateDir:      defaultStateDir,
		t:             t,
		Logf:          t.Logf,
	}

	for _, opt := range opts {
		opt(s)
	}

	// Check for env overrides
	if tag := os.Getenv("E2E_SUT_TAG"); tag != "" {
		s.ImageTag = tag
	}
	if timeout := os.Getenv("E2E_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			s.Timeout = d
		}
	}

	return s
}

// BuildImage builds the docker-in-docker SUT container image
func (s *Suite) BuildImage(ctx context.Context) error {
	s.Logf("Building image %s from %s", s.ImageTag, s.DockerfileDir)

	// Get absolute path to project root (one level up from e2e)
	projectRoot, err := filepath.Abs("..")
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	cmd := exec.CommandContext(ctx,
		"docker", "build",
		"-t", s.ImageTag,
		"-f", filepath.Join(s.DockerfileDir, "Dockerfile"),
		projectRoot, // build context is project root
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		s.Logf("build stdout: %s", stdout.String())
		s.Logf("build stderr: %s", stderr.String())
		return fmt.Errorf("docker build: %w", err)
	}

	s.Logf("Image %s built successfully", s.ImageTag)
	return nil
}

// StartContainer starts the docker-in-docker container with required flags
func (s *Suite) StartContainer(ctx context.Context) error {
	s.Logf("Starting container")

	cmd := exec.CommandContext(ctx,
		"docker", "run",
		"-d",
		"--rm",
		"--privileged",
		"-e", "DOCKER_TLS_CERTDIR=",
		s.ImageTag,
	)

	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("docker run: %w", err)
	}

	s.ContainerID = strings.TrimSpace(string(out))
	s.Logf("Container started: %s", s.ContainerID)
	return nil
}

// StopAndRemove stops and removes the container
func (s *Suite) StopAndRemove(ctx context.Context) error {
	if s.ContainerID == "" {
		return nil
	}

	if s.KeepContainer && s.t.Failed() {
		s.Logf("Test failed and E2E_KEEP_CONTAINER=1, keeping container %s", s.ContainerID)
		s.Logf("To inspect: docker exec -it %s /bin/sh", s.ContainerID)
		s.Logf("To cleanup: docker stop %s", s.ContainerID)
		return nil
	}

	s.Logf("Stopping container %s", s.ContainerID)
	cmd := exec.CommandContext(ctx, "docker", "stop", s.ContainerID)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker stop: %w", err)
	}

	return nil
}

// Ready performs the critical readiness probe
func (s *Suite) Ready(ctx context.Context) error {
	s.Logf("Running readiness probe")

	// 1) Wait for the inner docker daemon
	s.Logf("Waiting for dockerd to be ready")
	if err := s.waitForDockerd(ctx); err != nil {
		return fmt.Errorf("dockerd not ready: %w", err)
	}

	// 2) Definitive probe: the compose plugin answers
	s.Logf("Running definitive probe: docker compose version")
	res, err := s.Exec(ctx, "docker", "compose", "version")
	if err != nil {
		s.DumpDiagnostics(ctx)
		return fmt.Errorf("compose probe failed: %w", err)
	}
	if res.ExitCode != 0 {
		s.DumpDiagnostics(ctx)
		return fmt.Errorf("docker compose version failed with exit %d\nstdout: %s\nstderr: %s",
			res.ExitCode, res.Stdout, res.Stderr)
	}

	s.Logf("Readiness probe passed")
	return nil
}

// waitForDockerd waits for the inner docker daemon to answer
func (s *Suite) waitForDockerd(ctx context.Context) error {
	timeout := time.After(2 * time.Minute)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("timeout waiting for dockerd")
		case <-ticker.C:
			res, _ := s.Exec(ctx, "docker", "info")
			if res.ExitCode == 0 {
				s.Logf("dockerd is answering")
				return nil
			}
			s.Logf("dockerd not answering yet (waiting...)")
		}
	}
}

// ExecResult represents the result of a command execution
type ExecResult struct {
	Cmd      []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec executes a command in the container
func (s *Suite) Exec(ctx context.Context, cmd ...string) (ExecResult, error) {
	if s.ContainerID == "" {
		return ExecResult{}, fmt.Errorf("container not started")
	}

	args := append([]string{"exec", s.ContainerID}, cmd...)
	execCmd := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ExecResult{}, fmt.Errorf("exec failed: %w", err)
		}
	}

	return ExecResult{
		Cmd:      cmd,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// MustExec executes a command and fails on non-zero exit
func (s *Suite) MustExec(ctx context.Context, cmd ...string) (ExecResult, error) {
	res, err := s.Exec(ctx, cmd...)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, fmt.Errorf("command failed with exit %d: %v\nstdout: %s\nstderr: %s",
			res.ExitCode, cmd, res.Stdout, res.Stderr)
	}
	return res, nil
}

// WriteFile writes a file into the container
func (s *Suite) WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error {
	// Create parent directory
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if _, err := s.MustExec(ctx, "mkdir", "-p", dir); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}
	}

	// Write file
	cmd := exec.CommandContext(ctx,
		"docker", "exec", "-i", s.ContainerID,
		"sh", "-c", fmt.Sprintf("cat > %s", path),
	)
	cmd.Stdin = bytes.NewReader(content)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	// Set permissions
	if _, err := s.MustExec(ctx, "chmod", fmt.Sprintf("%o", mode), path); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}

	return nil
}
