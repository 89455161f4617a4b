package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client provides git operations for repository management
type Client interface {
	// EnsureClone clones the repository at the given branch unless a
	// checkout already exists at destDir
	EnsureClone(ctx context.Context, url, branch, destDir string) error

	// Fetch updates the remote tracking branch
	Fetch(ctx context.Context, url, destDir, branch string) error

	// Head returns the commit ID the local checkout points at
	Head(ctx context.Context, destDir string) (string, error)

	// RemoteHead returns the commit ID of the fetched remote branch tip
	RemoteHead(ctx context.Context, destDir, branch string) (string, error)

	// ResetToRemote hard-resets the checkout to the remote branch tip
	ResetToRemote(ctx context.Context, destDir, branch string) error

	// CommitMessage returns the full commit message of the given ref
	CommitMessage(ctx context.Context, destDir, ref string) (string, error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// EnsureClone clones url at branch into destDir when no checkout exists yet
func (c *ShellClient) EnsureClone(ctx context.Context, url, branch, destDir string) error {
	gitDir := filepath.Join(destDir, ".git")
	if _, err := os.Stat(gitDir); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--branch", branch, url, destDir)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}

// Fetch updates the remote tracking branch from origin
func (c *ShellClient) Fetch(ctx context.Context, url, destDir, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", destDir, "fetch", "origin", branch)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git fetch failed: %w", err)
	}
	return nil
}

// Head returns the commit ID of the local checkout
func (c *ShellClient) Head(ctx context.Context, destDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", destDir, "rev-parse", "HEAD")
	commit, err := c.runQuery(cmd)
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD failed: %w", err)
	}
	return commit, nil
}

// RemoteHead returns the commit ID of the fetched remote branch tip
func (c *ShellClient) RemoteHead(ctx context.Context, destDir, branch string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", destDir, "rev-parse", "origin/"+branch)
	commit, err := c.runQuery(cmd)
	if err != nil {
		return "", fmt.Errorf("git rev-parse origin/%s failed: %w", branch, err)
	}
	return commit, nil
}

// ResetToRemote hard-resets the checkout to the remote branch tip
func (c *ShellClient) ResetToRemote(ctx context.Context, destDir, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", destDir, "reset", "--hard", "origin/"+branch)
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git reset failed: %w", err)
	}
	return nil
}

// CommitMessage returns the full commit message of ref
func (c *ShellClient) CommitMessage(ctx context.Context, destDir, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", destDir, "log", "-1", "--format=%B", ref)
	message, err := c.runQuery(cmd)
	if err != nil {
		return "", fmt.Errorf("git log failed for ref %q: %w", ref, err)
	}
	return message, nil
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// Use GIT_SSH_COMMAND to specify the SSH key.
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		tokenStr := strings.TrimSpace(string(token))

		// Pass the token via environment variable and configure a git
		// credential helper that reads it. This avoids embedding the
		// token directly in a shell expression.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "COMPOSEWATCH_GIT_TOKEN="+tokenStr)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$COMPOSEWATCH_GIT_TOKEN"; }; f`,
		)

		return nil
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with stderr on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

// runQuery executes a command and returns its trimmed stdout
func (c *ShellClient) runQuery(cmd *exec.Cmd) (string, error) {
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%w: %s", err, string(exitErr.Stderr))
		}
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
