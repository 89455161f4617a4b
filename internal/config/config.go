package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete composewatch configuration
type Config struct {
	Repo     RepoConfig     `yaml:"repo"`
	Stack    StackConfig    `yaml:"stack"`
	Paths    PathsConfig    `yaml:"paths"`
	Floating FloatingConfig `yaml:"floating"`
	Notify   NotifyConfig   `yaml:"notify"`
	Auth     AuthConfig     `yaml:"auth"`
}

// RepoConfig configures the Git repository source
type RepoConfig struct {
	URL       string `yaml:"url"`
	Branch    string `yaml:"branch"`
	ForceSync *bool  `yaml:"force_sync"`
}

// StackConfig configures the compose stack within the repository
type StackConfig struct {
	Dir     string `yaml:"dir"`
	File    string `yaml:"file"`
	Project string `yaml:"project"`
	Command string `yaml:"command"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	StateDir string `yaml:"state_dir"`
}

// FloatingConfig configures periodic refresh of mutable image tags
type FloatingConfig struct {
	IntervalMinutes int      `yaml:"interval_minutes"`
	Tags            []string `yaml:"tags"`
}

// NotifyConfig configures outbound deployment notifications
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url"`
	MinSeverity string `yaml:"min_severity"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// DefaultFloatingTags are the tag names treated as mutable when no
// explicit list is configured.
var DefaultFloatingTags = []string{"latest", "develop", "edge", "nightly"}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repo.URL = os.ExpandEnv(c.Repo.URL)
	c.Repo.Branch = os.ExpandEnv(c.Repo.Branch)
	c.Stack.Dir = os.ExpandEnv(c.Stack.Dir)
	c.Stack.File = os.ExpandEnv(c.Stack.File)
	c.Stack.Project = os.ExpandEnv(c.Stack.Project)
	c.Stack.Command = os.ExpandEnv(c.Stack.Command)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Notify.WebhookURL = os.ExpandEnv(c.Notify.WebhookURL)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Repo.ForceSync == nil {
		t := true
		c.Repo.ForceSync = &t
	}
	if c.Stack.Command == "" {
		c.Stack.Command = "docker compose"
	}
	if len(c.Floating.Tags) == 0 {
		c.Floating.Tags = append([]string(nil), DefaultFloatingTags...)
	}
	if c.Notify.MinSeverity == "" {
		c.Notify.MinSeverity = "info"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate repo config
	if c.Repo.URL == "" {
		return fmt.Errorf("repo.url is required")
	}
	if c.Repo.Branch == "" {
		return fmt.Errorf("repo.branch is required")
	}

	// Validate paths
	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir is required")
	}
	if !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}

	// The stack dir is relative to the repository checkout
	if c.Stack.Dir != "" && filepath.IsAbs(c.Stack.Dir) {
		return fmt.Errorf("stack.dir must be relative to the repository root: %s", c.Stack.Dir)
	}
	if strings.TrimSpace(c.Stack.Command) == "" {
		return fmt.Errorf("stack.command must not be blank")
	}

	if c.Floating.IntervalMinutes < 0 {
		return fmt.Errorf("floating.interval_minutes must not be negative: %d", c.Floating.IntervalMinutes)
	}
	for _, tag := range c.Floating.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("floating.tags must not contain blank entries")
		}
	}

	switch c.Notify.MinSeverity {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid notify.min_severity: %s (must be debug, info, warn, or error)", c.Notify.MinSeverity)
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth is configured, the URL scheme must match
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but repo.url does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but repo.url does not use HTTPS scheme")
	}

	return nil
}

// ForceSync reports whether the checkout is hard-reset to the remote tip
// on every run.
func (c *Config) ForceSync() bool {
	return c.Repo.ForceSync == nil || *c.Repo.ForceSync
}

// RepoDir returns the path where the git repository is checked out
func (c *Config) RepoDir() string {
	return filepath.Join(c.Paths.StateDir, "repo")
}

// StackDir returns the working directory for compose invocations
func (c *Config) StackDir() string {
	if c.Stack.Dir == "" {
		return c.RepoDir()
	}
	return filepath.Join(c.RepoDir(), c.Stack.Dir)
}

// RuntimeCommand returns the compose command split into argv form
func (c *Config) RuntimeCommand() []string {
	return strings.Fields(c.Stack.Command)
}

// FloatingInterval returns the refresh interval, zero when disabled
func (c *Config) FloatingInterval() time.Duration {
	return time.Duration(c.Floating.IntervalMinutes) * time.Minute
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the repo URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Repo.URL, "https://")
}

// IsSSH returns true if the repo URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Repo.URL, "git@") || strings.HasPrefix(c.Repo.URL, "ssh://")
}
