package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	content := `
repo:
  url: "git@github.com:test/stack.git"
  branch: "main"

stack:
  dir: "deploy"
  project: "shop"

paths:
  state_dir: "/var/lib/composewatch/shop"

floating:
  interval_minutes: 60
  tags: ["latest", "edge"]

notify:
  webhook_url: "https://hooks.example.com/deploy"

auth:
  ssh_key_file: "/home/user/.ssh/key"
`

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify loaded values
	if cfg.Repo.URL != "git@github.com:test/stack.git" {
		t.Errorf("expected URL git@github.com:test/stack.git, got %s", cfg.Repo.URL)
	}
	if !cfg.ForceSync() {
		t.Error("expected force_sync to default to true")
	}
	if cfg.Stack.Command != "docker compose" {
		t.Errorf("expected default runtime command, got %q", cfg.Stack.Command)
	}
	if cfg.Floating.IntervalMinutes != 60 {
		t.Errorf("expected interval 60, got %d", cfg.Floating.IntervalMinutes)
	}
	if len(cfg.Floating.Tags) != 2 || cfg.Floating.Tags[0] != "latest" {
		t.Errorf("expected explicit tag list to survive, got %v", cfg.Floating.Tags)
	}
	if cfg.Notify.MinSeverity != "info" {
		t.Errorf("expected default min_severity info, got %s", cfg.Notify.MinSeverity)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Repo: RepoConfig{
				URL:    "git@github.com:test/stack.git",
				Branch: "main",
			},
			Stack: StackConfig{
				Command: "docker compose",
			},
			Paths: PathsConfig{
				StateDir: "/absolute/state",
			},
			Notify: NotifyConfig{
				MinSeverity: "info",
			},
			Auth: AuthConfig{
				SSHKeyFile: "/key",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing repo URL",
			mutate:  func(c *Config) { c.Repo.URL = "" },
			wantErr: true,
		},
		{
			name:    "missing branch",
			mutate:  func(c *Config) { c.Repo.Branch = "" },
			wantErr: true,
		},
		{
			name:    "missing state_dir",
			mutate:  func(c *Config) { c.Paths.StateDir = "" },
			wantErr: true,
		},
		{
			name:    "relative state_dir",
			mutate:  func(c *Config) { c.Paths.StateDir = "relative/state" },
			wantErr: true,
		},
		{
			name:    "absolute stack dir",
			mutate:  func(c *Config) { c.Stack.Dir = "/etc/stack" },
			wantErr: true,
		},
		{
			name:    "blank runtime command",
			mutate:  func(c *Config) { c.Stack.Command = "   " },
			wantErr: true,
		},
		{
			name:    "negative floating interval",
			mutate:  func(c *Config) { c.Floating.IntervalMinutes = -5 },
			wantErr: true,
		},
		{
			name:    "blank floating tag",
			mutate:  func(c *Config) { c.Floating.Tags = []string{"latest", " "} },
			wantErr: true,
		},
		{
			name:    "invalid min_severity",
			mutate:  func(c *Config) { c.Notify.MinSeverity = "loud" },
			wantErr: true,
		},
		{
			name: "no auth method is valid for public repos",
			mutate: func(c *Config) {
				c.Repo.URL = "https://github.com/test/stack.git"
				c.Auth = AuthConfig{}
			},
			wantErr: false,
		},
		{
			name: "both ssh key and https token set",
			mutate: func(c *Config) {
				c.Auth.HTTPSTokenFile = "/token"
			},
			wantErr: true,
		},
		{
			name: "ssh key with https url",
			mutate: func(c *Config) {
				c.Repo.URL = "https://github.com/test/stack.git"
			},
			wantErr: true,
		},
		{
			name: "https token with ssh url",
			mutate: func(c *Config) {
				c.Auth = AuthConfig{HTTPSTokenFile: "/token"}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigHelpers(t *testing.T) {
	cfg := Config{
		Paths: PathsConfig{
			StateDir: "/var/lib/composewatch/shop",
		},
		Stack: StackConfig{
			Command: "podman compose",
		},
		Floating: FloatingConfig{
			IntervalMinutes: 30,
		},
	}

	if got := cfg.RepoDir(); got != filepath.Join(cfg.Paths.StateDir, "repo") {
		t.Errorf("RepoDir() = %s, want %s", got, filepath.Join(cfg.Paths.StateDir, "repo"))
	}

	if got, want := cfg.RuntimeCommand(), []string{"podman", "compose"}; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("RuntimeCommand() = %v, want %v", got, want)
	}

	if got := cfg.FloatingInterval(); got != 30*time.Minute {
		t.Errorf("FloatingInterval() = %v, want 30m", got)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	if !cfg.ForceSync() {
		t.Error("applyDefaults() did not enable force_sync")
	}
	if cfg.Stack.Command != "docker compose" {
		t.Errorf("applyDefaults() did not set runtime command, got %q", cfg.Stack.Command)
	}
	if len(cfg.Floating.Tags) != len(DefaultFloatingTags) {
		t.Errorf("applyDefaults() did not set floating tags, got %v", cfg.Floating.Tags)
	}
	if cfg.Notify.MinSeverity != "info" {
		t.Errorf("applyDefaults() did not set min_severity, got %q", cfg.Notify.MinSeverity)
	}

	// Explicit values must not be overwritten
	f := false
	cfg2 := Config{
		Repo:     RepoConfig{ForceSync: &f},
		Stack:    StackConfig{Command: "podman compose"},
		Floating: FloatingConfig{Tags: []string{"canary"}},
		Notify:   NotifyConfig{MinSeverity: "error"},
	}
	cfg2.applyDefaults()

	if cfg2.ForceSync() {
		t.Error("applyDefaults() overwrote explicit force_sync")
	}
	if cfg2.Stack.Command != "podman compose" {
		t.Errorf("applyDefaults() overwrote explicit command, got %q", cfg2.Stack.Command)
	}
	if len(cfg2.Floating.Tags) != 1 || cfg2.Floating.Tags[0] != "canary" {
		t.Errorf("applyDefaults() overwrote explicit tags, got %v", cfg2.Floating.Tags)
	}
	if cfg2.Notify.MinSeverity != "error" {
		t.Errorf("applyDefaults() overwrote explicit min_severity, got %q", cfg2.Notify.MinSeverity)
	}
}

func TestStackDir(t *testing.T) {
	tests := []struct {
		name string
		dir  string
		want string
	}{
		{
			name: "empty dir returns RepoDir",
			dir:  "",
			want: "/state/repo",
		},
		{
			name: "dir set returns RepoDir/dir",
			dir:  "deploy/prod",
			want: "/state/repo/deploy/prod",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Paths: PathsConfig{StateDir: "/state"},
				Stack: StackConfig{Dir: tt.dir},
			}
			if got := cfg.StackDir(); got != tt.want {
				t.Errorf("StackDir() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAuthMethod(t *testing.T) {
	tests := []struct {
		name string
		auth AuthConfig
		want string
	}{
		{
			name: "ssh key set",
			auth: AuthConfig{SSHKeyFile: "/key"},
			want: "ssh",
		},
		{
			name: "https token set",
			auth: AuthConfig{HTTPSTokenFile: "/token"},
			want: "https",
		},
		{
			name: "no auth",
			auth: AuthConfig{},
			want: "none",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Auth: tt.auth}
			if got := cfg.AuthMethod(); got != tt.want {
				t.Errorf("AuthMethod() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsHTTPS(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{
			name: "https url",
			url:  "https://github.com/test/stack.git",
			want: true,
		},
		{
			name: "ssh url",
			url:  "ssh://git@github.com/test/stack.git",
			want: false,
		},
		{
			name: "git@ url",
			url:  "git@github.com:test/stack.git",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Repo: RepoConfig{URL: tt.url}}
			if got := cfg.IsHTTPS(); got != tt.want {
				t.Errorf("IsHTTPS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSSH(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{
			name: "git@ url",
			url:  "git@github.com:test/stack.git",
			want: true,
		},
		{
			name: "ssh:// url",
			url:  "ssh://git@github.com/test/stack.git",
			want: true,
		},
		{
			name: "https url",
			url:  "https://github.com/test/stack.git",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Repo: RepoConfig{URL: tt.url}}
			if got := cfg.IsSSH(); got != tt.want {
				t.Errorf("IsSSH() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("COMPOSEWATCH_TEST_HOME", "/home/testuser")

	cfg := Config{
		Repo: RepoConfig{
			URL:    "https://github.com/${COMPOSEWATCH_TEST_HOME}/stack.git",
			Branch: "${COMPOSEWATCH_TEST_HOME}",
		},
		Stack: StackConfig{
			Dir:     "${COMPOSEWATCH_TEST_HOME}/deploy",
			Project: "${COMPOSEWATCH_TEST_HOME}",
			Command: "${COMPOSEWATCH_TEST_HOME}/bin/compose",
		},
		Paths: PathsConfig{
			StateDir: "${COMPOSEWATCH_TEST_HOME}/.local/state/composewatch",
		},
		Notify: NotifyConfig{
			WebhookURL: "https://hooks.example.com/${COMPOSEWATCH_TEST_HOME}",
		},
		Auth: AuthConfig{
			SSHKeyFile:     "${COMPOSEWATCH_TEST_HOME}/.ssh/key",
			HTTPSTokenFile: "${COMPOSEWATCH_TEST_HOME}/token",
		},
	}

	cfg.expandEnv()

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"Repo.URL", cfg.Repo.URL, "https://github.com//home/testuser/stack.git"},
		{"Repo.Branch", cfg.Repo.Branch, "/home/testuser"},
		{"Stack.Dir", cfg.Stack.Dir, "/home/testuser/deploy"},
		{"Stack.Project", cfg.Stack.Project, "/home/testuser"},
		{"Stack.Command", cfg.Stack.Command, "/home/testuser/bin/compose"},
		{"Paths.StateDir", cfg.Paths.StateDir, "/home/testuser/.local/state/composewatch"},
		{"Notify.WebhookURL", cfg.Notify.WebhookURL, "https://hooks.example.com//home/testuser"},
		{"Auth.SSHKeyFile", cfg.Auth.SSHKeyFile, "/home/testuser/.ssh/key"},
		{"Auth.HTTPSTokenFile", cfg.Auth.HTTPSTokenFile, "/home/testuser/token"},
	}

	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("expandEnv() %s = %s, want %s", c.name, c.got, c.want)
		}
	}
}
