// Package snapshot captures the canonical rendering of the compose stack
// and compares it against the rendering recorded by the last deploy. The
// rendering comes from the runtime's config resolution, which is
// deterministic for unchanged inputs, so byte equality of the text (via
// its hash) means the stack is unchanged.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// Snapshot is one canonical rendering of the stack configuration.
type Snapshot struct {
	Text    string
	Hash    string
	Project *composetypes.Project
}

// New hashes and parses a rendered stack configuration. A rendering that
// does not parse means the runtime misbehaved, which is fatal.
func New(text string) (*Snapshot, error) {
	sum := sha256.Sum256([]byte(text))

	project, err := parseProject(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered config: %w", err)
	}

	return &Snapshot{
		Text:    text,
		Hash:    hex.EncodeToString(sum[:]),
		Project: project,
	}, nil
}

// HasImages reports whether any service declares an image reference.
// Stacks built purely from local build contexts have nothing to pull.
func (s *Snapshot) HasImages() bool {
	for _, svc := range s.Project.Services {
		if svc.Image != "" {
			return true
		}
	}
	return false
}

// parseProject loads the rendered text through the compose loader. The
// text is already fully resolved, so file loading, extends and path
// normalization are disabled.
func parseProject(text string) (*composetypes.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(text), &dict); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if dict == nil {
		return nil, fmt.Errorf("empty configuration")
	}

	project, err := loader.LoadWithContext(context.Background(), composetypes.ConfigDetails{
		ConfigFiles: []composetypes.ConfigFile{
			{
				Content: []byte(text),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("composewatch", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, err
	}

	return project, nil
}

// RemovalDetected reports whether the change from the previous rendering
// removes an entire named resource: a top-level services/volumes/networks
// header or an indented block key disappearing. Internal edits to a
// surviving resource do not count. A missing previous rendering counts as
// removal, which forces the conservative full-restart path.
func RemovalDetected(prevText string, prevOK bool, currentText string) bool {
	if !prevOK {
		return true
	}

	current := make(map[string]int)
	for _, line := range strings.Split(currentText, "\n") {
		current[line]++
	}

	for _, line := range strings.Split(prevText, "\n") {
		if current[line] > 0 {
			current[line]--
			continue
		}
		if isSectionHeader(line) || isBlockKey(line) {
			return true
		}
	}
	return false
}

// isSectionHeader matches the unindented resource collection headers.
func isSectionHeader(line string) bool {
	switch strings.TrimRight(line, " \t") {
	case "services:", "volumes:", "networks:":
		return true
	}
	return false
}

// isBlockKey matches an indented mapping key with no inline value, the
// shape of a named resource entry in a rendered config.
func isBlockKey(line string) bool {
	trimmed := strings.TrimRight(line, " \t")
	if !strings.HasSuffix(trimmed, ":") {
		return false
	}
	content := strings.TrimLeft(trimmed, " ")
	indent := len(trimmed) - len(content)
	if indent < 2 {
		return false
	}
	if strings.HasPrefix(content, "-") || strings.HasPrefix(content, "#") {
		return false
	}
	return len(content) > 1
}
